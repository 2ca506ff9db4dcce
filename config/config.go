package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Backend names accepted for stores.
const (
	BackendMongoDB = "mongodb"
	BackendMemory  = "memory"
	BackendRedis   = "redis"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	// Audit is the audit log destination: a file path, "stdout" or "off".
	// Empty means stdout for the server and off for CLI commands.
	Audit string `mapstructure:"audit"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type SessionConfig struct {
	// Store is where issued session and reset tokens live: redis or memory.
	Store string        `mapstructure:"store"`
	TTL   time.Duration `mapstructure:"ttl"`
	// TokenFile is where the CLI keeps the signed-in session between runs.
	TokenFile string `mapstructure:"token_file"`
	Secret    string `mapstructure:"secret"`
	Issuer    string `mapstructure:"issuer"`
}

type SecurityConfig struct {
	MaxFailedLogins int           `mapstructure:"max_failed_logins"`
	LockoutWindow   time.Duration `mapstructure:"lockout_window"`
	ResetTokenTTL   time.Duration `mapstructure:"reset_token_ttl"`
	ResetRateLimit  int           `mapstructure:"reset_rate_limit"`
	ResetRateWindow time.Duration `mapstructure:"reset_rate_window"`
	BcryptCost      int           `mapstructure:"bcrypt_cost"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Traces      bool   `mapstructure:"traces"`
}

// Config is the full lectio configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Backend   string          `mapstructure:"backend"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Session   SessionConfig   `mapstructure:"session"`
	Security  SecurityConfig  `mapstructure:"security"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.audit", "")

	v.SetDefault("backend", BackendMemory)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "lectio")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "lectio")

	v.SetDefault("session.store", BackendMemory)
	v.SetDefault("session.ttl", 30*24*time.Hour)
	v.SetDefault("session.token_file", defaultTokenFile())
	v.SetDefault("session.secret", "")
	v.SetDefault("session.issuer", "lectio")

	v.SetDefault("security.max_failed_logins", 5)
	v.SetDefault("security.lockout_window", 15*time.Minute)
	v.SetDefault("security.reset_token_ttl", time.Hour)
	v.SetDefault("security.reset_rate_limit", 3)
	v.SetDefault("security.reset_rate_window", time.Hour)
	v.SetDefault("security.bcrypt_cost", 0)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("telemetry.service_name", "lectio")
	v.SetDefault("telemetry.traces", false)
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".lectio", "session.yaml")
	}
	return filepath.Join(home, ".lectio", "session.yaml")
}

// Load reads configuration from file, LECTIO_* environment variables and
// defaults, in that order of precedence after the environment. An empty
// configFile searches for lectio.yaml in ., $HOME/.lectio and /etc/lectio.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("lectio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lectio")
		v.AddConfigPath("/etc/lectio/")
	}

	v.SetEnvPrefix("LECTIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine: defaults and environment still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot check by type alone.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMongoDB, BackendMemory:
	default:
		return fmt.Errorf("invalid backend %q: want %s or %s", c.Backend, BackendMongoDB, BackendMemory)
	}
	switch c.Session.Store {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("invalid session store %q: want %s or %s", c.Session.Store, BackendRedis, BackendMemory)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return nil
}

// LogLevel returns the parsed zerolog level, info when unparsable.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
