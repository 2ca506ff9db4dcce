package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pilab-dev/lectio"
	"github.com/pilab-dev/lectio/cache"
	cacheredis "github.com/pilab-dev/lectio/cache/redis"
	"github.com/pilab-dev/lectio/config"
	"github.com/pilab-dev/lectio/domain"
	"github.com/pilab-dev/lectio/idp"
	"github.com/pilab-dev/lectio/internal/audit"
	"github.com/pilab-dev/lectio/internal/auth"
	"github.com/pilab-dev/lectio/internal/metrics"
	"github.com/pilab-dev/lectio/log"
	"github.com/pilab-dev/lectio/memory"
	"github.com/pilab-dev/lectio/mongodb"
	"github.com/pilab-dev/lectio/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// app holds everything a command needs, built from the configuration.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	manager  *lectio.Manager
	provider *idp.LocalProvider
	issuer   *idp.TokenIssuer
	registry *prometheus.Registry

	mongo    *mongodb.Client
	sessions cache.SessionStore
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	audit    io.Closer
}

// setupLogging configures the global zerolog logger and returns the adapter
// handed to the manager.
func setupLogging(cfg *config.Config, out io.Writer) log.Logger {
	zerolog.SetGlobalLevel(cfg.LogLevel())
	if cfg.Log.Pretty {
		zlog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		zlog.Logger = zerolog.New(out).With().Timestamp().Logger()
	}
	return log.FromZerolog(zlog.Logger)
}

// openAudit points the audit log at the configured destination.
func openAudit(dest string) (io.Closer, error) {
	switch dest {
	case "", "off":
		audit.SetOutput(io.Discard)
		return nil, nil
	case "stdout":
		audit.SetOutput(os.Stdout)
		return nil, nil
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	audit.SetOutput(f)
	return f, nil
}

// newApp connects the stores, restores the persisted session and returns a
// resolved manager. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *app, err error) {
	if cfg.Session.Secret == "" {
		return nil, errors.New("session.secret is not set (LECTIO_SESSION_SECRET)")
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
		}
	}()

	if a.audit, err = openAudit(cfg.Log.Audit); err != nil {
		return nil, err
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(a.registry)

	if cfg.Telemetry.Traces {
		a.tp, err = tracing.InitTracerProvider(tracing.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Output:      os.Stderr,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracer provider: %w", err)
		}
	}
	if a.mp, err = tracing.InitMeterProvider(a.registry); err != nil {
		return nil, fmt.Errorf("init meter provider: %w", err)
	}

	users, profiles, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	if a.sessions, err = a.openSessions(ctx); err != nil {
		return nil, err
	}

	if a.issuer, err = idp.NewTokenIssuer(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.TTL); err != nil {
		return nil, err
	}

	a.provider = idp.NewLocalProvider(
		users,
		a.sessions,
		auth.NewBcryptPasswordHasher(cfg.Security.BcryptCost),
		a.issuer,
		idp.NewFileTokenStore(cfg.Session.TokenFile),
		idp.NewLogMailer(zlog.Logger),
		idp.Config{
			MaxFailedLogins: cfg.Security.MaxFailedLogins,
			LockoutWindow:   cfg.Security.LockoutWindow,
			ResetTokenTTL:   cfg.Security.ResetTokenTTL,
			ResetRateLimit:  cfg.Security.ResetRateLimit,
			ResetRateWindow: cfg.Security.ResetRateWindow,
		},
	)
	a.manager = lectio.NewManager(a.provider, profiles, lectio.WithLogger(logger))

	if restoreErr := a.provider.Restore(ctx); restoreErr != nil {
		logger.Warn(ctx, "Could not restore the saved session", map[string]any{"error": restoreErr.Error()})
	}
	if _, err = a.manager.WaitResolved(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (domain.UserRepository, domain.ProfileStore, error) {
	switch a.cfg.Backend {
	case config.BackendMongoDB:
		client, err := mongodb.Connect(ctx, a.cfg.Mongo.URI, a.cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		a.mongo = client

		users, err := mongodb.NewUserRepository(ctx, client.Database())
		if err != nil {
			return nil, nil, err
		}
		return users, mongodb.NewProfileStore(client.Database()), nil
	default:
		a.logger.Warn(ctx, "Using the in-memory backend; accounts are lost on exit")
		return memory.NewUserRepository(), memory.NewProfileStore(), nil
	}
}

func (a *app) openSessions(ctx context.Context) (cache.SessionStore, error) {
	if a.cfg.Session.Store != config.BackendRedis {
		return cache.NewMemorySessionStore(), nil
	}

	client, err := cacheredis.Connect(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return cacheredis.NewSessionStore(client, a.cfg.Redis.Prefix), nil
}

// health pings the stores that have a network behind them.
func (a *app) health(ctx context.Context) error {
	if a.mongo != nil {
		return a.mongo.Ping(ctx)
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.manager != nil {
		_ = a.manager.Close()
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			zlog.Warn().Err(err).Msg("Failed to close session store")
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			zlog.Warn().Err(err).Msg("Failed to disconnect from MongoDB")
		}
	}
	tracing.Shutdown(ctx, a.tp, a.mp)
	if a.audit != nil {
		_ = a.audit.Close()
	}
}
