package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pilab-dev/lectio/config"
	"github.com/pilab-dev/lectio/log"
	"github.com/spf13/cobra"
)

const appName = "lectio"

var (
	cfgFile   string
	cfg       *config.Config
	appLogger log.Logger
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "lectio manages the session and profile of the reading app",
	Long: `A command-line client for the lectio session manager: create an account,
sign in and out, reset a password and read or edit the profile document.
The signed-in session is kept in session.token_file between runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		appLogger = setupLogging(cfg, os.Stderr)
		appLogger.Debug(cmd.Context(), "Configuration loaded", map[string]any{
			"backend":       cfg.Backend,
			"session_store": cfg.Session.Store,
		})
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withApp builds the app for one command invocation and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default searches ./%[1]s.yaml, $HOME/.%[1]s and /etc/%[1]s)", appName))
}
