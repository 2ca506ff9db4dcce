package cmd

import (
	"context"
	"os/signal"
	"syscall"

	lectioecho "github.com/pilab-dev/lectio/api/echo"
	"github.com/pilab-dev/lectio/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if serveAddr == "" {
			serveAddr = cfg.HTTP.Addr
		}
		if cfg.Log.Audit == "" {
			cfg.Log.Audit = "stdout"
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return withApp(cmd, func(_ context.Context, a *app) error {
			api := lectioecho.NewSessionAPI(a.manager, a.provider, a.issuer, a.registry, a.health)
			e := lectioecho.NewServer(api, cfg.Telemetry.ServiceName)
			return server.Run(ctx, server.NewHTTPServer(serveAddr, e), a.logger)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default http.addr)")
	rootCmd.AddCommand(serveCmd)
}
