// Package server runs the HTTP listener of the lectio API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pilab-dev/lectio/log"
)

const shutdownTimeout = 10 * time.Second

// NewHTTPServer wraps handler in an http.Server with lectio's timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Run serves srv until ctx is done, then shuts it down gracefully. It returns
// the listen error, or the shutdown error after a clean stop.
func Run(ctx context.Context, srv *http.Server, logger log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			logger.Error(ctx, "HTTP server failed", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.WithoutCancel(ctx), "Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
