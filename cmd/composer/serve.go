package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/aixgo-dev/composer/pkg/observability"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the configured agents and serve health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			c, stop, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer stop()

			if port == 0 {
				port = a.cfg.Observability.MetricsPort
			}
			srv := observability.NewServer(port, c.HealthChecker())

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("serving health and metrics", "port", port, "agents", c.Agents())
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
				a.logger.Info("shutting down")
			}

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (default observability.metrics_port)")
	return cmd
}
