// Package serve implements the command running the HTTP API server.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acrenier/imagerie/internal/api"
	"github.com/acrenier/imagerie/internal/bootstrap"
	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/logging"
	"github.com/spf13/cobra"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the training job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				settings.WebServer.Port = port
			}
			return runServe(cmd.Context(), settings)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides the config file)")
	return cmd
}

func runServe(ctx context.Context, settings *conf.Settings) error {
	services, err := bootstrap.Build(settings)
	if err != nil {
		return err
	}
	defer services.Close()

	queueCtx, cancelQueue := context.WithCancel(ctx)
	defer cancelQueue()
	services.Queue.Start(queueCtx)

	server := api.New(settings, services.Store, services.Blobs, services.Manager,
		services.Queue, services.Taxonomy, services.Metrics)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	logging.Info("Server started", "port", settings.WebServer.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("Shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
