package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/retail-content-ingestor/internal/metrics"
)

const defaultShutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes the trigger API.
func newServeCmd() *cobra.Command {
	var withSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP trigger API",
		Long: `Serves health probes, Prometheus metrics and the /v1/runs API. With
--schedule the in-process cron scheduler runs alongside the server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), appInstance, withSchedule)
		},
	}
	cmd.Flags().BoolVar(&withSchedule, "schedule", false, "also run the cron scheduler")
	return cmd
}

func serve(ctx context.Context, appInstance App, withSchedule bool) error {
	metrics.Init()
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	apiServer := appInstance.Server()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if withSchedule {
		scheduler, err := appInstance.Scheduler()
		if err != nil {
			return err
		}
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		apiServer.Wait()
		return nil
	})
	err := g.Wait()
	logger.Info("shutdown complete")
	return err
}
