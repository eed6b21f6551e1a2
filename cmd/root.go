// Package cmd defines and implements the CLI commands for the ingestor
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/api"
	"github.com/JakeFAU/retail-content-ingestor/internal/app"
	"github.com/JakeFAU/retail-content-ingestor/internal/config"
	"github.com/JakeFAU/retail-content-ingestor/internal/logging"
	"github.com/JakeFAU/retail-content-ingestor/internal/orchestrator"
	"github.com/JakeFAU/retail-content-ingestor/internal/schedule"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of application services the commands use. Tests inject a
// fake through newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Run(ctx context.Context, period orchestrator.Period, trigger string) (orchestrator.Report, error)
	Bootstrap(ctx context.Context) error
	Server() *api.Server
	Scheduler() (*schedule.Scheduler, error)
}

// newApp is the application factory. It is a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is replaced in tests to keep output quiet.
var newLogger = func(cfg config.LoggingConfig) (*zap.Logger, error) {
	return logging.New(logging.Config{Development: cfg.Development, Level: cfg.Level})
}

// newRootCmd creates the root command and its subcommands. The App built
// before a subcommand runs is stored in *opened so the caller can close it
// whether or not the subcommand succeeded.
func newRootCmd(opened *App) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ingestor",
		Short: "Keeps a vector index in sync with retail web pages and social feeds.",
		Long: `ingestor crawls configured retail sites and social feed pages, extracts
their text, and keeps a Qdrant collection in sync: unchanged documents are
only touched, changed documents are fully replaced, and stale points are
removed by the retention task.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application once the flags are parsed and stores it in
		// the context for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			*opened = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and INGEST_* environment variables apply)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newBootstrapCmd())
	return cmd
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestor: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	var opened App
	root := newRootCmd(&opened)
	root.SetArgs(args)
	root.SetOut(out)
	defer func() {
		if opened != nil {
			opened.Close()
		}
	}()
	return root.ExecuteContext(ctx)
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
