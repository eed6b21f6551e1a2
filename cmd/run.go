package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/orchestrator"
)

// newRunCmd creates the 'run' subcommand, which executes a single period and
// exits non-zero when any task failed.
func newRunCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one ingestion period and exits",
		Long: `Runs the tasks selected by --period once: hourly runs the social feed,
daily runs the site crawl and retention cleanup, all runs every task.
Unknown periods select all.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, known := orchestrator.ParsePeriod(period)
			if !known {
				appInstance.Logger().Warn("unknown period; running all tasks", zap.String("period", period))
			}
			report, err := appInstance.Run(cmd.Context(), p, "cli")
			if errors.Is(err, orchestrator.ErrRunInProgress) {
				return fmt.Errorf("run %s: %w", p, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), orchestrator.Summary(report))
			if err != nil {
				return fmt.Errorf("run %s: %w", p, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", string(orchestrator.PeriodAll), "period to run: hourly, daily or all")
	return cmd
}
