package cmd

import (
	"github.com/spf13/cobra"
)

// newScheduleCmd creates the 'schedule' subcommand for deployments without an
// external scheduler.
func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Runs hourly and daily periods on their cron schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			scheduler, err := appInstance.Scheduler()
			if err != nil {
				return err
			}
			appInstance.Logger().Info("scheduler started")
			return scheduler.Run(cmd.Context())
		},
	}
}
