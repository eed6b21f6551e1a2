package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newBootstrapCmd creates the 'bootstrap' subcommand.
func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Creates the vector collection and its payload indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Bootstrap(cmd.Context()); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			appInstance.Logger().Info("collection and payload indexes ready")
			return nil
		},
	}
}
