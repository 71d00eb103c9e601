package cmd

import (
	"context"

	"github.com/brensch/migrobot/internal/db"

	"github.com/spf13/cobra"
)

var (
	stateLimit    int
	stateCustomer string
	stateEvent    string
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "View the stage event history of migration jobs",
	Long: `Queries the DuckDB event log and displays job and stage events, newest first.
Use flags to filter by customer or event type and to limit the output.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		logger.Debug("Querying database event log", "customer", stateCustomer, "event", stateEvent, "limit", stateLimit)

		err := db.DisplayHistory(context.Background(), getDB(), cmd.OutOrStdout(), stateCustomer, stateEvent, stateLimit)
		if err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateCustomer, "customer", "c", "", "Only show events of this customer directory")
	stateCmd.Flags().StringVarP(&stateEvent, "event", "e", "", "Filter records by event type (e.g. stage_failed, job_end, finalized)")
}
