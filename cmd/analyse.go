package cmd

import (
	"context"
	"fmt"

	"github.com/brensch/migrobot/internal/analyser"

	"github.com/spf13/cobra"
)

var analyseCmd = &cobra.Command{
	Use:   "analyse",
	Short: "Summarise migration outcomes and health per type from the ledger",
	Long:  `Aggregates the KPI ledger per migration type: job counts per outcome, success rate, missing documents, average duration and the latest monitoring health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		if err := analyser.RunAnalysis(context.Background(), getDB(), cmd.OutOrStdout(), logger); err != nil {
			logger.Error("Analysis completed with errors", "error", err)
			return fmt.Errorf("analysis failed: %w", err)
		}
		return nil
	},
}
