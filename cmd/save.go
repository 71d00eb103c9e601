package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brensch/migrobot/internal/saver"

	"github.com/spf13/cobra"
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Saves the ledger tables to Parquet files",
	Long: `Saves each table of the DuckDB ledger (transactions, monitoring and the
stage event log) into a separate Parquet file in the configured output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		if cfg.OutputDir == "" {
			return fmt.Errorf("output directory (OutputDir) not configured")
		}

		logger.Info("Starting table save process...",
			slog.String("db_path", cfg.DbPath),
			slog.String("output_dir", cfg.OutputDir),
		)
		if err := saver.SaveTablesToParquet(context.Background(), getDB(), cfg.OutputDir, logger); err != nil {
			logger.Error("Save process completed with errors", "error", err)
			return fmt.Errorf("save failed: %w", err)
		}
		logger.Info("Table save process completed successfully.")
		return nil
	},
}
