package saver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb" // Register DuckDB driver
)

// SaveTablesToParquet saves each ledger table to a separate Parquet file in
// outputDir using DuckDB's COPY.
func SaveTablesToParquet(ctx context.Context, db *sql.DB, outputDir string, logger *slog.Logger) error {
	logger.Info("--- Starting DuckDB Table to Parquet Save Process ---")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", outputDir, err)
	}
	logger.Info("Output directory ensured.", slog.String("dir", outputDir))

	rows, err := db.QueryContext(ctx, `PRAGMA show_tables;`)
	if err != nil {
		return fmt.Errorf("failed to query tables: %w", err)
	}
	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating tables: %w", err)
	}
	rows.Close()

	if len(tableNames) == 0 {
		logger.Info("No tables found in the database to save.")
		return nil
	}
	logger.Info("Found tables to save.", slog.Int("count", len(tableNames)))

	var wg sync.WaitGroup
	var saveErrorsMu sync.Mutex
	var saveErrors []error

	for _, tableName := range tableNames {
		if ctx.Err() != nil {
			logger.Warn("Context cancelled before saving all tables.", "error", ctx.Err())
			break
		}
		wg.Add(1)
		go func(tn string) {
			defer wg.Done()
			l := logger.With(slog.String("table", tn))
			l.Info("Saving table to Parquet...")

			out, err := copyTable(ctx, db, tn, outputDir)
			if err != nil {
				l.Error("Failed to save table to Parquet.", "error", err)
				saveErrorsMu.Lock()
				saveErrors = append(saveErrors, fmt.Errorf("save %s: %w", tn, err))
				saveErrorsMu.Unlock()
				return
			}
			l.Info("Successfully saved table to Parquet.", slog.String("output_path", out))
		}(tableName)
	}

	logger.Info("Waiting for save operations to complete...")
	wg.Wait()

	finalErr := errors.Join(saveErrors...)
	if finalErr != nil {
		logger.Error("Save process completed with errors.", "error", finalErr)
		return finalErr
	}
	logger.Info("--- DuckDB Table to Parquet Save Process Finished Successfully ---")
	return nil
}

func copyTable(ctx context.Context, db *sql.DB, table, outputDir string) (string, error) {
	safeFilename := strings.ReplaceAll(table, `"`, "")
	safeFilename = strings.ReplaceAll(safeFilename, "/", "_")
	outputFilePath := filepath.Join(outputDir, safeFilename+".parquet")
	duckdbFilePath := strings.ReplaceAll(outputFilePath, `\`, `/`) // DuckDB needs forward slashes

	quotedTableName := fmt.Sprintf(`"%s"`, strings.ReplaceAll(table, `"`, `""`))
	copySQL := fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET);`,
		quotedTableName,
		strings.ReplaceAll(duckdbFilePath, "'", "''"),
	)
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		return "", err
	}
	return outputFilePath, nil
}
