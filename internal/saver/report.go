package saver

import (
	"fmt"
	"strconv"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/migrobot/internal/db"
)

var reportSchema = []string{
	"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8",
	"name=customer, type=BYTE_ARRAY, convertedtype=UTF8",
	"name=mig_type, type=BYTE_ARRAY, convertedtype=UTF8",
	"name=mark, type=BYTE_ARRAY, convertedtype=UTF8",
	"name=failure_stage, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL",
	"name=message, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL",
	"name=started_ms, type=INT64",
	"name=duration_ms, type=INT64",
	"name=missing_documents, type=INT32",
}

// WriteRunReport writes one row per finished job of a batch run to a
// Snappy-compressed Parquet file at path.
func WriteRunReport(path string, txs []db.Transaction) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet %s: %w", path, err)
	}
	pw, err := writer.NewCSVWriter(reportSchema, fw, 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("init writer for %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, t := range txs {
		rec := []*string{
			ptr(t.RunID),
			ptr(t.Customer),
			ptr(t.MigType),
			ptr(t.Mark),
			optional(t.FailureStage),
			optional(t.Message),
			ptr(strconv.FormatInt(t.Started.UnixMilli(), 10)),
			ptr(strconv.FormatInt(t.Finished.Sub(t.Started).Milliseconds(), 10)),
			ptr(strconv.Itoa(t.Missing)),
		}
		if err := pw.WriteString(rec); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("write report row for %s: %w", t.Customer, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finalize parquet %s: %w", path, err)
	}
	return fw.Close()
}

func ptr(s string) *string { return &s }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
