package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Event types of the stage event log.
const (
	EventJobStart    = "job_start"
	EventJobEnd      = "job_end"
	EventStageStart  = "stage_start"
	EventStageEnd    = "stage_end"
	EventStageFailed = "stage_failed"
	EventFinalized   = "finalized"
	EventError       = "error"
)

// KPI marks stored on transactions.
const (
	MarkSuccess     = "SUCCESS"
	MarkBusiness    = "BUSINESS EXCEPTION"
	MarkApplication = "APPLICATION EXCEPTION"
)

// Monitoring statuses.
const (
	StatusGreen  = "GREEN"
	StatusYellow = "YELLOW"
	StatusRed    = "RED"
)

// HealthWindow is how many earlier monitoring rows feed the health score.
const HealthWindow = 9

const schemaSequenceSQL = `
CREATE SEQUENCE IF NOT EXISTS migration_event_log_id_seq;
CREATE SEQUENCE IF NOT EXISTS transaction_id_seq;
CREATE SEQUENCE IF NOT EXISTS monitoring_id_seq;
`

const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS migration_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('migration_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    customer        VARCHAR NOT NULL,
    mig_type        VARCHAR NOT NULL,
    stage           VARCHAR,
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_migration_event_log_customer ON migration_event_log (customer, mig_type);
CREATE INDEX IF NOT EXISTS idx_migration_event_log_event_time ON migration_event_log (event, event_timestamp);

CREATE TABLE IF NOT EXISTS transactions (
    transaction_id    BIGINT PRIMARY KEY DEFAULT nextval('transaction_id_seq'),
    run_id            VARCHAR NOT NULL,
    customer          VARCHAR NOT NULL,
    mig_type          VARCHAR NOT NULL,
    started           TIMESTAMP NOT NULL,
    finished          TIMESTAMP NOT NULL,
    duration_ms       BIGINT NOT NULL,
    mark              VARCHAR NOT NULL,
    failure_stage     VARCHAR,
    message           VARCHAR,
    missing_documents INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_transactions_run ON transactions (run_id);

CREATE TABLE IF NOT EXISTS monitoring (
    monitoring_id BIGINT PRIMARY KEY DEFAULT nextval('monitoring_id_seq'),
    run_id        VARCHAR NOT NULL,
    mig_type      VARCHAR NOT NULL,
    status        VARCHAR NOT NULL,
    health        INTEGER NOT NULL,
    recorded_at   TIMESTAMP NOT NULL
);
`

// InitializeSchema creates the sequences and tables in the correct order.
func InitializeSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// LogStageEvent inserts a new record into the stage event log.
func LogStageEvent(ctx context.Context, db *sql.DB, runID, customer, migType, stage, event, message string, duration *time.Duration) error {
	query := `
        INSERT INTO migration_event_log (run_id, customer, mig_type, stage, event, event_timestamp, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if duration != nil {
		durationMs = sql.NullInt64{Int64: duration.Milliseconds(), Valid: true}
	}
	_, err := db.ExecContext(ctx, query,
		runID,
		customer,
		migType,
		sql.NullString{String: stage, Valid: stage != ""},
		event,
		time.Now().UTC(),
		sql.NullString{String: message, Valid: message != ""},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", event, customer, err)
	}
	return nil
}

// Transaction is one finished customer job in the KPI ledger.
type Transaction struct {
	RunID        string
	Customer     string
	MigType      string
	Started      time.Time
	Finished     time.Time
	Mark         string
	FailureStage string
	Message      string
	Missing      int
}

// StatusFor maps a KPI mark onto its monitoring status.
func StatusFor(mark string) string {
	switch mark {
	case MarkSuccess:
		return StatusGreen
	case MarkBusiness:
		return StatusYellow
	default:
		return StatusRed
	}
}

// ComputeHealth counts GREEN among the previous statuses (newest first,
// at most HealthWindow considered) plus one if current is GREEN.
func ComputeHealth(previous []string, current string) int {
	health := 0
	for i, s := range previous {
		if i >= HealthWindow {
			break
		}
		if s == StatusGreen {
			health++
		}
	}
	if current == StatusGreen {
		health++
	}
	return health
}

// RecordOutcome writes the transaction and its monitoring row in one
// database transaction and returns the computed health.
func RecordOutcome(ctx context.Context, db *sql.DB, t Transaction) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO transactions (run_id, customer, mig_type, started, finished, duration_ms, mark, failure_stage, message, missing_documents)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `,
		t.RunID, t.Customer, t.MigType, t.Started.UTC(), t.Finished.UTC(),
		t.Finished.Sub(t.Started).Milliseconds(), t.Mark,
		sql.NullString{String: t.FailureStage, Valid: t.FailureStage != ""},
		sql.NullString{String: t.Message, Valid: t.Message != ""},
		t.Missing,
	)
	if err != nil {
		return 0, fmt.Errorf("insert transaction for '%s': %w", t.Customer, err)
	}

	rows, err := tx.QueryContext(ctx, `
        SELECT status FROM monitoring
        WHERE mig_type = ?
        ORDER BY recorded_at DESC, monitoring_id DESC
        LIMIT ?;
    `, t.MigType, HealthWindow)
	if err != nil {
		return 0, fmt.Errorf("query previous monitoring rows: %w", err)
	}
	var previous []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan monitoring row: %w", err)
		}
		previous = append(previous, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate monitoring rows: %w", err)
	}
	rows.Close()

	status := StatusFor(t.Mark)
	health := ComputeHealth(previous, status)
	_, err = tx.ExecContext(ctx, `
        INSERT INTO monitoring (run_id, mig_type, status, health, recorded_at)
        VALUES (?, ?, ?, ?, ?);
    `, t.RunID, t.MigType, status, health, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert monitoring row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ledger transaction: %w", err)
	}
	return health, nil
}

// TransactionsForRun returns the ledger rows written by one batch run.
func TransactionsForRun(ctx context.Context, db *sql.DB, runID string) ([]Transaction, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT run_id, customer, mig_type, started, finished, mark, failure_stage, message, missing_documents
        FROM transactions
        WHERE run_id = ?
        ORDER BY transaction_id;
    `, runID)
	if err != nil {
		return nil, fmt.Errorf("query transactions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var stage, msg sql.NullString
		if err := rows.Scan(&t.RunID, &t.Customer, &t.MigType, &t.Started, &t.Finished, &t.Mark, &stage, &msg, &t.Missing); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		t.FailureStage, t.Message = stage.String, msg.String
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return out, nil
}

// KPI aggregates the ledger for one migration type.
type KPI struct {
	MigType     string
	Total       int
	Success     int
	Business    int
	Application int
	Missing     int
	AvgDuration time.Duration
	LastHealth  int
	LastStatus  string
}

// KPISummary aggregates transactions per migration type, joined with the
// latest monitoring row of each type.
func KPISummary(ctx context.Context, db *sql.DB) ([]KPI, error) {
	query := `
        WITH latest AS (
            SELECT mig_type, status, health,
                   ROW_NUMBER() OVER (PARTITION BY mig_type ORDER BY recorded_at DESC, monitoring_id DESC) AS rn
            FROM monitoring
        )
        SELECT t.mig_type,
               COUNT(*),
               COUNT(*) FILTER (WHERE t.mark = ?),
               COUNT(*) FILTER (WHERE t.mark = ?),
               COUNT(*) FILTER (WHERE t.mark = ?),
               CAST(COALESCE(SUM(t.missing_documents), 0) AS BIGINT),
               CAST(COALESCE(AVG(t.duration_ms), 0) AS BIGINT),
               COALESCE(ANY_VALUE(l.health), 0),
               COALESCE(ANY_VALUE(l.status), '')
        FROM transactions t
        LEFT JOIN latest l ON l.mig_type = t.mig_type AND l.rn = 1
        GROUP BY t.mig_type
        ORDER BY t.mig_type;
    `
	rows, err := db.QueryContext(ctx, query, MarkSuccess, MarkBusiness, MarkApplication)
	if err != nil {
		return nil, fmt.Errorf("query kpi summary: %w", err)
	}
	defer rows.Close()

	var out []KPI
	for rows.Next() {
		var k KPI
		var avgMs int64
		if err := rows.Scan(&k.MigType, &k.Total, &k.Success, &k.Business, &k.Application, &k.Missing, &avgMs, &k.LastHealth, &k.LastStatus); err != nil {
			return nil, fmt.Errorf("scan kpi row: %w", err)
		}
		k.AvgDuration = time.Duration(avgMs) * time.Millisecond
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kpi rows: %w", err)
	}
	return out, nil
}

// DisplayHistory writes the stage event log, newest first.
func DisplayHistory(ctx context.Context, db *sql.DB, w io.Writer, customerFilter, eventFilter string, limit int) error {
	query := `
        SELECT run_id, customer, mig_type, stage, event, event_timestamp, message, duration_ms
        FROM migration_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if customerFilter != "" {
		conditions = append(conditions, fmt.Sprintf("customer = $%d", argCounter))
		args = append(args, customerFilter)
		argCounter++
	}
	if eventFilter != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, eventFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	fmt.Fprintf(w, "--- Migration Event History (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-10s | %-20s | %-5s | %-30s | %-13s | %-25s | %-10s | %s\n",
		"Run", "Customer", "Type", "Stage", "Event", "Timestamp (UTC)", "DurationMS", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 150))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query event log: %w \n Query: %s \n Args: %v", err, query, args)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var runID, customer, migType, event string
		var timestamp time.Time
		var stage, message sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&runID, &customer, &migType, &stage, &event, &timestamp, &message, &durationMs); err != nil {
			return fmt.Errorf("failed to scan event log row: %w", err)
		}
		durationStr := ""
		if durationMs.Valid {
			durationStr = fmt.Sprintf("%d", durationMs.Int64)
		}
		fmt.Fprintf(w, "%-10s | %-20s | %-5s | %-30s | %-13s | %-25s | %-10s | %s\n",
			shortID(runID), customer, migType, stage.String, event, timestamp.Format(time.RFC3339), durationStr, message.String)
		count++
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating event log rows: %w", err)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", count)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
