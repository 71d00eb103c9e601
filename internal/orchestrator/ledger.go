package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/brensch/migrobot/internal/db"
	"github.com/brensch/migrobot/internal/migration"
	"github.com/brensch/migrobot/internal/migtype"
)

// Ledger records job progress and outcomes in the DuckDB ledger.
type Ledger struct {
	db     *sql.DB
	kind   migtype.Kind
	logger *slog.Logger

	mu     sync.Mutex
	starts map[string]time.Time
}

func NewLedger(conn *sql.DB, kind migtype.Kind, logger *slog.Logger) *Ledger {
	return &Ledger{db: conn, kind: kind, logger: logger, starts: make(map[string]time.Time)}
}

func (l *Ledger) JobStarted(ctx context.Context, runID, customer string) error {
	return db.LogStageEvent(ctx, l.db, runID, customer, l.kind.String(), "", db.EventJobStart, "", nil)
}

// StageEvent logs a stage transition. Finished and failed stages carry the
// time since the matching start.
func (l *Ledger) StageEvent(ctx context.Context, runID, customer, stage string, status migration.StageStatus, stageErr error) error {
	key := customer + "/" + stage
	var d *time.Duration

	l.mu.Lock()
	if status == migration.StageStarted {
		l.starts[key] = time.Now()
	} else if t, ok := l.starts[key]; ok {
		elapsed := time.Since(t)
		d = &elapsed
		delete(l.starts, key)
	}
	l.mu.Unlock()

	msg := ""
	if stageErr != nil {
		msg = stageErr.Error()
	}
	return db.LogStageEvent(ctx, l.db, runID, customer, l.kind.String(), stage, string(status), msg, d)
}

// RecordOutcome stores the KPI transaction and the closing job event.
func (l *Ledger) RecordOutcome(ctx context.Context, res migration.Result) error {
	health, err := db.RecordOutcome(ctx, l.db, Transaction(res))
	if err != nil {
		l.logger.Error("Failed to record job outcome.", "customer", res.Customer, "error", err)
	} else {
		l.logger.Debug("Job outcome recorded.", "customer", res.Customer, "mark", res.Outcome.Mark(), "health", health)
	}
	d := res.Duration()
	evErr := db.LogStageEvent(ctx, l.db, res.RunID, res.Customer, l.kind.String(), res.Stage, db.EventJobEnd, res.Outcome.Mark(), &d)
	return errors.Join(err, evErr)
}

// Finalized logs the terminal rename of the customer directory.
func (l *Ledger) Finalized(ctx context.Context, runID, customer, newPath string, renameErr error) error {
	if renameErr != nil {
		return db.LogStageEvent(ctx, l.db, runID, customer, l.kind.String(), stageFinalize, db.EventError, renameErr.Error(), nil)
	}
	return db.LogStageEvent(ctx, l.db, runID, customer, l.kind.String(), stageFinalize, db.EventFinalized, newPath, nil)
}

// Transaction converts a pipeline result into its ledger row.
func Transaction(res migration.Result) db.Transaction {
	return db.Transaction{
		RunID:        res.RunID,
		Customer:     res.Customer,
		MigType:      res.Kind.String(),
		Started:      res.Started,
		Finished:     res.Finished,
		Mark:         res.Outcome.Mark(),
		FailureStage: res.Stage,
		Message:      res.Reason,
		Missing:      res.Missing,
	}
}
