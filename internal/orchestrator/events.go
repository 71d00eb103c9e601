package orchestrator

import "github.com/brensch/migrobot/internal/migration"

type EventType int

const (
	EventJobStarted EventType = iota
	EventStage
	EventJobFinished
	EventBatchFinished
)

// Event reports batch progress.
type Event struct {
	Type     EventType
	Customer string
	// Index is the 1-based position of the job in the batch; for
	// EventBatchFinished it is the number of processed jobs.
	Index   int
	Total   int
	Stage   string
	Status  migration.StageStatus
	Outcome migration.Outcome
}
