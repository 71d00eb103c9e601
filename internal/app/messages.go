package app

import (
	"time"

	"github.com/brensch/migrobot/internal/orchestrator"
)

// EventMsg wraps one batch event for the view.
type EventMsg struct {
	orchestrator.Event
	At time.Time
}

// BatchDoneMsg is sent once the runner returned.
type BatchDoneMsg struct {
	Summary orchestrator.Summary
	Err     error
}

func NewEvent(e orchestrator.Event) EventMsg {
	return EventMsg{Event: e, At: time.Now()}
}
