package orchestrator

import (
	"time"

	"github.com/brensch/migrobot/internal/db"
	"github.com/brensch/migrobot/internal/migration"
	"github.com/brensch/migrobot/internal/migtype"
	"github.com/brensch/migrobot/internal/notify"
)

// Summary is the outcome of one batch run.
type Summary struct {
	RunID    string
	Kind     migtype.Kind
	Started  time.Time
	Finished time.Time
	Results  []migration.Result
}

func (s Summary) Duration() time.Duration { return s.Finished.Sub(s.Started) }

func (s Summary) Processed() int { return len(s.Results) }

func (s Summary) Succeeded() []string {
	var out []string
	for _, r := range s.Results {
		if r.Outcome == migration.Success {
			out = append(out, r.Customer)
		}
	}
	return out
}

func (s Summary) Failed() []string {
	var out []string
	for _, r := range s.Results {
		if r.Outcome != migration.Success {
			out = append(out, r.Customer)
		}
	}
	return out
}

// Missing lists the customers with documents the external tool could not find.
func (s Summary) Missing() map[string]int {
	return s.perCustomer(func(r migration.Result) int { return r.Missing })
}

// NotFound lists the customers whose cmd scripts skipped missing source files.
func (s Summary) NotFound() map[string]int {
	return s.perCustomer(func(r migration.Result) int { return r.NotFound })
}

func (s Summary) perCustomer(count func(migration.Result) int) map[string]int {
	var out map[string]int
	for _, r := range s.Results {
		n := count(r)
		if n <= 0 {
			continue
		}
		if out == nil {
			out = make(map[string]int)
		}
		out[r.Customer] = n
	}
	return out
}

// Count returns how many jobs ended with outcome o.
func (s Summary) Count(o migration.Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Report renders the chat report. logFile is attached when non-empty.
func (s Summary) Report(logFile string) notify.Report {
	return notify.Report{
		MigType:   s.Kind.String(),
		Processed: s.Processed(),
		Success:   s.Succeeded(),
		Failed:    s.Failed(),
		Missing:   s.Missing(),
		NotFound:  s.NotFound(),
		Duration:  s.Duration(),
		LogFile:   logFile,
	}
}

// Transactions returns the ledger rows of every job in the run.
func (s Summary) Transactions() []db.Transaction {
	out := make([]db.Transaction, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, Transaction(r))
	}
	return out
}
