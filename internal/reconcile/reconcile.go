// Package reconcile compares two independently derived counts of documents
// at each checkpoint of a migration. A mismatch is reported as a failed
// Result; only inputs that prove an earlier step produced nothing are errors.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/migtype"
)

// Checkpoint names one reconciliation gate.
type Checkpoint string

const (
	CmdVsDocs          Checkpoint = "cmd_vs_docs"
	CmdVsDossiers      Checkpoint = "cmd_vs_dossiers"
	CountersVsCmd      Checkpoint = "counters_vs_cmd"
	CountersVsDossiers Checkpoint = "counters_vs_dossiers"
	IndexVsZips        Checkpoint = "index_vs_zips"
)

// ErrZeroCount means one side of a checkpoint counted nothing.
var ErrZeroCount = errors.New("zero count")

// Mismatch is a per-company disagreement.
type Mismatch struct {
	ID          string
	Left, Right int
}

// Result is the outcome of one checkpoint.
type Result struct {
	Checkpoint Checkpoint
	Passed     bool
	Expected   int
	Actual     int
	// Missing is the tolerated document loss, MLM only.
	Missing    int
	Mismatches []Mismatch
}

func (r Result) String() string {
	if len(r.Mismatches) > 0 {
		return fmt.Sprintf("%s: %d mismatching ids %v", r.Checkpoint, len(r.Mismatches), r.Mismatches)
	}
	return fmt.Sprintf("%s: expected %d, counted %d", r.Checkpoint, r.Expected, r.Actual)
}

// Reconciler holds the tunables of every checkpoint.
type Reconciler struct {
	RowsPerMove      int
	ExtraArtifacts   map[migtype.Kind]int
	MLMLossTolerance int
	logger           *slog.Logger
}

func New(cfg config.ReconcileConfig, logger *slog.Logger) *Reconciler {
	extra := make(map[migtype.Kind]int, len(cfg.ExtraArtifacts))
	for k, v := range cfg.ExtraArtifacts {
		extra[migtype.Kind(strings.ToUpper(k))] = v
	}
	rows := cfg.RowsPerMove
	if rows < 1 {
		rows = 1
	}
	return &Reconciler{
		RowsPerMove:      rows,
		ExtraArtifacts:   extra,
		MLMLossTolerance: cfg.MLMLossTolerance,
		logger:           logger,
	}
}

// CmdVsDocs compares the cmd move rows against the regular files extracted
// into DOCS. Each DOCS file accounts for RowsPerMove script rows.
func (r *Reconciler) CmdVsDocs(moveRows, docsFiles int) (Result, error) {
	if moveRows == 0 || docsFiles == 0 {
		r.logger.Error("Zero count in cmd vs DOCS checkpoint.", "cmd_rows", moveRows, "docs_files", docsFiles)
		return Result{Checkpoint: CmdVsDocs}, fmt.Errorf("%s: cmd rows %d, DOCS files %d: %w", CmdVsDocs, moveRows, docsFiles, ErrZeroCount)
	}
	res := Result{
		Checkpoint: CmdVsDocs,
		Expected:   docsFiles * r.RowsPerMove,
		Actual:     moveRows,
	}
	res.Passed = res.Expected == res.Actual
	r.report(res, "rows_per_move", r.RowsPerMove)
	return res, nil
}

// CmdVsDossiers compares the cmd move rows against files found in the
// e-dossier folder(s) after the script ran, minus the artifacts the external
// tool leaves next to the documents. MLM accepts a bounded loss.
func (r *Reconciler) CmdVsDossiers(kind migtype.Kind, moveRows, dossierFiles int) Result {
	offset := r.ExtraArtifacts[kind]
	docs := dossierFiles - offset
	res := Result{
		Checkpoint: CmdVsDossiers,
		Expected:   moveRows,
		Actual:     docs,
	}
	if kind == migtype.MLM {
		diff := moveRows - docs
		if diff < 0 {
			diff = -diff
		}
		res.Passed = diff <= r.MLMLossTolerance
		res.Missing = max(moveRows-docs, 0)
	} else {
		res.Passed = docs == moveRows
	}
	r.report(res, "mig_type", kind.String(), "extra_artifacts", offset, "missing", res.Missing)
	return res
}

// CountersVsCmd compares migrated counters per company id with move rows of
// each company's cmd script. Any single mismatch fails the checkpoint.
func (r *Reconciler) CountersVsCmd(counters, cmdRows map[string]int) (Result, error) {
	return r.perID(CountersVsCmd, counters, cmdRows)
}

// CountersVsDossiers compares migrated counters per company id with files
// in each company's dossier folder.
func (r *Reconciler) CountersVsDossiers(counters, dossiers map[string]int) (Result, error) {
	return r.perID(CountersVsDossiers, counters, dossiers)
}

func (r *Reconciler) perID(cp Checkpoint, left, right map[string]int) (Result, error) {
	ids := map[string]struct{}{}
	for id := range left {
		ids[id] = struct{}{}
	}
	for id := range right {
		ids[id] = struct{}{}
	}
	if len(ids) == 0 {
		r.logger.Error("No company ids to reconcile.", "checkpoint", cp)
		return Result{Checkpoint: cp}, fmt.Errorf("%s: no company ids: %w", cp, ErrZeroCount)
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	res := Result{Checkpoint: cp}
	for _, id := range sorted {
		l, rr := left[id], right[id]
		res.Expected += l
		res.Actual += rr
		if l != rr {
			res.Mismatches = append(res.Mismatches, Mismatch{ID: id, Left: l, Right: rr})
			r.logger.Error("Checksum failed for company.", "checkpoint", cp, "company", id, "counters", l, "counted", rr)
			continue
		}
		r.logger.Info("Checksum passed for company.", "checkpoint", cp, "company", id, "count", l)
	}
	res.Passed = len(res.Mismatches) == 0
	r.report(res, "companies", len(sorted))
	return res, nil
}

// IndexVsZips compares relocated index files with the nested zips found in
// DOCS. Zero on either side means unpacking silently produced nothing.
func (r *Reconciler) IndexVsZips(indexFiles, zipFiles int) (Result, error) {
	if indexFiles == 0 || zipFiles == 0 {
		r.logger.Error("Zero count in index vs zip checkpoint.", "index_files", indexFiles, "zip_files", zipFiles)
		return Result{Checkpoint: IndexVsZips}, fmt.Errorf("%s: index files %d, zip files %d: %w", IndexVsZips, indexFiles, zipFiles, ErrZeroCount)
	}
	res := Result{Checkpoint: IndexVsZips, Expected: zipFiles, Actual: indexFiles, Passed: indexFiles == zipFiles}
	r.report(res)
	return res, nil
}

func (r *Reconciler) report(res Result, attrs ...any) {
	args := append([]any{"checkpoint", res.Checkpoint, "expected", res.Expected, "actual", res.Actual}, attrs...)
	if res.Passed {
		r.logger.Info("Checksum passed.", args...)
		return
	}
	r.logger.Error("Checksum failed.", args...)
}
