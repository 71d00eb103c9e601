// Package migration sequences the per-type migration pipelines. Each kind
// is a fixed, linear list of named stages that halts at the first stage
// that does not succeed.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/brensch/migrobot/internal/checks"
	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/jobrunner"
	"github.com/brensch/migrobot/internal/layout"
	"github.com/brensch/migrobot/internal/lifecycle"
	"github.com/brensch/migrobot/internal/migtype"
	"github.com/brensch/migrobot/internal/reconcile"
)

// Outcome is the terminal state of one pipeline run.
type Outcome int

const (
	Success Outcome = iota
	BusinessFailure
	ApplicationFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case BusinessFailure:
		return "business_failure"
	default:
		return "application_failure"
	}
}

// Mark is the label the KPI ledger stores for an outcome.
func (o Outcome) Mark() string {
	switch o {
	case Success:
		return "SUCCESS"
	case BusinessFailure:
		return "BUSINESS EXCEPTION"
	default:
		return "APPLICATION EXCEPTION"
	}
}

// FailureKind narrows down an expected, named failure.
type FailureKind string

const (
	PreconditionFailure FailureKind = "precondition"
	ReconcileFailure    FailureKind = "reconciliation"
	ExecutionFailure    FailureKind = "execution"
	ArtifactFailure     FailureKind = "missing_artifact"
)

// Failure is returned by a stage that ends the pipeline in an expected way.
// Any other error returned by a stage is a fault.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(kind FailureKind, err error, format string, args ...any) error {
	return &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// Result describes one pipeline run.
type Result struct {
	RunID    string
	Customer string
	Kind     migtype.Kind
	Outcome  Outcome
	Failure  FailureKind
	Stage    string
	Reason   string
	Missing  int
	// NotFound counts the missing source files the cmd scripts were
	// allowed to skip.
	NotFound int
	Checks   []reconcile.Result
	Archives []string
	Uploaded []string
	Started  time.Time
	Finished time.Time
}

func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// StageStatus is reported to observers as stages progress.
type StageStatus string

const (
	StageStarted  StageStatus = "stage_start"
	StageFinished StageStatus = "stage_end"
	StageFailed   StageStatus = "stage_failed"
)

// Observer is notified about stage transitions.
type Observer func(customer, stage string, status StageStatus, err error)

// Prechecker verifies prerequisites before any mutation.
type Prechecker interface {
	Run(customer string, kind migtype.Kind) error
}

// ArchiveHandler extracts inbound drops and packs deliveries.
type ArchiveHandler interface {
	ExtractSFX(ctx context.Context, files []string, dest, password string) error
	ExtractSplit(ctx context.Context, start, dest, password string) error
	CompressAll(ctx context.Context, folders []string, password string) ([]string, error)
}

// JobRunner runs the external tool and its generated scripts.
type JobRunner interface {
	RunJob(ctx context.Context, customer string, kind migtype.Kind) (jobrunner.JobResult, error)
	ExecScripts(ctx context.Context, kind migtype.Kind, paths []string) ([]jobrunner.ScriptResult, error)
}

// Uploader delivers one archive to a remote directory.
type Uploader interface {
	UploadArchive(ctx context.Context, localPath, remoteDir string) error
}

// Deps are the collaborators owned by an Orchestrator.
type Deps struct {
	Checker    Prechecker
	Archives   ArchiveHandler
	Jobs       JobRunner
	Reconciler *reconcile.Reconciler
	Lifecycle  *lifecycle.Manager
	Uploader   Uploader
	Observer   Observer
}

// Orchestrator runs the pipeline of one migration kind.
type Orchestrator struct {
	kind     migtype.Kind
	cfg      config.Config
	resolver *layout.Resolver
	deps     Deps
	sftpProd bool
	logger   *slog.Logger
}

func New(kind migtype.Kind, cfg config.Config, resolver *layout.Resolver, deps Deps, sftpProd bool, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		kind:     kind,
		cfg:      cfg,
		resolver: resolver,
		deps:     deps,
		sftpProd: sftpProd,
		logger:   logger.With(slog.String("mig_type", kind.String())),
	}
}

func (o *Orchestrator) Kind() migtype.Kind { return o.kind }

// state is the mutable context threaded through one run. It is owned by a
// single Run call and never shared.
type state struct {
	customer string
	password string
	docsDir  string
	logsDir  string
	idxDir   string

	cmdFiles []string
	moveRows int
	zipCount int
	targets  []target
	renamed  []string
	// artifactRoot is the common e-dossier root when targets are
	// per-company subfolders of it.
	artifactRoot string
	zipped       []string

	result *Result
	logger *slog.Logger
}

// target is one e-dossier folder and the company it belongs to.
type target struct {
	path    string
	company string
}

type stage struct {
	name string
	run  func(ctx context.Context, st *state) error
}

func (o *Orchestrator) stages() []stage {
	switch o.kind {
	case migtype.PDOL:
		return o.pdolStages()
	case migtype.SDOL:
		return o.sdolStages()
	case migtype.MLM:
		return o.mlmStages()
	}
	return nil
}

// Run executes the pipeline for one customer directory. Expected failures
// come back as a Result with a nil error; faults come back as a Result with
// Outcome ApplicationFailure together with the error.
func (o *Orchestrator) Run(ctx context.Context, runID, customer string) (Result, error) {
	res := Result{
		RunID:    runID,
		Customer: customer,
		Kind:     o.kind,
		Started:  time.Now().UTC(),
	}
	st := &state{
		customer: customer,
		result:   &res,
		logger:   o.logger.With(slog.String("customer", customer)),
	}
	st.logger.Info("Migration started.", "job_id", o.kind.JobID())

	for _, s := range o.stages() {
		res.Stage = s.name
		l := st.logger.With(slog.String("stage", s.name))
		l.Info("Stage started.")
		o.observe(customer, s.name, StageStarted, nil)

		err := s.run(ctx, st)
		if err == nil {
			o.observe(customer, s.name, StageFinished, nil)
			continue
		}
		o.observe(customer, s.name, StageFailed, err)
		res.Finished = time.Now().UTC()
		res.Reason = err.Error()

		var f *Failure
		if errors.As(err, &f) {
			res.Outcome = BusinessFailure
			res.Failure = f.Kind
			l.Error("Migration failed.", "failure", f.Kind, "reason", err)
			return res, nil
		}
		res.Outcome = ApplicationFailure
		l.Error("Migration aborted by application error.", "error", err)
		return res, fmt.Errorf("%s stage %s: %w", customer, s.name, err)
	}

	res.Outcome = Success
	res.Stage = ""
	res.Finished = time.Now().UTC()
	st.logger.Info("Migration finished successfully.", "duration", res.Duration().Round(time.Millisecond))
	return res, nil
}

func (o *Orchestrator) observe(customer, stage string, status StageStatus, err error) {
	if o.deps.Observer != nil {
		o.deps.Observer(customer, stage, status, err)
	}
}

// --- Stages shared by every kind ---

func (o *Orchestrator) stagePreconditions(_ context.Context, st *state) error {
	if err := o.deps.Checker.Run(st.customer, o.kind); err != nil {
		var ce *checks.Error
		if errors.As(err, &ce) {
			return fail(PreconditionFailure, err, "%s", ce.Check)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) stagePassword(_ context.Context, st *state) error {
	pw, err := o.resolver.ReadPassword(st.customer, o.kind)
	if errors.Is(err, layout.ErrPasswordNotFound) {
		return fail(PreconditionFailure, err, "password file")
	}
	if err != nil {
		return err
	}
	st.password = pw
	return nil
}

func (o *Orchestrator) stageDirs(withIndex bool) func(context.Context, *state) error {
	return func(_ context.Context, st *state) error {
		var err error
		if st.docsDir, err = o.resolver.EnsureDocsDir(st.customer, o.kind); err != nil {
			return err
		}
		if st.logsDir, err = o.resolver.EnsureLogDir(st.customer); err != nil {
			return err
		}
		if withIndex {
			if st.idxDir, err = o.resolver.EnsureIndexDir(st.customer, o.kind); err != nil {
				return err
			}
		}
		return nil
	}
}

func (o *Orchestrator) stageRunJob(ctx context.Context, st *state) error {
	res, err := o.deps.Jobs.RunJob(ctx, st.customer, o.kind)
	if err != nil {
		return err
	}
	if !res.OK {
		return fail(ExecutionFailure, nil, "migration job reported errors: %s", res.Stderr)
	}
	return nil
}

func (o *Orchestrator) stageExecScripts(ctx context.Context, st *state) error {
	results, err := o.deps.Jobs.ExecScripts(ctx, o.kind, st.cmdFiles)
	if err != nil {
		return err
	}
	if !jobrunner.AllOK(results, len(st.cmdFiles)) {
		if len(results) == 0 {
			return fail(ExecutionFailure, nil, "no cmd file executed")
		}
		last := results[len(results)-1]
		return fail(ExecutionFailure, nil, "cmd file %s failed with %d errors (%d not found)",
			filepath.Base(last.Script), len(last.Errors), last.NotFound)
	}
	for _, r := range results {
		if r.Tolerated {
			st.result.NotFound += r.NotFound
		}
	}
	if st.result.NotFound > 0 {
		st.logger.Warn("Cmd files skipped missing source files.", "not_found", st.result.NotFound)
	}
	return nil
}

func (o *Orchestrator) stageRenameTargets(_ context.Context, st *state) error {
	budget := o.cfg.DossierRetry(o.kind.String())
	st.renamed = st.renamed[:0]
	for _, t := range st.targets {
		p, err := o.deps.Lifecycle.RenameDossier(t.path, o.kind, st.customer, t.company, budget)
		if err != nil {
			return err
		}
		st.renamed = append(st.renamed, p)
	}
	return nil
}

func (o *Orchestrator) stageCompress(ctx context.Context, st *state) error {
	zipped, err := o.deps.Archives.CompressAll(ctx, st.renamed, st.password)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fail(ExecutionFailure, err, "re-archiving e-dossiers")
	}
	if len(zipped) != len(st.renamed) {
		return fail(ExecutionFailure, nil, "compressed %d of %d folders", len(zipped), len(st.renamed))
	}
	st.zipped = zipped
	st.result.Archives = zipped
	return nil
}

func (o *Orchestrator) stageUpload(ctx context.Context, st *state) error {
	remote := path.Join("/", o.cfg.SFTPFolder(o.sftpProd), st.customer)
	for _, z := range st.zipped {
		if err := o.deps.Uploader.UploadArchive(ctx, z, remote); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return fail(ExecutionFailure, err, "uploading %s", filepath.Base(z))
		}
		st.result.Uploaded = append(st.result.Uploaded, z)
	}
	return nil
}

func (o *Orchestrator) recordCheck(st *state, res reconcile.Result) error {
	st.result.Checks = append(st.result.Checks, res)
	if !res.Passed {
		return fail(ReconcileFailure, nil, "%s", res.String())
	}
	return nil
}
