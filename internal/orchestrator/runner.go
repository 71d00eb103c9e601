// Package orchestrator drives a batch run: it discovers unprocessed customer
// drops for one migration type, runs the pipeline for each in turn and
// dispatches the outcomes to the ledger, metrics and chat.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/layout"
	"github.com/brensch/migrobot/internal/lifecycle"
	"github.com/brensch/migrobot/internal/metrics"
	"github.com/brensch/migrobot/internal/migration"
	"github.com/brensch/migrobot/internal/migtype"
	"github.com/brensch/migrobot/internal/notify"
)

const stageFinalize = "finalize"

// Pipeline migrates one customer directory.
type Pipeline interface {
	Run(ctx context.Context, runID, customer string) (migration.Result, error)
}

// Factory builds the pipeline of one job. logger is scoped to the job and
// also writes the job log; observer must receive every stage transition.
type Factory func(logger *slog.Logger, observer migration.Observer) Pipeline

// Recorder persists job progress and outcomes.
type Recorder interface {
	JobStarted(ctx context.Context, runID, customer string) error
	StageEvent(ctx context.Context, runID, customer, stage string, status migration.StageStatus, err error) error
	RecordOutcome(ctx context.Context, res migration.Result) error
	Finalized(ctx context.Context, runID, customer, newPath string, err error) error
}

// Notifier posts the batch report.
type Notifier interface {
	Notify(ctx context.Context, r notify.Report) error
}

// Pusher ships collected metrics.
type Pusher interface {
	Push() error
}

// Options are the optional collaborators of a Runner.
type Options struct {
	Recorder  Recorder
	Notifier  Notifier
	Pusher    Pusher
	Lifecycle *lifecycle.Manager
	// Progress receives batch events, for example to drive a terminal view.
	Progress func(Event)
	// BatchLogFile is attached to the chat report when set.
	BatchLogFile string
	// JobLogLevel is the minimum level written to job logs.
	JobLogLevel slog.Leveler
}

// Runner executes batch runs of one migration type.
type Runner struct {
	kind     migtype.Kind
	cfg      config.Config
	resolver *layout.Resolver
	factory  Factory
	opts     Options
	logger   *slog.Logger
}

func New(kind migtype.Kind, cfg config.Config, factory Factory, opts Options, logger *slog.Logger) *Runner {
	if opts.Lifecycle == nil {
		opts.Lifecycle = lifecycle.New(logger)
	}
	if opts.JobLogLevel == nil {
		opts.JobLogLevel = slog.LevelDebug
	}
	return &Runner{
		kind:     kind,
		cfg:      cfg,
		resolver: layout.New(cfg),
		factory:  factory,
		opts:     opts,
		logger:   logger,
	}
}

// Discover lists the customers the next run would process.
func (r *Runner) Discover() ([]string, error) {
	return r.resolver.Discover(r.kind)
}

// Run processes every eligible customer sequentially. Job failures never
// stop the batch and are reported in the Summary; the returned error only
// covers discovery, cancellation and failed dispatches.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Kind: r.kind, Started: time.Now().UTC()}
	l := r.logger.With(slog.String("mig_type", r.kind.String()), slog.String("run_id", sum.RunID))

	l.Info(Delimiter)
	l.Info("Starting migration robot.")

	customers, err := r.Discover()
	if err != nil {
		sum.Finished = time.Now().UTC()
		return sum, fmt.Errorf("discover customers: %w", err)
	}
	l.Info("Customer directories discovered.", slog.Int("count", len(customers)))

	var runErr error
	var errs []error
	for i, customer := range customers {
		if err := ctx.Err(); err != nil {
			l.Warn("Batch cancelled before all customers were processed.", slog.Int("remaining", len(customers)-i))
			runErr = err
			break
		}
		l.Info(Delimiter)
		r.emit(Event{Type: EventJobStarted, Customer: customer, Index: i + 1, Total: len(customers)})
		res, err := r.runJob(ctx, l, sum.RunID, customer)
		if err != nil {
			errs = append(errs, err)
		}
		sum.Results = append(sum.Results, res)
		r.emit(Event{Type: EventJobFinished, Customer: customer, Index: i + 1, Total: len(customers), Stage: res.Stage, Outcome: res.Outcome})
	}
	sum.Finished = time.Now().UTC()

	l.Info(Delimiter)
	if len(customers) == 0 {
		l.Info("No unprocessed customer files found.")
	} else {
		l.Info("All customer folders processed.",
			slog.Int("processed", sum.Processed()),
			slog.Int("success", sum.Count(migration.Success)),
			slog.Int("business_failures", sum.Count(migration.BusinessFailure)),
			slog.Int("application_failures", sum.Count(migration.ApplicationFailure)),
			slog.Duration("duration", sum.Duration().Round(time.Second)))
	}

	errs = append(errs, r.dispatch(ctx, l, sum))
	r.emit(Event{Type: EventBatchFinished, Total: len(customers), Index: sum.Processed()})
	l.Info("Terminating migration robot.")
	return sum, errors.Join(append(errs, runErr)...)
}

// runJob runs one customer job end to end. The returned error reports
// failed ledger writes only; the job outcome is in the Result.
func (r *Runner) runJob(ctx context.Context, batchLogger *slog.Logger, runID, customer string) (migration.Result, error) {
	// The pipeline adds its own mig_type attribute.
	logger := r.logger.With(slog.String("run_id", runID))
	jl := newHeldLog(r.opts.JobLogLevel, slog.String("run_id", runID))
	logger = slog.New(fanout{logger.Handler(), jl.handler()})
	jobLogger := logger.With(slog.String("customer", customer))

	// The Log folder is created only once the precondition checks passed.
	logTried := false
	startJobLog := func() {
		if logTried {
			return
		}
		logTried = true
		dir, err := r.resolver.EnsureLogDir(customer)
		if err == nil {
			err = jl.open(ctx, dir, runID)
		}
		if err != nil && !jl.opened() {
			jl.Close()
			batchLogger.Warn("Job log unavailable, logging to batch log only.", "customer", customer, "error", err)
		} else if err != nil {
			batchLogger.Warn("Failed to replay held job log records.", "customer", customer, "error", err)
		}
	}

	if rec := r.opts.Recorder; rec != nil {
		if err := rec.JobStarted(ctx, runID, customer); err != nil {
			jobLogger.Warn("Failed to record job start.", "error", err)
		}
	}
	var lastStage string
	observer := func(c, stage string, status migration.StageStatus, stageErr error) {
		if stage != migration.StagePreconditions {
			startJobLog()
		}
		lastStage = stage
		if rec := r.opts.Recorder; rec != nil {
			if err := rec.StageEvent(ctx, runID, c, stage, status, stageErr); err != nil {
				jobLogger.Warn("Failed to record stage event.", "stage", stage, "error", err)
			}
		}
		r.emit(Event{Type: EventStage, Customer: c, Stage: stage, Status: status})
	}

	res, err := r.runPipeline(ctx, logger, observer, runID, customer)
	if res.Outcome != migration.Success && res.Stage == "" {
		res.Stage = lastStage
	}
	if err != nil {
		jobLogger.Error("Job ended with an application error.", "stage", res.Stage, "error", err)
	}

	if err := jl.Close(); err != nil {
		batchLogger.Warn("Failed to close job log.", "customer", customer, "error", err)
	}

	newPath, renameErr := r.opts.Lifecycle.FinalizeCustomer(r.resolver.Root, customer, res.Outcome == migration.Success, r.cfg.Rename.CustomerRoot)
	if renameErr != nil {
		batchLogger.Error("Failed to finalize customer directory.", "customer", customer, "error", renameErr)
		if res.Outcome == migration.Success {
			res.Outcome = migration.ApplicationFailure
			res.Stage = stageFinalize
			res.Reason = renameErr.Error()
		}
	}
	if rec := r.opts.Recorder; rec != nil {
		if err := rec.Finalized(ctx, runID, customer, newPath, renameErr); err != nil {
			batchLogger.Warn("Failed to record finalization.", "customer", customer, "error", err)
		}
	}

	var recordErr error
	metrics.Observe(r.kind.String(), res.Outcome.String(), res.Duration())
	if rec := r.opts.Recorder; rec != nil {
		if err := rec.RecordOutcome(ctx, res); err != nil {
			recordErr = fmt.Errorf("record outcome of %s: %w", customer, err)
		}
	}

	batchLogger.Info("Job finished.", "customer", customer, "outcome", res.Outcome.Mark(), "stage", res.Stage,
		"not_found", res.NotFound, "duration", res.Duration().Round(time.Millisecond))
	return res, recordErr
}

// runPipeline builds and runs the job pipeline, turning a panic into an
// application failure.
func (r *Runner) runPipeline(ctx context.Context, logger *slog.Logger, observer migration.Observer, runID, customer string) (res migration.Result, err error) {
	started := time.Now().UTC()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			res = migration.Result{
				RunID:    runID,
				Customer: customer,
				Kind:     r.kind,
				Outcome:  migration.ApplicationFailure,
				Reason:   err.Error(),
				Started:  started,
				Finished: time.Now().UTC(),
			}
		}
	}()
	res, err = r.factory(logger, observer).Run(ctx, runID, customer)
	if res.Started.IsZero() {
		res.Started = started
	}
	if res.Finished.IsZero() {
		res.Finished = time.Now().UTC()
	}
	if res.Customer == "" {
		res.RunID, res.Customer, res.Kind = runID, customer, r.kind
	}
	if err != nil && res.Outcome == migration.Success {
		res.Outcome = migration.ApplicationFailure
		res.Reason = err.Error()
	}
	return res, err
}

func (r *Runner) dispatch(ctx context.Context, l *slog.Logger, sum Summary) error {
	var errs []error
	if r.opts.Pusher != nil {
		if err := r.opts.Pusher.Push(); err != nil {
			l.Error("Failed to push metrics.", "error", err)
			errs = append(errs, err)
		}
	}
	if r.opts.Notifier != nil {
		if err := r.opts.Notifier.Notify(ctx, sum.Report(r.opts.BatchLogFile)); err != nil {
			l.Error("Failed to send chat notification.", "error", err)
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) emit(e Event) {
	if r.opts.Progress != nil {
		r.opts.Progress(e)
	}
}
