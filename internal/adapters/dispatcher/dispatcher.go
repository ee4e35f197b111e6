// Package dispatcher drains eligible analysis jobs through a bounded worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
	"github.com/Sophanos/saga-sub015/internal/observability/metrics"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

// Defaults applied when Options leaves a field unset.
const (
	DefaultConcurrency = 4
	MaxConcurrency     = 12
	DefaultBatchSize   = 10
	MaxBatchSize       = 25
)

// Outcome is what happened to one fetched job during a run.
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped_unconfigured"
	OutcomeRaced    Outcome = "raced"
	OutcomeReleased Outcome = "released"
	OutcomeStale    Outcome = "stale"
)

// JobOutcome reports a single job.
type JobOutcome struct {
	JobID   string
	Kind    model.JobKind
	Outcome Outcome
	Summary string
	Error   string
	// Missing lists the capabilities that kept a skipped job pending.
	Missing []core.Capability
}

// RunReport summarises one Run invocation.
type RunReport struct {
	Fetched  int
	Claimed  int
	Done     int
	Failed   int
	Skipped  int
	Raced    int
	Released int
	Outcomes []JobOutcome
}

func (r *RunReport) add(o JobOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Outcome {
	case OutcomeDone:
		r.Done++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeRaced:
		r.Raced++
	case OutcomeReleased:
		r.Released++
	case OutcomeStale:
	}
	if o.Outcome != OutcomeSkipped && o.Outcome != OutcomeRaced {
		r.Claimed++
	}
}

// Options configures a Dispatcher.
type Options struct {
	Jobs         core.JobRepository
	Registry     *core.Registry
	Capabilities core.CapabilitySet
	// Concurrency is the worker count; clamped to [1, MaxConcurrency].
	Concurrency int
	// BatchSize is used when Run is called with batchSize <= 0; clamped to MaxBatchSize.
	BatchSize int
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// Dispatcher claims eligible jobs and routes them to their registered handler.
type Dispatcher struct {
	jobs        core.JobRepository
	registry    *core.Registry
	caps        core.CapabilitySet
	concurrency int
	batchSize   int
	logger      *slog.Logger
	metrics     statsd.Sink
}

// New constructs a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Jobs == nil {
		return nil, errors.New("dispatcher: job repository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("dispatcher: handler registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	caps := opts.Capabilities
	if caps == nil {
		caps = core.CapabilitySet{}
	}
	return &Dispatcher{
		jobs:        opts.Jobs,
		registry:    opts.Registry,
		caps:        caps,
		concurrency: clamp(opts.Concurrency, DefaultConcurrency, MaxConcurrency),
		batchSize:   clamp(opts.BatchSize, DefaultBatchSize, MaxBatchSize),
		logger:      logger.With("component", "dispatcher"),
		metrics:     opts.Metrics,
	}, nil
}

func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	return min(v, hi)
}

// Run fetches up to batchSize eligible jobs and processes them with at most Concurrency
// workers. Individual job failures are recorded on the job and never abort the batch; the
// returned error is reserved for the fetch itself.
func (d *Dispatcher) Run(ctx context.Context, batchSize int) (RunReport, error) {
	start := time.Now()
	limit := clamp(batchSize, d.batchSize, MaxBatchSize)

	pending, err := d.jobs.GetPendingJobs(ctx, limit)
	if err != nil {
		return RunReport{}, fmt.Errorf("fetch pending jobs: %w", err)
	}
	report := RunReport{Fetched: len(pending)}
	if len(pending) == 0 {
		metrics.EmitDispatchRun(d.metrics, metrics.RunMetric{Duration: time.Since(start)})
		return report, nil
	}

	queue := make(chan *model.Job, len(pending))
	for _, j := range pending {
		queue <- j
	}
	close(queue)

	outcomes := make(chan JobOutcome, len(pending))
	workers := min(d.concurrency, len(pending))

	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for job := range queue {
				if ctx.Err() != nil {
					return nil
				}
				outcomes <- d.process(ctx, job)
			}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)

	for o := range outcomes {
		report.add(o)
	}

	metrics.EmitDispatchRun(d.metrics, metrics.RunMetric{
		Fetched:  report.Fetched,
		Done:     report.Done,
		Failed:   report.Failed,
		Skipped:  report.Skipped,
		Raced:    report.Raced,
		Duration: time.Since(start),
	})
	d.logger.InfoContext(ctx, "dispatch run finished",
		"fetched", report.Fetched,
		"claimed", report.Claimed,
		"done", report.Done,
		"failed", report.Failed,
		"skipped_unconfigured", report.Skipped,
		"raced", report.Raced,
		"released", report.Released,
		"workers", workers,
		"duration", time.Since(start),
	)
	return report, ctx.Err()
}

func (d *Dispatcher) process(ctx context.Context, job *model.Job) JobOutcome {
	start := time.Now()
	out := JobOutcome{JobID: job.ID, Kind: job.Kind}
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(d.metrics, metrics.JobMetric{
			Kind:       string(job.Kind),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	if missing := d.caps.Missing(d.registry.Requirements(job.Kind)); len(missing) > 0 {
		out.Outcome = OutcomeSkipped
		out.Missing = missing
		d.logger.DebugContext(ctx, "job skipped; dependency not configured",
			"job_id", job.ID, "kind", job.Kind, "missing", missing)
		emit(metrics.TransitionSkipped, metrics.ResultSkipped, nil)
		return out
	}

	claim, err := d.jobs.Claim(ctx, job.ID)
	if err != nil {
		// Treated like a lost race: the row is untouched and the next run sees it again.
		out.Outcome = OutcomeRaced
		out.Error = err.Error()
		d.logger.WarnContext(ctx, "claim failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		emit(metrics.TransitionRaced, metrics.ResultError, err)
		return out
	}
	if !claim.Claimed {
		out.Outcome = OutcomeRaced
		emit(metrics.TransitionRaced, metrics.ResultNoop, nil)
		return out
	}
	emit(metrics.TransitionClaimed, metrics.ResultSuccess, nil)

	res, herr := d.invoke(ctx, job)

	// Transition writes must land even when the run is being cancelled.
	wctx := context.WithoutCancel(ctx)
	switch {
	case herr == nil:
		return d.finalize(wctx, job, claim.RunID, res, out, emit)
	case apperrors.IsBenignSkip(herr):
		return d.finalize(wctx, job, claim.RunID, model.Skip(herr.Error()), out, emit)
	case apperrors.IsDependencyUnconfigured(herr):
		return d.release(wctx, job, claim.RunID, herr, out, emit)
	default:
		return d.fail(wctx, job, claim.RunID, herr, out, emit)
	}
}

// invoke parses the payload and runs the handler, converting panics into errors.
func (d *Dispatcher) invoke(ctx context.Context, job *model.Job) (res model.HandlerResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.ErrorContext(ctx, "handler panicked",
				"job_id", job.ID, "kind", job.Kind, "panic", p, "stack", string(debug.Stack()))
			err = apperrors.Internalf("handler panic: %v", p)
		}
	}()

	handler, ok := d.registry.Lookup(job.Kind)
	if !ok {
		return res, apperrors.UnsupportedKindf("no handler registered for job kind %q", job.Kind)
	}
	payload, err := model.ParsePayload(job.Kind, job.Payload)
	if err != nil {
		return res, apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode payload")
	}
	return handler(ctx, job, payload)
}

type emitFunc func(transition, result string, err error)

func (d *Dispatcher) finalize(
	ctx context.Context, job *model.Job, runID string, res model.HandlerResult, out JobOutcome, emit emitFunc,
) JobOutcome {
	out.Summary = res.Summary
	ok, err := d.jobs.Finalize(ctx, model.FinalizeParams{
		JobID:     job.ID,
		RunID:     runID,
		Summary:   res.Summary,
		ResultRef: res.ResultRef,
	})
	switch {
	case err != nil:
		out.Outcome = OutcomeFailed
		out.Error = err.Error()
		d.logger.ErrorContext(ctx, "finalize job error", "job_id", job.ID, "kind", job.Kind, "error", err)
		emit(metrics.TransitionDone, metrics.ResultError, err)
	case !ok:
		out.Outcome = OutcomeStale
		d.logger.InfoContext(ctx, "finalize ignored; run superseded", "job_id", job.ID, "run_id", runID)
		emit(metrics.TransitionDone, metrics.ResultNoop, nil)
	default:
		out.Outcome = OutcomeDone
		d.logger.InfoContext(ctx, "job done", "job_id", job.ID, "kind", job.Kind, "summary", res.Summary)
		emit(metrics.TransitionDone, metrics.ResultSuccess, nil)
	}
	return out
}

func (d *Dispatcher) fail(
	ctx context.Context, job *model.Job, runID string, cause error, out JobOutcome, emit emitFunc,
) JobOutcome {
	out.Outcome = OutcomeFailed
	out.Error = cause.Error()
	ok, err := d.jobs.MarkFailed(ctx, model.MarkFailedParams{JobID: job.ID, RunID: runID, Error: cause.Error()})
	switch {
	case err != nil:
		d.logger.ErrorContext(ctx, "mark failed error",
			"job_id", job.ID, "kind", job.Kind, "error", err, "original_error", cause)
	case !ok:
		out.Outcome = OutcomeStale
		d.logger.InfoContext(ctx, "mark failed ignored; run superseded", "job_id", job.ID, "run_id", runID)
	default:
		d.logger.WarnContext(ctx, "job failed", "job_id", job.ID, "kind", job.Kind, "error", cause)
	}
	emit(metrics.TransitionFailed, metrics.ResultError, cause)
	return out
}

// release hands a claimed job back when a handler finds a dependency missing after claim.
func (d *Dispatcher) release(
	ctx context.Context, job *model.Job, runID string, cause error, out JobOutcome, emit emitFunc,
) JobOutcome {
	ok, err := d.jobs.Release(ctx, job.ID, runID)
	if err != nil || !ok {
		if err != nil {
			d.logger.ErrorContext(ctx, "release job error", "job_id", job.ID, "error", err)
		}
		return d.fail(ctx, job, runID, cause, out, emit)
	}
	out.Outcome = OutcomeReleased
	out.Error = cause.Error()
	d.logger.WarnContext(ctx, "job released; dependency not configured",
		"job_id", job.ID, "kind", job.Kind, "error", cause)
	emit(metrics.TransitionReleased, metrics.ResultSkipped, cause)
	return out
}
