// Package scheduler drives the dispatcher on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Sophanos/saga-sub015/internal/adapters/dispatcher"
	obserrors "github.com/Sophanos/saga-sub015/internal/observability/errors"
	"github.com/Sophanos/saga-sub015/internal/observability/metrics"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

// DefaultLockKey is the Redis key replicas contend on for a tick.
const DefaultLockKey = "dispatcher:tick"

// Dispatch runs one dispatcher pass.
type Dispatch interface {
	Run(ctx context.Context, batchSize int) (dispatcher.RunReport, error)
}

// Lock is the single-flight lock a tick holds. RedisCacheRepo satisfies it.
type Lock interface {
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key string, token []byte) (bool, error)
}

// Runner calls the dispatcher every Interval until its context ends.
type Runner struct {
	dispatch  Dispatch
	interval  time.Duration
	batchSize int
	lock      Lock
	lockKey   string
	lockTTL   time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Dispatch  Dispatch
	Interval  time.Duration
	BatchSize int

	// Lock, when set, keeps replicas from running overlapping ticks.
	Lock    Lock
	LockKey string
	LockTTL time.Duration

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}
	return &Runner{
		dispatch:  opts.Dispatch,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		lock:      opts.Lock,
		lockKey:   opts.LockKey,
		lockTTL:   opts.LockTTL,
		logger:    opts.Logger.With("component", "scheduler"),
		metrics:   opts.Metrics,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Dispatch == nil {
		return errors.New("dispatcher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.LockKey == "" {
		opts.LockKey = DefaultLockKey
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run ticks until ctx is cancelled. Tick errors are logged and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval, "single_flight", r.lock != nil)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick runs one dispatcher pass, under the single-flight lock when configured. ran is false
// when another replica holds the lock.
func (r *Runner) Tick(ctx context.Context) (ran bool, err error) {
	start := time.Now()
	var report dispatcher.RunReport
	defer func() {
		r.emitTickMetrics(ran, report, time.Since(start), err)
	}()

	release, acquired := r.acquire(ctx)
	if !acquired {
		return false, nil
	}
	defer release()

	report, err = r.dispatch.Run(ctx, r.batchSize)
	if err != nil {
		return true, fmt.Errorf("dispatch: %w", err)
	}
	return true, nil
}

// acquire takes the tick lock. A lock error proceeds without the lock.
func (r *Runner) acquire(ctx context.Context) (func(), bool) {
	noop := func() {}
	if r.lock == nil {
		return noop, true
	}
	token := []byte(uuid.NewString())
	ok, err := r.lock.SetIfNotExists(ctx, r.lockKey, token, r.lockTTL)
	if err != nil {
		r.logger.WarnContext(ctx, "tick lock unavailable, running unlocked", "error", err)
		return noop, true
	}
	if !ok {
		r.logger.DebugContext(ctx, "tick lock held elsewhere", "key", r.lockKey)
		return noop, false
	}
	return func() {
		// The tick context may already be done; releasing must still reach Redis.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := r.lock.ReleaseIfOwner(relCtx, r.lockKey, token); err != nil {
			r.logger.WarnContext(ctx, "release tick lock", "error", err)
		}
	}, true
}

func (r *Runner) emitTickMetrics(ran bool, report dispatcher.RunReport, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case !ran:
		result = metrics.ResultSkipped
	case report.Fetched == 0:
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("scheduler.tick", 1, tags)
	if elapsed > 0 {
		r.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil && ran {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
