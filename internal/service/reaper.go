package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	obserrors "github.com/Sophanos/saga-sub015/internal/observability/errors"
	"github.com/Sophanos/saga-sub015/internal/observability/metrics"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

// Reaper operation names, used as metric tags and in ReapReport.
const (
	ReapReleaseStale = "release_stale"
	ReapDeleteDone   = "delete_done"
	ReapDeleteFailed = "delete_failed"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService keeps the job table healthy.
//
// Each pass:
// - hands claims that outlived ClaimTimeout back to pending so a crashed run does not pin its job;
// - deletes done jobs older than DoneMaxAge;
// - deletes failed jobs older than FailedMaxAge.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// ReapReport counts the rows each operation of a pass touched.
type ReapReport struct {
	Released int64
	Done     int64
	Failed   int64
	Elapsed  time.Duration
}

// Total is the number of rows touched across operations.
func (r ReapReport) Total() int64 {
	return r.Released + r.Done + r.Failed
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}
	if opts.Config.BatchSize <= 0 {
		return nil, errors.New("reaper batch size must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	logger.Debug("ReaperService initialized",
		"interval", opts.Config.Interval,
		"claim_timeout", opts.Config.ClaimTimeout,
		"done_max_age", opts.Config.DoneMaxAge,
		"failed_max_age", opts.Config.FailedMaxAge,
	)

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Replicas started together should not reap in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(ctx, err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(ctx, err, "cleanup")
			}
		}
	}
}

// RunOnce performs a single cleanup pass. Every operation runs even when an earlier one fails;
// the returned error joins the failures.
func (s *ReaperService) RunOnce(ctx context.Context) (ReapReport, error) {
	start := time.Now()
	var (
		report      ReapReport
		errs        []error
		allCanceled = true
	)

	steps := []cleanupStep{
		{op: ReapReleaseStale, fn: s.releaseStaleClaims, count: &report.Released},
		{op: ReapDeleteDone, fn: s.deleteOld(model.JobStatusDone, s.config.DoneMaxAge), count: &report.Done},
		{op: ReapDeleteFailed, fn: s.deleteOld(model.JobStatusFailed, s.config.FailedMaxAge), count: &report.Failed},
	}

	var firstErr error
	for _, step := range steps {
		count, err := step.fn(ctx)
		*step.count = count
		metricErr := suppressContextCancellation(err)
		s.emitCleanupOperationMetric(step.op, count, metricErr)
		if err == nil {
			continue
		}
		if firstErr == nil && metricErr != nil {
			firstErr = metricErr
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.op, err))
		allCanceled = allCanceled && isContextCancellation(err)
	}

	report.Elapsed = time.Since(start)
	s.emitCleanupMetrics(report, firstErr)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allCanceled {
			return report, context.Canceled
		}
		return report, fmt.Errorf("cleanup failed: %w", joined)
	}
	if report.Total() > 0 {
		s.logger.InfoContext(ctx, "reaper pass complete",
			"released", report.Released,
			"deleted_done", report.Done,
			"deleted_failed", report.Failed,
			"elapsed", report.Elapsed,
		)
	}
	return report, nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	op    string
	fn    cleanupFunc
	count *int64
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// releaseStaleClaims returns claims older than ClaimTimeout to pending.
func (s *ReaperService) releaseStaleClaims(ctx context.Context) (int64, error) {
	total, err := drainBatches(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.ReleaseStaleClaims(ctx, s.config.ClaimTimeout, s.config.BatchSize)
	})
	if total > 0 {
		s.logger.WarnContext(ctx, "released stale claims",
			"count", total,
			"claim_timeout", s.config.ClaimTimeout,
		)
	}
	return total, err
}

func (s *ReaperService) deleteOld(status model.JobStatus, maxAge time.Duration) cleanupFunc {
	return func(ctx context.Context) (int64, error) {
		total, err := drainBatches(ctx, func(ctx context.Context) (int64, error) {
			return s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
				Status:    status,
				MaxAge:    maxAge,
				BatchSize: s.config.BatchSize,
			})
		})
		if total > 0 {
			s.logger.InfoContext(ctx, "deleted old jobs",
				"status", status,
				"count", total,
				"max_age", maxAge,
			)
		}
		return total, err
	}
}

// drainBatches calls fn until it reports zero affected rows.
func drainBatches(ctx context.Context, fn cleanupFunc) (int64, error) {
	var total int64
	for {
		count, err := fn(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *ReaperService) emitCleanupMetrics(r ReapReport, firstErr error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if r.Total() == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if r.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", r.Elapsed, metrics.CloneTags(tags))
	}
	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error, label string) {
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
