package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Sophanos/saga-sub015/internal/data/pgxutil"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// pendingScopeIndex is the partial unique index enforcing one pending job per (kind, scope).
const pendingScopeIndex = "analysis_jobs_pending_scope_idx"

// enqueueSQL inserts a pending job or coalesces into the pending row for the same (kind, scope).
// xmax is non-zero only when the conflict branch updated an existing row.
const enqueueSQL = `
	INSERT INTO analysis_jobs (
		kind, project_id, user_id, document_id, target_type, target_id, scope_key,
		payload, content_hash, status, created_at, eligible_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, $11, $10)
	ON CONFLICT (kind, scope_key) WHERE status = 'pending'
	DO UPDATE SET
		payload = EXCLUDED.payload,
		content_hash = EXCLUDED.content_hash,
		eligible_at = EXCLUDED.eligible_at,
		updated_at = EXCLUDED.updated_at
	RETURNING id, (xmax::text <> '0') AS coalesced, eligible_at`

// Enqueue inserts a pending job, or resets the existing pending job for the same (kind, scope)
// to the new payload, content hash and eligible_at = now + debounce.
func (r *JobRepo) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.EnqueueResult, error) {
	if req == nil {
		return nil, errors.New("enqueue request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid enqueue request")
	}

	now := r.timeProvider.Now().UTC()
	eligible := now.Add(req.Debounce)
	args := []any{
		req.Kind,
		req.Scope.ProjectID,
		req.Scope.UserID,
		nullable(req.Scope.DocumentID),
		nullable(req.Scope.TargetType),
		nullable(req.Scope.TargetID),
		req.Scope.Key(),
		[]byte(req.Payload),
		req.ContentHash,
		now,
		eligible,
	}

	var res model.EnqueueResult
	err := r.DB.QueryRowContext(ctx, enqueueSQL, args...).Scan(&res.JobID, &res.Coalesced, &res.EligibleAt)
	// Two first-time enqueues racing on the partial index: the loser retries once and
	// lands in the conflict branch.
	if apperrors.IsUniqueViolation(err, pendingScopeIndex) {
		err = r.DB.QueryRowContext(ctx, enqueueSQL, args...).Scan(&res.JobID, &res.Coalesced, &res.EligibleAt)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", req.Kind, apperrors.MapDBError(err))
	}

	r.logger.DebugContext(ctx, "job enqueued",
		"job_id", res.JobID,
		"kind", req.Kind,
		"scope", req.Scope.Key(),
		"coalesced", res.Coalesced,
		"eligible_at", res.EligibleAt,
	)
	return &res, nil
}

// Claim atomically moves a pending, eligible job to claimed under a fresh run id.
// Concurrent callers on the same row see exactly one success.
func (r *JobRepo) Claim(ctx context.Context, jobID string) (model.ClaimResult, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return model.ClaimResult{}, nil
	}

	now := r.timeProvider.Now().UTC()
	runID := uuid.NewString()

	var got string
	err := r.DB.QueryRowContext(ctx, `
		UPDATE analysis_jobs
		SET status = 'claimed',
			run_id = $2,
			claimed_at = $3,
			updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
		  AND eligible_at <= $3
		RETURNING run_id
	`, jobID, runID, now).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClaimResult{}, nil
	}
	if err != nil {
		return model.ClaimResult{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	return model.ClaimResult{Claimed: true, RunID: got}, nil
}

// Finalize marks a claimed job done when runID is the run that claimed it.
// Returns false with no error for a stale or superseded run.
func (r *JobRepo) Finalize(ctx context.Context, params model.FinalizeParams) (bool, error) {
	if !validRunRef(params.JobID, params.RunID) {
		return false, nil
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = 'done',
			completed_at = $3,
			result_summary = $4,
			result_ref = $5,
			error = NULL,
			updated_at = $3
		WHERE id = $1
		  AND run_id = $2
		  AND status = 'claimed'
	`, params.JobID, params.RunID, now, params.Summary, nullableJSON(params.ResultRef))
	if err != nil {
		return false, fmt.Errorf("finalize job %s: %w", params.JobID, err)
	}
	return affectedOne(res)
}

// MarkFailed marks a claimed job failed with the error text, guarded by runID like Finalize.
func (r *JobRepo) MarkFailed(ctx context.Context, params model.MarkFailedParams) (bool, error) {
	if !validRunRef(params.JobID, params.RunID) {
		return false, nil
	}
	msg := params.Error
	if msg == "" {
		msg = "unknown error"
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = 'failed',
			completed_at = $3,
			error = $4,
			updated_at = $3
		WHERE id = $1
		  AND run_id = $2
		  AND status = 'claimed'
	`, params.JobID, params.RunID, now, msg)
	if err != nil {
		return false, fmt.Errorf("mark job %s failed: %w", params.JobID, err)
	}
	return affectedOne(res)
}

// GetPendingJobs returns up to limit pending jobs whose debounce window has passed,
// oldest eligible first.
func (r *JobRepo) GetPendingJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := r.timeProvider.Now().UTC()
	query := `
		SELECT ` + jobColumns + `
		FROM analysis_jobs
		WHERE status = 'pending'
		  AND eligible_at <= $1
		ORDER BY eligible_at ASC, created_at ASC
		LIMIT $2
	`

	var result []*model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, now, limit)
		if err != nil {
			return fmt.Errorf("query pending jobs: %w", err)
		}
		jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Job, error) {
			return scanJob(row)
		})
		if err != nil {
			return fmt.Errorf("collect pending jobs: %w", err)
		}
		result = jobs
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID returns the job or ErrJobNotFound.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Stats returns job counts per status, optionally restricted to one kind.
func (r *JobRepo) Stats(ctx context.Context, kind *model.JobKind) (*model.JobStats, error) {
	query := `SELECT status, count(*) FROM analysis_jobs`
	var args []any
	if kind != nil {
		query += ` WHERE kind = $1`
		args = append(args, *kind)
	}
	query += ` GROUP BY status`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &model.JobStats{}
	for rows.Next() {
		var (
			status model.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		switch status {
		case model.JobStatusPending:
			stats.Pending = n
		case model.JobStatusClaimed:
			stats.Claimed = n
		case model.JobStatusDone:
			stats.Done = n
		case model.JobStatusFailed:
			stats.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job stats: %w", err)
	}
	return stats, nil
}

func validRunRef(jobID, runID string) bool {
	if _, err := uuid.Parse(jobID); err != nil {
		return false
	}
	_, err := uuid.Parse(runID)
	return err == nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Release returns a claimed job to pending and clears its run id. It refuses when another pending
// job for the same (kind, scope) was enqueued meanwhile, since that row already carries newer input.
func (r *JobRepo) Release(ctx context.Context, jobID, runID string) (bool, error) {
	if !validRunRef(jobID, runID) {
		return false, nil
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE analysis_jobs j
		SET status = 'pending',
			run_id = NULL,
			claimed_at = NULL,
			updated_at = $3
		WHERE j.id = $1
		  AND j.run_id = $2
		  AND j.status = 'claimed'
		  AND NOT EXISTS (
			SELECT 1 FROM analysis_jobs p
			WHERE p.status = 'pending' AND p.kind = j.kind AND p.scope_key = j.scope_key
		  )
	`, jobID, runID, now)
	if apperrors.IsUniqueViolation(err, pendingScopeIndex) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("release job %s: %w", jobID, err)
	}
	return affectedOne(res)
}
