package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for analysis job hygiene.
const (
	advisoryLockReaperMajor        = 2000
	advisoryLockReaperReleaseStale = 1 // minor key for ReleaseStaleClaims
	advisoryLockReaperDelete       = 2 // minor key for DeleteOldJobs
)

// ReleaseStaleClaims returns jobs claimed longer than maxAge to pending and clears their run id,
// so a late completion from the abandoned run no longer matches. If another pending job already
// holds the same (kind, scope), or a newer stale claim on that scope is being released, the stale
// claim is failed instead.
// Returns the number of jobs touched; zero when another reaper holds the lock.
func (r *JobRepo) ReleaseStaleClaims(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var touched int64
	err := r.withReaperLock(ctx, advisoryLockReaperReleaseStale, func(tx *sql.Tx) error {
		now := r.timeProvider.Now().UTC()
		cutoff := now.Add(-maxAge)

		res, err := tx.ExecContext(ctx, `
			UPDATE analysis_jobs j
			SET status = 'failed',
				error = 'claim expired; superseded by a newer pending job',
				completed_at = $1,
				updated_at = $1
			WHERE j.id IN (
				SELECT id FROM analysis_jobs
				WHERE status = 'claimed' AND claimed_at < $2
				ORDER BY claimed_at
				LIMIT $3
			)
			AND EXISTS (
				SELECT 1 FROM analysis_jobs p
				WHERE p.status = 'pending' AND p.kind = j.kind AND p.scope_key = j.scope_key
			)
		`, now, cutoff, batchSize)
		if err != nil {
			return fmt.Errorf("fail superseded claims: %w", err)
		}
		failed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		// Two dead runs can hold claims on one (kind, scope). Only the newest goes back to
		// pending; the rest fail, since the pending-scope index admits a single row.
		rows, err := tx.QueryContext(ctx, `
			WITH batch AS (
				SELECT kind, scope_key FROM analysis_jobs
				WHERE status = 'claimed' AND claimed_at < $2::timestamptz
				ORDER BY claimed_at
				LIMIT $3::int
			),
			stale AS (
				SELECT s.id,
					row_number() OVER (
						PARTITION BY s.kind, s.scope_key
						ORDER BY s.claimed_at DESC, s.id DESC
					) AS rn
				FROM analysis_jobs s
				WHERE s.status = 'claimed' AND s.claimed_at < $2::timestamptz
				  AND (s.kind, s.scope_key) IN (SELECT kind, scope_key FROM batch)
				  AND NOT EXISTS (
					SELECT 1 FROM analysis_jobs p
					WHERE p.status = 'pending' AND p.kind = s.kind AND p.scope_key = s.scope_key
				  )
			)
			UPDATE analysis_jobs j
			SET status       = CASE WHEN st.rn = 1 THEN 'pending' ELSE 'failed' END,
				run_id       = CASE WHEN st.rn = 1 THEN NULL ELSE j.run_id END,
				claimed_at   = CASE WHEN st.rn = 1 THEN NULL ELSE j.claimed_at END,
				eligible_at  = CASE WHEN st.rn = 1 THEN $1::timestamptz ELSE j.eligible_at END,
				completed_at = CASE WHEN st.rn = 1 THEN NULL ELSE $1::timestamptz END,
				error        = CASE WHEN st.rn = 1 THEN j.error
				                    ELSE 'claim expired; superseded by a newer claim on the same scope' END,
				updated_at   = $1::timestamptz
			FROM stale st
			WHERE j.id = st.id
			RETURNING j.status
		`, now, cutoff, batchSize)
		if err != nil {
			return fmt.Errorf("release stale claims: %w", err)
		}
		var released int64
		for rows.Next() {
			var status string
			if err := rows.Scan(&status); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan released claim: %w", err)
			}
			released++
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("release stale claims: %w", err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close released claims: %w", err)
		}
		touched = failed + released
		return nil
	})
	if err != nil {
		return 0, err
	}
	return touched, nil
}

// DeleteOldJobs deletes terminal jobs with the given status completed before now-maxAge.
// Processes up to batchSize jobs per call to prevent long locks and I/O spikes.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("only terminal jobs can be deleted, got status %q", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := r.withReaperLock(ctx, advisoryLockReaperDelete, func(tx *sql.Tx) error {
		cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
		res, err := tx.ExecContext(ctx, `
			DELETE FROM analysis_jobs
			WHERE id IN (
				SELECT id FROM analysis_jobs
				WHERE status = $1
				  AND COALESCE(completed_at, updated_at) < $2
				ORDER BY COALESCE(completed_at, updated_at)
				LIMIT $3
			)
		`, params.Status, cutoff, params.BatchSize)
		if err != nil {
			return fmt.Errorf("delete old jobs: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// withReaperLock runs fn in a transaction holding the reaper advisory lock for minor.
// fn is skipped when another instance holds the lock.
func (r *JobRepo) withReaperLock(ctx context.Context, minor int32, fn func(*sql.Tx) error) error {
	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := pgxutil.TryAdvisoryXactLock(ctx, tx, advisoryLockReaperMajor, minor)
			if err != nil {
				return err
			}
			if !locked {
				r.logger.DebugContext(ctx, "reaper lock held elsewhere", "minor", minor)
				return nil
			}
			return fn(tx)
		},
	})
}
