package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
	"github.com/Sophanos/saga-sub015/internal/testutil"
)

func newTestJobRepo(db *sql.DB) (*JobRepo, *FixedTimeProvider) {
	clock := NewFixedTimeProvider(testutil.TestTime())
	return NewJobRepo(db, RepoConfig{TimeProvider: clock}), clock
}

func TestJobRepo_Enqueue(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db)

		t.Run("new scope inserts a pending job", func(t *testing.T) {
			req := testutil.NewEnqueueRequest().WithDocument("doc-new").WithDebounce(time.Minute).Build()
			res, err := repo.Enqueue(ctx, req)
			require.NoError(t, err)
			assert.False(t, res.Coalesced)
			assert.Equal(t, clock.Now().Add(time.Minute).UTC(), res.EligibleAt.UTC())

			job, err := repo.GetByID(ctx, res.JobID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusPending, job.Status)
			assert.Nil(t, job.RunID)
			assert.Equal(t, "doc-new", job.Scope.DocumentID)
		})

		t.Run("same scope coalesces into one pending job", func(t *testing.T) {
			first, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().
				WithDocument("doc-burst").WithContentHash("h1").WithDebounce(2*time.Second).Build())
			require.NoError(t, err)

			clock.AddTime(time.Second)
			second, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().
				WithDocument("doc-burst").WithContentHash("h2").
				WithPayload(`{"document_id":"doc-burst"}`).WithDebounce(2*time.Second).Build())
			require.NoError(t, err)

			assert.True(t, second.Coalesced)
			assert.Equal(t, first.JobID, second.JobID)
			assert.True(t, second.EligibleAt.After(first.EligibleAt), "debounce window restarts")

			job, err := repo.GetByID(ctx, first.JobID)
			require.NoError(t, err)
			assert.Equal(t, "h2", job.ContentHash)
			assert.JSONEq(t, `{"document_id":"doc-burst"}`, string(job.Payload))

			var pending int
			require.NoError(t, db.QueryRowContext(ctx,
				`SELECT count(*) FROM analysis_jobs WHERE status = 'pending' AND document_id = 'doc-burst'`).Scan(&pending))
			assert.Equal(t, 1, pending)
		})

		t.Run("different kind on same scope is independent", func(t *testing.T) {
			a, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-kinds").Build())
			require.NoError(t, err)
			b, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-kinds").
				WithKind(model.JobKindDigestDocument).Build())
			require.NoError(t, err)
			assert.NotEqual(t, a.JobID, b.JobID)
			assert.False(t, b.Coalesced)
		})

		t.Run("claimed job does not absorb new enqueue", func(t *testing.T) {
			first, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-running").Build())
			require.NoError(t, err)
			claim, err := repo.Claim(ctx, first.JobID)
			require.NoError(t, err)
			require.True(t, claim.Claimed)

			second, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-running").Build())
			require.NoError(t, err)
			assert.NotEqual(t, first.JobID, second.JobID)
			assert.False(t, second.Coalesced)
		})

		t.Run("invalid request", func(t *testing.T) {
			_, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithKind("bogus").Build())
			require.Error(t, err)
		})
	})
}

func TestJobRepo_ClaimAndFinalize(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db)

		t.Run("not eligible before debounce", func(t *testing.T) {
			res, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().
				WithDocument("doc-wait").WithDebounce(5*time.Second).Build())
			require.NoError(t, err)

			claim, err := repo.Claim(ctx, res.JobID)
			require.NoError(t, err)
			assert.False(t, claim.Claimed)

			clock.AddTime(5 * time.Second)
			claim, err = repo.Claim(ctx, res.JobID)
			require.NoError(t, err)
			assert.True(t, claim.Claimed)
			assert.NotEmpty(t, claim.RunID)
		})

		t.Run("finalize with matching run", func(t *testing.T) {
			res, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-ok").Build())
			require.NoError(t, err)
			claim, err := repo.Claim(ctx, res.JobID)
			require.NoError(t, err)
			require.True(t, claim.Claimed)

			ok, err := repo.Finalize(ctx, model.FinalizeParams{
				JobID:     res.JobID,
				RunID:     claim.RunID,
				Summary:   "Detected 2 entities.",
				ResultRef: []byte(`{"count":2}`),
			})
			require.NoError(t, err)
			assert.True(t, ok)

			job, err := repo.GetByID(ctx, res.JobID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusDone, job.Status)
			require.NotNil(t, job.ResultSummary)
			assert.Equal(t, "Detected 2 entities.", *job.ResultSummary)
			assert.JSONEq(t, `{"count":2}`, string(job.ResultRef))
			assert.NotNil(t, job.CompletedAt)

			again, err := repo.Finalize(ctx, model.FinalizeParams{JobID: res.JobID, RunID: claim.RunID})
			require.NoError(t, err)
			assert.False(t, again, "terminal jobs do not transition again")
		})

		t.Run("stale run cannot finalize or fail", func(t *testing.T) {
			res, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-stale").Build())
			require.NoError(t, err)
			claim, err := repo.Claim(ctx, res.JobID)
			require.NoError(t, err)
			require.True(t, claim.Claimed)

			stale := "00000000-0000-0000-0000-000000000001"
			ok, err := repo.Finalize(ctx, model.FinalizeParams{JobID: res.JobID, RunID: stale})
			require.NoError(t, err)
			assert.False(t, ok)
			ok, err = repo.MarkFailed(ctx, model.MarkFailedParams{JobID: res.JobID, RunID: stale, Error: "x"})
			require.NoError(t, err)
			assert.False(t, ok)

			job, err := repo.GetByID(ctx, res.JobID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusClaimed, job.Status)
		})

		t.Run("mark failed records the error", func(t *testing.T) {
			res, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-fail").Build())
			require.NoError(t, err)
			claim, err := repo.Claim(ctx, res.JobID)
			require.NoError(t, err)

			ok, err := repo.MarkFailed(ctx, model.MarkFailedParams{JobID: res.JobID, RunID: claim.RunID})
			require.NoError(t, err)
			assert.True(t, ok)

			job, err := repo.GetByID(ctx, res.JobID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusFailed, job.Status)
			require.NotNil(t, job.Error)
			assert.Equal(t, "unknown error", *job.Error)
		})

		t.Run("unknown ids", func(t *testing.T) {
			claim, err := repo.Claim(ctx, "not-a-uuid")
			require.NoError(t, err)
			assert.False(t, claim.Claimed)

			_, err = repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	})
}

func TestJobRepo_ConcurrentClaim(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, _ := newTestJobRepo(db)

		res, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-race").Build())
		require.NoError(t, err)

		const workers = 8
		results := make([]model.ClaimResult, workers)
		errs := testutil.RunConcurrent(workers, func(i int) error {
			r, err := repo.Claim(ctx, res.JobID)
			results[i] = r
			return err
		})

		winners := 0
		for i := range workers {
			require.NoError(t, errs[i])
			if results[i].Claimed {
				winners++
			}
		}
		assert.Equal(t, 1, winners)
	})
}

func TestJobRepo_GetPendingJobsAndStats(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db)

		late, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-late").
			WithDebounce(3*time.Second).Build())
		require.NoError(t, err)
		early, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-early").
			WithDebounce(time.Second).Build())
		require.NoError(t, err)
		_, err = repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-future").
			WithDebounce(time.Hour).Build())
		require.NoError(t, err)

		clock.AddTime(3 * time.Second)
		jobs, err := repo.GetPendingJobs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, early.JobID, jobs[0].ID)
		assert.Equal(t, late.JobID, jobs[1].ID)

		limited, err := repo.GetPendingJobs(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		_, err = repo.Claim(ctx, early.JobID)
		require.NoError(t, err)

		stats, err := repo.Stats(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Pending)
		assert.Equal(t, 1, stats.Claimed)

		kind := model.JobKindDigestDocument
		stats, err = repo.Stats(ctx, &kind)
		require.NoError(t, err)
		assert.Equal(t, model.JobStats{}, *stats)
	})
}

func TestJobRepo_Release(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, _ := newTestJobRepo(db)

		res, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-release").Build())
		require.NoError(t, err)
		claim, err := repo.Claim(ctx, res.JobID)
		require.NoError(t, err)

		ok, err := repo.Release(ctx, res.JobID, claim.RunID)
		require.NoError(t, err)
		assert.True(t, ok)

		job, err := repo.GetByID(ctx, res.JobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Nil(t, job.RunID)

		reclaim, err := repo.Claim(ctx, res.JobID)
		require.NoError(t, err)
		require.True(t, reclaim.Claimed)
		assert.NotEqual(t, claim.RunID, reclaim.RunID)

		_, err = repo.Enqueue(ctx, testutil.NewEnqueueRequest().WithDocument("doc-release").Build())
		require.NoError(t, err)
		ok, err = repo.Release(ctx, res.JobID, reclaim.RunID)
		require.NoError(t, err)
		assert.False(t, ok, "newer pending job for the scope wins")
	})
}
