package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
	"github.com/Sophanos/saga-sub015/internal/mocks"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

func docJob(id string, kind model.JobKind) *model.Job {
	return &model.Job{
		ID:      id,
		Kind:    kind,
		Scope:   model.Scope{ProjectID: "proj-1", UserID: "user-1", DocumentID: "doc-1"},
		Payload: json.RawMessage(`{"document_id":"doc-1"}`),
		Status:  model.JobStatusPending,
	}
}

func claimAll(repo *mocks.MockJobRepository) {
	repo.EXPECT().Claim(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) (model.ClaimResult, error) {
			return model.ClaimResult{Claimed: true, RunID: "run-" + id}, nil
		}).AnyTimes()
}

func newDispatcher(t *testing.T, repo core.JobRepository, reg *core.Registry, caps core.CapabilitySet) (*Dispatcher, *statsd.Recorder) {
	t.Helper()
	rec := statsd.NewRecorder()
	d, err := New(Options{Jobs: repo, Registry: reg, Capabilities: caps, Concurrency: 2, Metrics: rec})
	require.NoError(t, err)
	return d, rec
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	jobs := make([]*model.Job, 5)
	for i := range jobs {
		jobs[i] = docJob(fmt.Sprintf("job-%d", i+1), model.JobKindDetectEntities)
	}
	repo.EXPECT().GetPendingJobs(gomock.Any(), 10).Return(jobs, nil)
	claimAll(repo)
	repo.EXPECT().Finalize(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p model.FinalizeParams) (bool, error) {
			assert.Equal(t, "run-"+p.JobID, p.RunID)
			assert.Equal(t, "handled "+p.JobID, p.Summary)
			return true, nil
		}).Times(4)
	repo.EXPECT().MarkFailed(gomock.Any(), model.MarkFailedParams{
		JobID: "job-3", RunID: "run-job-3", Error: "detector exploded",
	}).Return(true, nil)

	reg := core.NewRegistry()
	require.NoError(t, reg.Register(model.JobKindDetectEntities,
		func(_ context.Context, job *model.Job, p model.Payload) (model.HandlerResult, error) {
			assert.Equal(t, "doc-1", p.(model.DocumentPayload).DocumentID)
			if job.ID == "job-3" {
				return model.HandlerResult{}, errors.New("detector exploded")
			}
			return model.HandlerResult{Summary: "handled " + job.ID}, nil
		}))

	d, rec := newDispatcher(t, repo, reg, nil)
	report, err := d.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Fetched)
	assert.Equal(t, 5, report.Claimed)
	assert.Equal(t, 4, report.Done)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Outcomes, 5)
	assert.InDelta(t, 1.0, rec.Sum("job.transition", map[string]string{"transition": "failed"}), 1e-9)
	assert.InDelta(t, 1.0, rec.Sum("dispatch.run", map[string]string{"result": "error"}), 1e-9)
}

func TestDispatcher_EmptyQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetPendingJobs(gomock.Any(), 3).Return(nil, nil)

	d, rec := newDispatcher(t, repo, core.NewRegistry(), nil)
	report, err := d.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
	assert.InDelta(t, 1.0, rec.Sum("dispatch.run", map[string]string{"result": "noop"}), 1e-9)
}

func TestDispatcher_BatchSizeClamped(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetPendingJobs(gomock.Any(), MaxBatchSize).Return(nil, nil)

	d, _ := newDispatcher(t, repo, core.NewRegistry(), nil)
	_, err := d.Run(context.Background(), 100)
	require.NoError(t, err)
}

func TestDispatcher_FetchError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	d, _ := newDispatcher(t, repo, core.NewRegistry(), nil)
	_, err := d.Run(context.Background(), 5)
	require.ErrorContains(t, err, "db down")
}

func TestDispatcher_LostClaim(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{docJob("job-1", model.JobKindDetectEntities)}, nil)
	repo.EXPECT().Claim(gomock.Any(), "job-1").Return(model.ClaimResult{}, nil)

	var calls atomic.Int32
	reg := core.NewRegistry()
	require.NoError(t, reg.Register(model.JobKindDetectEntities,
		func(context.Context, *model.Job, model.Payload) (model.HandlerResult, error) {
			calls.Add(1)
			return model.HandlerResult{}, nil
		}))

	d, _ := newDispatcher(t, repo, reg, nil)
	report, err := d.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Raced)
	assert.Zero(t, report.Claimed)
	assert.Zero(t, calls.Load(), "handler must not run for a lost claim")
}

func TestDispatcher_UnconfiguredDependencyLeavesJobPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	emb := docJob("job-emb", model.JobKindEmbeddingGeneration)
	emb.Payload = json.RawMessage(`{"target_type":"document","target_id":"doc-1"}`)
	det := docJob("job-det", model.JobKindDetectEntities)
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{emb, det}, nil)
	// Only the detect job may be claimed.
	repo.EXPECT().Claim(gomock.Any(), "job-det").Return(model.ClaimResult{Claimed: true, RunID: "r1"}, nil)
	repo.EXPECT().Finalize(gomock.Any(), gomock.Any()).Return(true, nil)

	reg := core.NewRegistry()
	ok := func(context.Context, *model.Job, model.Payload) (model.HandlerResult, error) {
		return model.HandlerResult{Summary: "ok"}, nil
	}
	require.NoError(t, reg.Register(model.JobKindEmbeddingGeneration, ok, core.CapEmbedding, core.CapVectorIndex))
	require.NoError(t, reg.Register(model.JobKindDetectEntities, ok, core.CapEntityDetection))

	d, _ := newDispatcher(t, repo, reg, core.CapabilitySet{core.CapEntityDetection: true, core.CapEmbedding: true})
	report, err := d.Run(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Done)
	for _, o := range report.Outcomes {
		if o.JobID == "job-emb" {
			assert.Equal(t, OutcomeSkipped, o.Outcome)
			assert.Equal(t, []core.Capability{core.CapVectorIndex}, o.Missing)
		}
	}
}

func TestDispatcher_HandlerReportsUnconfigured(t *testing.T) {
	unconfigured := func(context.Context, *model.Job, model.Payload) (model.HandlerResult, error) {
		return model.HandlerResult{}, apperrors.DependencyUnconfigured("embedding service")
	}

	t.Run("released", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{docJob("job-1", model.JobKindDigestDocument)}, nil)
		claimAll(repo)
		repo.EXPECT().Release(gomock.Any(), "job-1", "run-job-1").Return(true, nil)

		reg := core.NewRegistry()
		require.NoError(t, reg.Register(model.JobKindDigestDocument, unconfigured))
		d, _ := newDispatcher(t, repo, reg, nil)

		report, err := d.Run(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Released)
		assert.Zero(t, report.Failed)
	})

	t.Run("release refused falls back to failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{docJob("job-1", model.JobKindDigestDocument)}, nil)
		claimAll(repo)
		repo.EXPECT().Release(gomock.Any(), "job-1", "run-job-1").Return(false, nil)
		repo.EXPECT().MarkFailed(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, p model.MarkFailedParams) (bool, error) {
				assert.Contains(t, p.Error, "embedding service is not configured")
				return true, nil
			})

		reg := core.NewRegistry()
		require.NoError(t, reg.Register(model.JobKindDigestDocument, unconfigured))
		d, _ := newDispatcher(t, repo, reg, nil)

		report, err := d.Run(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
	})
}

func TestDispatcher_UnknownKindFailsOnlyThatJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{
		docJob("job-1", model.JobKindWatchlistScan),
		docJob("job-2", model.JobKindDetectEntities),
	}, nil)
	claimAll(repo)
	repo.EXPECT().MarkFailed(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p model.MarkFailedParams) (bool, error) {
			assert.Equal(t, "job-1", p.JobID)
			assert.Contains(t, p.Error, "watchlist_scan")
			return true, nil
		})
	repo.EXPECT().Finalize(gomock.Any(), gomock.Any()).Return(true, nil)

	reg := core.NewRegistry()
	require.NoError(t, reg.Register(model.JobKindDetectEntities,
		func(context.Context, *model.Job, model.Payload) (model.HandlerResult, error) {
			return model.HandlerResult{Summary: "No entities detected."}, nil
		}))
	d, _ := newDispatcher(t, repo, reg, nil)

	report, err := d.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Done)
}

func TestDispatcher_InvalidPayloadFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	bad := docJob("job-1", model.JobKindDetectEntities)
	bad.Payload = json.RawMessage(`{"doc":"x"}`)
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{bad}, nil)
	claimAll(repo)
	repo.EXPECT().MarkFailed(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p model.MarkFailedParams) (bool, error) {
			assert.Contains(t, p.Error, "decode payload")
			return true, nil
		})

	reg := core.NewRegistry()
	require.NoError(t, reg.Register(model.JobKindDetectEntities,
		func(context.Context, *model.Job, model.Payload) (model.HandlerResult, error) {
			t.Error("handler must not run with an invalid payload")
			return model.HandlerResult{}, nil
		}))
	d, _ := newDispatcher(t, repo, reg, nil)

	report, err := d.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestDispatcher_PanicRecorded(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{docJob("job-1", model.JobKindDetectEntities)}, nil)
	claimAll(repo)
	repo.EXPECT().MarkFailed(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p model.MarkFailedParams) (bool, error) {
			assert.Contains(t, p.Error, "handler panic: nil map")
			return true, nil
		})

	reg := core.NewRegistry()
	require.NoError(t, reg.Register(model.JobKindDetectEntities,
		func(context.Context, *model.Job, model.Payload) (model.HandlerResult, error) {
			panic("nil map")
		}))
	d, _ := newDispatcher(t, repo, reg, nil)

	report, err := d.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestDispatcher_BenignSkipFinalizes(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{docJob("job-1", model.JobKindDetectEntities)}, nil)
	claimAll(repo)
	repo.EXPECT().Finalize(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p model.FinalizeParams) (bool, error) {
			assert.Equal(t, "document doc-1 not found", p.Summary)
			return true, nil
		})

	reg := core.NewRegistry()
	require.NoError(t, reg.Register(model.JobKindDetectEntities,
		func(context.Context, *model.Job, model.Payload) (model.HandlerResult, error) {
			return model.HandlerResult{}, apperrors.NotFoundf("document %s not found", "doc-1")
		}))
	d, _ := newDispatcher(t, repo, reg, nil)

	report, err := d.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Done)
}

func TestDispatcher_StaleRunIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return([]*model.Job{docJob("job-1", model.JobKindDetectEntities)}, nil)
	claimAll(repo)
	repo.EXPECT().Finalize(gomock.Any(), gomock.Any()).Return(false, nil)

	reg := core.NewRegistry()
	require.NoError(t, reg.Register(model.JobKindDetectEntities,
		func(context.Context, *model.Job, model.Payload) (model.HandlerResult, error) {
			return model.HandlerResult{Summary: "late"}, nil
		}))
	d, _ := newDispatcher(t, repo, reg, nil)

	report, err := d.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, report.Done)
	assert.Equal(t, OutcomeStale, report.Outcomes[0].Outcome)
}

func TestDispatcher_ConcurrencyBound(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	jobs := make([]*model.Job, 8)
	for i := range jobs {
		jobs[i] = docJob(fmt.Sprintf("job-%d", i), model.JobKindDetectEntities)
	}
	repo.EXPECT().GetPendingJobs(gomock.Any(), gomock.Any()).Return(jobs, nil)
	claimAll(repo)
	repo.EXPECT().Finalize(gomock.Any(), gomock.Any()).Return(true, nil).Times(len(jobs))

	var (
		mu            sync.Mutex
		active, peak  int
		handledByJobs = map[string]int{}
	)
	reg := core.NewRegistry()
	require.NoError(t, reg.Register(model.JobKindDetectEntities,
		func(_ context.Context, job *model.Job, _ model.Payload) (model.HandlerResult, error) {
			mu.Lock()
			active++
			peak = max(peak, active)
			handledByJobs[job.ID]++
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return model.HandlerResult{Summary: "ok"}, nil
		}))

	d, err := New(Options{Jobs: repo, Registry: reg, Concurrency: 3})
	require.NoError(t, err)
	report, err := d.Run(context.Background(), 8)
	require.NoError(t, err)

	assert.Equal(t, 8, report.Done)
	assert.LessOrEqual(t, peak, 3)
	assert.Len(t, handledByJobs, 8)
	for id, n := range handledByJobs {
		assert.Equal(t, 1, n, "job %s handled more than once", id)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Registry: core.NewRegistry()})
	require.Error(t, err)
	_, err = New(Options{Jobs: mocks.NewMockJobRepository(gomock.NewController(t))})
	require.Error(t, err)

	d, err := New(Options{Jobs: mocks.NewMockJobRepository(gomock.NewController(t)), Registry: core.NewRegistry(), Concurrency: 50, BatchSize: 99})
	require.NoError(t, err)
	assert.Equal(t, MaxConcurrency, d.concurrency)
	assert.Equal(t, MaxBatchSize, d.batchSize)
}
