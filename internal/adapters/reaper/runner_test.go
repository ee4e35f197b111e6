package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/mocks"
)

func TestNewRunner_RequiresStore(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Config: config.ReaperConfig{Interval: time.Minute, BatchSize: 10}})
	require.Error(t, err)
}

func TestRunner_RunOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().ReleaseStaleClaims(gomock.Any(), 15*time.Minute, 10).Return(int64(0), nil)
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(2)

	r, err := NewRunner(RunnerOptions{
		Repo: repo,
		Config: config.ReaperConfig{
			Interval:     time.Minute,
			ClaimTimeout: 15 * time.Minute,
			DoneMaxAge:   time.Hour,
			FailedMaxAge: time.Hour,
			BatchSize:    10,
		},
	})
	require.NoError(t, err)

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Total())
}
