package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sophanos/saga-sub015/internal/adapters/dispatcher"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

type fakeDispatch struct {
	mu     sync.Mutex
	calls  int
	batch  int
	report dispatcher.RunReport
	err    error
}

func (f *fakeDispatch) Run(_ context.Context, batchSize int) (dispatcher.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batch = batchSize
	return f.report, f.err
}

func (f *fakeDispatch) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLock struct {
	held     map[string][]byte
	setErr   error
	released int
}

func (l *fakeLock) SetIfNotExists(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if l.setErr != nil {
		return false, l.setErr
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = value
	return true, nil
}

func (l *fakeLock) ReleaseIfOwner(_ context.Context, key string, token []byte) (bool, error) {
	if string(l.held[key]) != string(token) {
		return false, nil
	}
	delete(l.held, key)
	l.released++
	return true, nil
}

func TestNewRunner_RequiresDispatch(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}

func TestRunner_TickWithoutLock(t *testing.T) {
	d := &fakeDispatch{report: dispatcher.RunReport{Fetched: 3, Done: 3}}
	rec := statsd.NewRecorder()
	r, err := NewRunner(RunnerOptions{Dispatch: d, BatchSize: 7, Metrics: rec})
	require.NoError(t, err)

	ran, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 7, d.batch)
	assert.InDelta(t, 1.0, rec.Sum("scheduler.tick", map[string]string{"result": "success"}), 0)
}

func TestRunner_TickSkipsWhenLockHeld(t *testing.T) {
	d := &fakeDispatch{}
	lock := &fakeLock{held: map[string][]byte{DefaultLockKey: []byte("other")}}
	rec := statsd.NewRecorder()
	r, err := NewRunner(RunnerOptions{Dispatch: d, Lock: lock, Metrics: rec})
	require.NoError(t, err)

	ran, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 0, d.count())
	assert.Equal(t, []byte("other"), lock.held[DefaultLockKey])
	assert.InDelta(t, 1.0, rec.Sum("scheduler.tick", map[string]string{"result": "skipped"}), 0)
}

func TestRunner_TickReleasesLock(t *testing.T) {
	d := &fakeDispatch{err: errors.New("fetch failed")}
	lock := &fakeLock{held: map[string][]byte{}}
	r, err := NewRunner(RunnerOptions{Dispatch: d, Lock: lock})
	require.NoError(t, err)

	ran, err := r.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, lock.released)
	assert.Empty(t, lock.held)
}

func TestRunner_TickRunsUnlockedOnLockError(t *testing.T) {
	d := &fakeDispatch{}
	lock := &fakeLock{held: map[string][]byte{}, setErr: errors.New("redis down")}
	r, err := NewRunner(RunnerOptions{Dispatch: d, Lock: lock})
	require.NoError(t, err)

	ran, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, d.count())
}

func TestRunner_RunTicksUntilCancelled(t *testing.T) {
	d := &fakeDispatch{}
	r, err := NewRunner(RunnerOptions{Dispatch: d, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return d.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
