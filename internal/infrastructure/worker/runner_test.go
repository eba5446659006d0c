package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orseries/pkg/logger"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) Obtain(_ context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrLocked
	}
	l.held[key] = true
	return &fakeLease{l: l, key: key}, nil
}

type fakeLease struct {
	l   *fakeLocker
	key string
}

func (f *fakeLease) Release(context.Context) error {
	f.l.mu.Lock()
	defer f.l.mu.Unlock()
	delete(f.l.held, f.key)
	f.l.released = append(f.l.released, f.key)
	return nil
}

func TestRunner_TickSkipsWhenLocked(t *testing.T) {
	locker := newFakeLocker()
	r := NewRunner(Config{Locker: locker, KeyPrefix: "test:", Logger: logger.Nop()})

	calls := 0
	job := Job{Name: "j", Interval: time.Second, Run: func(context.Context) error {
		calls++
		return nil
	}}

	locker.held["test:j"] = true
	ran, err := r.Tick(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 0, calls)

	delete(locker.held, "test:j")
	ran, err = r.Tick(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"test:j"}, locker.released)
}

func TestRunner_TickReleasesOnFailure(t *testing.T) {
	locker := newFakeLocker()
	r := NewRunner(Config{Locker: locker, Logger: logger.Nop()})

	job := Job{Name: JobMonitor, Interval: time.Second, Run: func(context.Context) error {
		return errors.New("boom")
	}}
	ran, err := r.Tick(context.Background(), job)
	assert.True(t, ran)
	assert.ErrorContains(t, err, "series_monitor: boom")
	assert.Empty(t, locker.held)
}

func TestRunner_SkipsDisabledJobs(t *testing.T) {
	noop := func(context.Context) error { return nil }
	r := NewRunner(Config{Logger: logger.Nop()},
		Job{Name: "on", Interval: time.Second, Run: noop},
		Job{Name: "off", Interval: 0, Run: noop},
		ExpireJob(nil, 0, 10, time.Minute),
	)
	assert.Equal(t, []string{"on"}, r.Jobs())
}

func TestRunner_RunUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner(Config{Logger: logger.Nop()}, Job{
		Name:     "fast",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("keeps going")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

type fakeRelay struct {
	batches []int
	calls   int
	moved   int64
	cutoff  time.Time
}

func (f *fakeRelay) ProcessBatch(context.Context) (int, error) {
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func (f *fakeRelay) MoveToDLQ(context.Context) (int64, error) { return f.moved, nil }

func (f *fakeRelay) PurgePublished(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 0, nil
}

func TestOutboxJob_DrainsFullBatches(t *testing.T) {
	relay := &fakeRelay{batches: []int{10, 10, 3}}
	job := OutboxJob(relay, 10, time.Second)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, relay.calls)
}

func TestOutboxMaintenanceJob(t *testing.T) {
	relay := &fakeRelay{moved: 2}
	job := OutboxMaintenanceJob(relay, 24*time.Hour, time.Minute, logger.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), relay.cutoff, time.Minute)
}

type fakeExpirer struct {
	olderThan time.Duration
	limit     int
}

func (f *fakeExpirer) ExpireStale(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	f.olderThan, f.limit = olderThan, limit
	return 0, nil
}

func TestExpireJob(t *testing.T) {
	e := &fakeExpirer{}
	job := ExpireJob(e, 48*time.Hour, 200, time.Minute)

	assert.Equal(t, time.Minute, job.Interval)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 48*time.Hour, e.olderThan)
	assert.Equal(t, 200, e.limit)
}
