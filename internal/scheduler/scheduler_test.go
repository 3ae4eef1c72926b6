package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

type fakeRunner struct {
	name  string
	calls int32
	err   error
	// block, when set, holds every run until it is closed.
	block chan struct{}

	mu      sync.Mutex
	filters []schemas.ListingFilter
}

func (f *fakeRunner) Portal() string { return f.name }

func (f *fakeRunner) Run(ctx context.Context, filter schemas.ListingFilter) (*schemas.HarvestResult, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &schemas.HarvestResult{Portal: f.name, Success: true}, nil
}

func (f *fakeRunner) count() int { return int(atomic.LoadInt32(&f.calls)) }

func staticFilter(now time.Time) schemas.ListingFilter {
	return schemas.ListingFilter{DateTo: now.Format("2006-01-02")}
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := New(logger, []Job{{Runner: &fakeRunner{name: "a"}, Filter: staticFilter}})
	assert.ErrorContains(t, err, "interval must be positive")

	_, err = New(logger, []Job{{Interval: time.Second, Filter: staticFilter}})
	assert.Error(t, err)
}

func TestStart_NoJobs(t *testing.T) {
	s, err := New(zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}

func TestStart_RunsEachPortalOnItsInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	fast := &fakeRunner{name: "fast"}
	failing := &fakeRunner{name: "failing", err: errors.New("authentication failed")}
	s, err := New(zaptest.NewLogger(t), []Job{
		{Runner: fast, Interval: 10 * time.Millisecond, Filter: staticFilter},
		{Runner: failing, Interval: 10 * time.Millisecond, Filter: staticFilter},
	}, WithRunOnStart())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return fast.count() >= 3 && failing.count() >= 3 },
		2*time.Second, 5*time.Millisecond, "a failing portal keeps being scheduled")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestTrigger_SkipsOverlappingRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{name: "slow", block: make(chan struct{})}
	job := Job{Runner: runner, Interval: time.Hour, Filter: staticFilter}
	s, err := New(zaptest.NewLogger(t), []Job{job})
	require.NoError(t, err)

	first := make(chan bool, 1)
	go func() { first <- s.Trigger(context.Background(), job) }()
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, time.Millisecond)

	assert.False(t, s.Trigger(context.Background(), job), "second run of the same portal is skipped")
	assert.Equal(t, 1, runner.count())

	close(runner.block)
	assert.True(t, <-first)
	assert.True(t, s.Trigger(context.Background(), job), "runs resume once the portal is free")
}

func TestTrigger_PortalsAreIndependent(t *testing.T) {
	blocked := &fakeRunner{name: "a", block: make(chan struct{})}
	other := &fakeRunner{name: "b"}
	jobA := Job{Runner: blocked, Interval: time.Hour, Filter: staticFilter}
	jobB := Job{Runner: other, Interval: time.Hour, Filter: staticFilter}
	s, err := New(zaptest.NewLogger(t), []Job{jobA, jobB})
	require.NoError(t, err)

	go s.Trigger(context.Background(), jobA)
	require.Eventually(t, func() bool { return blocked.count() == 1 }, time.Second, time.Millisecond)

	assert.True(t, s.Trigger(context.Background(), jobB))
	close(blocked.block)
}

func TestTrigger_UsesFilterForStartTime(t *testing.T) {
	runner := &fakeRunner{name: "a"}
	s, err := New(zaptest.NewLogger(t), []Job{{Runner: runner, Interval: time.Hour, Filter: staticFilter}})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC) }

	s.Trigger(context.Background(), s.jobs[0])
	require.Len(t, runner.filters, 1)
	assert.Equal(t, "2024-05-02", runner.filters[0].DateTo)
}
