package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"vitalwatch/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_PeriodicInvocation(t *testing.T) {
	s := scheduler.NewScheduler(zap.NewNop())
	defer s.StopAll()

	var ticks int64
	s.Start(context.Background(), "vitals", 10*time.Millisecond, 0, func(ctx context.Context, seq uint64) error {
		atomic.AddInt64(&ticks, 1)
		return nil
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) >= 3
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.Running("vitals"))
}

func TestScheduler_OverlappingTicksAreSkipped(t *testing.T) {
	s := scheduler.NewScheduler(zap.NewNop())
	defer s.StopAll()

	var started int64
	release := make(chan struct{})

	s.Start(context.Background(), "slow", 10*time.Millisecond, time.Minute, func(ctx context.Context, seq uint64) error {
		atomic.AddInt64(&started, 1)
		<-release
		return nil
	})

	// Several intervals elapse while the first invocation blocks.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&started))

	close(release)
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&started) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StaleResponseDiscarded(t *testing.T) {
	s := scheduler.NewScheduler(zap.NewNop())
	defer s.StopAll()

	s.Start(context.Background(), "vitals", time.Hour, time.Hour, func(ctx context.Context, seq uint64) error {
		return nil
	})

	var state uint64
	// Tick #3 completes and applies first.
	applied := s.Apply("vitals", 3, func() { state = 3 })
	require.True(t, applied)

	// Tick #2 resolves late: its payload must not overwrite #3's.
	applied = s.Apply("vitals", 2, func() { state = 2 })
	assert.False(t, applied)
	assert.Equal(t, uint64(3), state)

	// A newer tick still applies.
	applied = s.Apply("vitals", 4, func() { state = 4 })
	assert.True(t, applied)
	assert.Equal(t, uint64(4), state)
}

func TestScheduler_ApplyAfterStopDiscarded(t *testing.T) {
	s := scheduler.NewScheduler(zap.NewNop())

	s.Start(context.Background(), "history", time.Hour, time.Hour, func(ctx context.Context, seq uint64) error {
		return nil
	})
	s.Stop("history")

	// The in-flight result arrives after teardown.
	applied := s.Apply("history", 1, func() { t.Fatal("must not apply after stop") })
	assert.False(t, applied)
}

func TestScheduler_PauseResume(t *testing.T) {
	s := scheduler.NewScheduler(zap.NewNop())
	defer s.StopAll()

	var ticks int64
	s.Start(context.Background(), "vitals", 10*time.Millisecond, 0, func(ctx context.Context, seq uint64) error {
		atomic.AddInt64(&ticks, 1)
		return nil
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) >= 1
	}, time.Second, 5*time.Millisecond)

	s.PauseAll()
	assert.True(t, s.Paused())
	paused := atomic.LoadInt64(&ticks)

	// Simulated wall time passes while paused: at most one in-flight tick
	// may still land, then nothing.
	time.Sleep(60 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt64(&ticks), paused+1)

	s.ResumeAll()
	assert.False(t, s.Paused())
	resumed := atomic.LoadInt64(&ticks)
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) > resumed
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := scheduler.NewScheduler(zap.NewNop())

	s.Start(context.Background(), "vitals", time.Hour, 0, func(ctx context.Context, seq uint64) error {
		return nil
	})

	s.Stop("vitals")
	s.Stop("vitals")
	s.Stop("never-started")
	assert.False(t, s.Running("vitals"))

	s.StopAll()
	s.StopAll()
}

func TestScheduler_TaskErrorDoesNotStopTimer(t *testing.T) {
	s := scheduler.NewScheduler(zap.NewNop())
	defer s.StopAll()

	var ticks int64
	s.Start(context.Background(), "flaky", 10*time.Millisecond, 0, func(ctx context.Context, seq uint64) error {
		atomic.AddInt64(&ticks, 1)
		return context.DeadlineExceeded
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) >= 3
	}, time.Second, 5*time.Millisecond)
}
