package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic fetch. seq is the tick's sequence number for the
// named timer; a task that wants to publish its result must do so through
// Apply with the same seq so stale completions are discarded.
type Task func(ctx context.Context, seq uint64) error

// Scheduler runs N independent named timers. Overlapping invocations of
// the same timer are skipped, not queued, which makes each timer's apply
// callback the single writer for the state it owns.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*timer
	paused bool
	logger *zap.Logger
}

type timer struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     Task
	cancel   context.CancelFunc

	inFlight    bool
	nextSeq     uint64
	lastApplied uint64
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*timer),
		logger: logger,
	}
}

// Start begins periodic invocation of task under the given name. Starting
// a name that is already running restarts it with the new settings. The
// first invocation is attempted immediately, then every interval. A
// non-positive timeout defaults to the interval itself, so a hung fetch
// never outlives its own cadence.
func (s *Scheduler) Start(ctx context.Context, name string, interval time.Duration, timeout time.Duration, task Task) {
	if timeout <= 0 {
		timeout = interval
	}

	s.Stop(name)

	tctx, cancel := context.WithCancel(ctx)
	t := &timer{
		name:     name,
		interval: interval,
		timeout:  timeout,
		task:     task,
		cancel:   cancel,
	}

	s.mu.Lock()
	s.timers[name] = t
	s.mu.Unlock()

	s.logger.Info("Timer started",
		zap.String("timer", name),
		zap.Duration("interval", interval),
	)

	go s.run(tctx, t)
}

func (s *Scheduler) run(ctx context.Context, t *timer) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Fire once right away so a fresh view is not blank for a full interval.
	s.tick(ctx, t)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick launches one invocation unless the timer is paused or the previous
// invocation is still in flight.
func (s *Scheduler) tick(ctx context.Context, t *timer) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	if t.inFlight {
		s.mu.Unlock()
		s.logger.Debug("Tick skipped, previous invocation still in flight",
			zap.String("timer", t.name),
		)
		return
	}
	t.inFlight = true
	t.nextSeq++
	seq := t.nextSeq
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			t.inFlight = false
			s.mu.Unlock()
		}()

		taskCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		if err := t.task(taskCtx, seq); err != nil {
			s.logger.Warn("Timer task failed",
				zap.String("timer", t.name),
				zap.Uint64("seq", seq),
				zap.Error(err),
			)
		}
	}()
}

// Apply publishes the result of tick seq for the named timer. A result
// whose sequence number is lower than the last applied one has been
// superseded and is discarded without running fn. Returns whether fn ran.
func (s *Scheduler) Apply(name string, seq uint64, fn func()) bool {
	s.mu.Lock()
	t, ok := s.timers[name]
	if !ok {
		// Timer stopped (view teardown, patient deselect): the in-flight
		// result is discarded.
		s.mu.Unlock()
		return false
	}
	if seq < t.lastApplied {
		s.mu.Unlock()
		s.logger.Debug("Stale response discarded",
			zap.String("timer", name),
			zap.Uint64("seq", seq),
			zap.Uint64("last_applied", t.lastApplied),
		)
		return false
	}
	t.lastApplied = seq
	s.mu.Unlock()

	fn()
	return true
}

// PauseAll suspends every timer. In-flight invocations complete; no
// further ticks fire until ResumeAll. Cached state is untouched.
func (s *Scheduler) PauseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.logger.Info("All timers paused")
}

// ResumeAll re-enables ticking.
func (s *Scheduler) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.logger.Info("All timers resumed")
}

// Paused reports whether the scheduler is suspended.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stop cancels the named timer. Stopping an unknown or already-stopped
// timer is a no-op.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	t, ok := s.timers[name]
	if ok {
		delete(s.timers, name)
	}
	s.mu.Unlock()

	if ok {
		t.cancel()
		s.logger.Info("Timer stopped", zap.String("timer", name))
	}
}

// StopAll cancels every timer. Used on view teardown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	timers := make([]*timer, 0, len(s.timers))
	for _, t := range s.timers {
		timers = append(timers, t)
	}
	s.timers = make(map[string]*timer)
	s.mu.Unlock()

	for _, t := range timers {
		t.cancel()
	}
	if len(timers) > 0 {
		s.logger.Info("All timers stopped", zap.Int("count", len(timers)))
	}
}

// Running reports whether the named timer exists.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}
