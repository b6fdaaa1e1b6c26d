// Package scheduler runs the simulation's repeating jobs. Each job owns
// its own timer goroutine, never overlaps with itself, and survives tick
// failures: a failed tick is logged and the next interval retries
// naturally because windows span many ticks.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/platform/timeouts"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/storage"
	"github.com/mockingbird-labs/minifirm/internal/simclock"
)

// Job is one independently scheduled repeating task.
type Job struct {
	Name string
	// Interval yields the wait before the next tick. Dynamic intervals
	// let a job tighten its cadence inside a busy window.
	Interval func(now time.Time) time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// FixedInterval returns an interval func that always waits d.
func FixedInterval(d time.Duration) func(time.Time) time.Duration {
	return func(time.Time) time.Duration { return d }
}

// Set drives a group of jobs against one simulation clock and persists
// scheduler state after each completed tick.
type Set struct {
	clock  *simclock.Clock
	store  storage.Store
	logger *log.Logger
	jobs   []Job

	mu    sync.Mutex
	state storage.SchedulerState
}

// NewSet builds a scheduler set. The initial state carries the RNG seed
// and any last-tick times recovered from storage.
func NewSet(clock *simclock.Clock, store storage.Store, logger *log.Logger, state storage.SchedulerState, jobs []Job) *Set {
	if logger == nil {
		logger = log.Default()
	}
	if state.LastTicks == nil {
		state.LastTicks = make(map[string]time.Time)
	}
	return &Set{
		clock:  clock,
		store:  store,
		logger: logger,
		jobs:   jobs,
		state:  state,
	}
}

// Run starts one goroutine per job and blocks until ctx is canceled and
// every in-flight tick has drained.
func (s *Set) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runLoop(ctx, job)
		}(job)
	}
	wg.Wait()
}

// runLoop resets the timer only after the tick finishes, so a slow tick
// delays the next one instead of racing it.
func (s *Set) runLoop(ctx context.Context, job Job) {
	timer := time.NewTimer(job.Interval(s.clock.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.tick(ctx, job)

		select {
		case <-ctx.Done():
			return
		default:
		}
		timer.Reset(job.Interval(s.clock.Now()))
	}
}

func (s *Set) tick(ctx context.Context, job Job) {
	now := s.clock.Now()
	tickCtx, cancel := context.WithTimeout(ctx, timeouts.SchedulerTick)
	defer cancel()

	if err := job.Run(tickCtx, now); err != nil {
		s.logger.Printf("job %s: tick failed: %v", job.Name, err)
		return
	}
	s.recordTick(tickCtx, job.Name, now)
}

func (s *Set) recordTick(ctx context.Context, name string, at time.Time) {
	s.mu.Lock()
	s.state.LastTicks[name] = at.UTC()
	snapshot := storage.SchedulerState{
		Seed:      s.state.Seed,
		LastTicks: make(map[string]time.Time, len(s.state.LastTicks)),
	}
	for job, tick := range s.state.LastTicks {
		snapshot.LastTicks[job] = tick
	}
	s.mu.Unlock()

	if err := s.store.SaveSchedulerState(ctx, snapshot); err != nil {
		s.logger.Printf("job %s: persist scheduler state: %v", name, err)
	}
}

// LastTick reports when a job last completed.
func (s *Set) LastTick(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.state.LastTicks[name]
	return at, ok
}
