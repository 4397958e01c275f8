// Package scheduler turns experiment schedules into timed invocations of
// the execution engine.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/breakpoint-labs/havoc/pkg/log"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

// ExecuteFunc is the scheduler's hook into the engine; invoked once per
// firing with the experiment id
type ExecuteFunc func(experimentID string)

type entry struct {
	cancel context.CancelFunc
}

// Scheduler arms one cancellable timer goroutine per scheduled experiment.
// Recurring schedules fire without waiting for the previous run to finish,
// so overlapping executions of the same experiment are possible.
type Scheduler struct {
	execute ExecuteFunc

	mu     sync.Mutex
	timers map[string]*entry
	wg     sync.WaitGroup
}

// New returns a scheduler dispatching into the given execute hook
func New(execute ExecuteFunc) *Scheduler {
	return &Scheduler{
		execute: execute,
		timers:  make(map[string]*entry),
	}
}

// Schedule registers the experiment's schedule, replacing any previous
// registration for the same id. A disabled experiment or schedule only
// cancels the existing timer.
func (s *Scheduler) Schedule(exp types.Experiment) {
	s.Unschedule(exp.ID)

	if exp.Schedule == nil || !exp.Enabled || !exp.Schedule.Enabled {
		return
	}

	switch exp.Schedule.Type {
	case types.ScheduleOneOff, types.ScheduleRecurring:
	default:
		log.Errorf("[Scheduler]: Unknown schedule type '%s' for experiment %s", exp.Schedule.Type, exp.ID)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{cancel: cancel}
	s.mu.Lock()
	s.timers[exp.ID] = e
	s.mu.Unlock()

	s.wg.Add(1)
	if exp.Schedule.Type == types.ScheduleOneOff {
		go s.runOneOff(ctx, exp, e)
	} else {
		go s.runRecurring(ctx, exp)
	}
}

// Unschedule cancels any outstanding timer for the experiment; idempotent
func (s *Scheduler) Unschedule(experimentID string) {
	s.mu.Lock()
	e, ok := s.timers[experimentID]
	if ok {
		delete(s.timers, experimentID)
	}
	s.mu.Unlock()
	if ok {
		e.cancel()
	}
}

// Stop cancels every timer and waits for the timer goroutines to exit.
// In-flight executions are not touched.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, e := range s.timers {
		e.cancel()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) runOneOff(ctx context.Context, exp types.Experiment, self *entry) {
	defer s.wg.Done()
	// drop our registration once spent, but never a newer one for the
	// same experiment
	defer func() {
		s.mu.Lock()
		if s.timers[exp.ID] == self {
			delete(s.timers, exp.ID)
		}
		s.mu.Unlock()
	}()

	delay := time.Until(exp.Schedule.StartTime)
	if delay <= 0 {
		// no retroactive runs
		log.Warnf("[Scheduler]: Start time for experiment %s is in the past, skipping", exp.ID)
		return
	}

	log.Infof("[Scheduler]: Experiment %s armed to fire in %s", exp.ID, delay.Round(time.Second))
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
		s.execute(exp.ID)
	}
}

func (s *Scheduler) runRecurring(ctx context.Context, exp types.Experiment) {
	defer s.wg.Done()

	log.Infof("[Scheduler]: Experiment %s armed to fire every %s", exp.ID, exp.Schedule.Interval)
	ticker := time.NewTicker(exp.Schedule.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// fire without waiting for the previous run
			go s.execute(exp.ID)
		}
	}
}
