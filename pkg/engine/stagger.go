package engine

import (
	"sync"
	"time"
)

// Stagger spreads a burst of sends to one terminal over time so a bulk
// push does not flood the device's receive buffer. Each scheduled call
// fires once after its delay unless the stagger is stopped first.
type Stagger struct {
	step time.Duration

	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

// NewStagger creates a stagger with the given step between consecutive
// sends of one burst.
func NewStagger(step time.Duration) *Stagger {
	return &Stagger{
		step:   step,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Step returns the configured delay between consecutive items.
func (s *Stagger) Step() time.Duration {
	return s.step
}

// Schedule runs fn after index*step. Index 0 runs immediately on a
// separate goroutine. Scheduling after Stop is a no-op.
func (s *Stagger) Schedule(index int, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)

	var timer *time.Timer
	timer = time.AfterFunc(time.Duration(index)*s.step, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, timer)
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		fn()
	})
	s.timers[timer] = struct{}{}
	s.mu.Unlock()
}

// Stop cancels all pending timers and waits for running callbacks.
func (s *Stagger) Stop() {
	s.mu.Lock()
	s.stopped = true
	for timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.timers, timer)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
