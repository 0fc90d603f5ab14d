package sched

import (
	"errors"
	"fmt"
)

// ErrBadCount is returned for a semaphore whose initial count exceeds its maximum.
var ErrBadCount = errors.New("semaphore count out of range")

// Semaphore is a counting semaphore; with max 1 it is a binary signal.
type Semaphore struct {
	s       *Scheduler
	name    string
	count   uint32
	max     uint32
	waiters *waitQueue
	stats   SemaphoreStats
}

// SemaphoreStats are cumulative counters kept for inspection.
type SemaphoreStats struct {
	Signals   uint64 // every Signal call
	Handoffs  uint64 // signals that woke a waiter directly
	Discarded uint64 // signals dropped at max count
	Acquired  uint64 // Wait calls that returned Acquired
	TimedOut  uint64 // Wait calls that returned TimedOut
}

// NewSemaphore creates a semaphore holding initial tokens, never more than max.
func (s *Scheduler) NewSemaphore(name string, initial, max uint32) (*Semaphore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrStarted
	}
	if max == 0 || initial > max {
		return nil, fmt.Errorf("semaphore %q: %w: initial %d, max %d", name, ErrBadCount, initial, max)
	}
	return &Semaphore{s: s, name: name, count: initial, max: max, waiters: newWaitQueue()}, nil
}

// Wait takes a token, blocking t for at most timeout ticks when none is available.
func (sem *Semaphore) Wait(t *Task, timeout Timeout) (Result, error) {
	if !validTimeout(timeout) {
		return ResultNone, ErrBadTimeout
	}
	s := sem.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunning(t); err != nil {
		return ResultNone, err
	}
	if sem.count > 0 {
		sem.count--
		sem.stats.Acquired++
		s.yield(t, false)
		return Acquired, nil
	}
	if timeout == NoWait {
		sem.stats.TimedOut++
		s.yield(t, false)
		return TimedOut, nil
	}

	sem.waiters.add(t)
	res := s.block(t, sem, timeout)
	if res == Acquired {
		sem.stats.Acquired++
	} else {
		sem.stats.TimedOut++
	}
	return res, nil
}

// Signal hands a token to the highest-priority waiter, or adds it to the count
// when nobody waits. A signal beyond max is discarded.
//
// from is the signalling task, which is preempted at once when the woken waiter
// outranks it. Pass nil when signalling from outside task context; the switch
// is then left to the next scheduling point.
func (sem *Semaphore) Signal(from *Task) error {
	s := sem.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if from != nil {
		if err := s.checkRunning(from); err != nil {
			return err
		}
	}
	sem.stats.Signals++
	if w := sem.waiters.take(); w != nil {
		sem.stats.Handoffs++
		s.unblock(w, Acquired, from)
		return nil
	}
	if sem.count < sem.max {
		sem.count++
	} else {
		sem.stats.Discarded++
	}
	if from != nil {
		s.yield(from, false)
	}
	return nil
}

// Count returns the number of available tokens.
func (sem *Semaphore) Count() uint32 {
	sem.s.mu.Lock()
	defer sem.s.mu.Unlock()
	return sem.count
}

// Max returns the configured maximum count.
func (sem *Semaphore) Max() uint32 { return sem.max }

// Waiting returns the number of blocked waiters.
func (sem *Semaphore) Waiting() int {
	sem.s.mu.Lock()
	defer sem.s.mu.Unlock()
	return sem.waiters.size()
}

// Stats returns a snapshot of the cumulative counters.
func (sem *Semaphore) Stats() SemaphoreStats {
	sem.s.mu.Lock()
	defer sem.s.mu.Unlock()
	return sem.stats
}

func (sem *Semaphore) objectName() string { return sem.name }

func (sem *Semaphore) dropWaiter(t *Task) { sem.waiters.remove(t) }
