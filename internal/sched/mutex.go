package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout means the mutex stayed held by another task for the whole timeout.
	ErrLockTimeout   = errors.New("mutex held by another task and timeout elapsed")
	ErrRecursiveLock = errors.New("mutex already held by the calling task")
	ErrNotHolder     = errors.New("mutex not held by the calling task")
)

// Mutex implements the priority-ceiling protocol: while a task holds it, the
// task runs at no less than the ceiling, the highest priority of any task that
// may lock it.
type Mutex struct {
	s       *Scheduler
	name    string
	ceiling Priority

	holder  *Task
	saved   Priority
	waiters *waitQueue
}

// NewMutex creates a mutex with a statically configured ceiling.
func (s *Scheduler) NewMutex(name string, ceiling Priority) (*Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrStarted
	}
	if ceiling < MinPriority || ceiling > MaxPriority {
		return nil, fmt.Errorf("mutex %q: %w: ceiling %d", name, ErrBadPriority, ceiling)
	}
	return &Mutex{s: s, name: name, ceiling: ceiling, waiters: newWaitQueue()}, nil
}

// Ceiling returns the mutex's ceiling priority.
func (m *Mutex) Ceiling() Priority { return m.ceiling }

// Holder returns the task currently holding the mutex, or nil.
func (m *Mutex) Holder() *Task {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.holder
}

// Lock acquires the mutex for t, waiting at most timeout ticks.
func (m *Mutex) Lock(t *Task, timeout Timeout) error {
	if !validTimeout(timeout) {
		return ErrBadTimeout
	}
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunning(t); err != nil {
		return err
	}
	switch {
	case m.holder == t:
		return fmt.Errorf("%s: %w", m.name, ErrRecursiveLock)
	case m.holder == nil:
		m.grant(t)
		s.yield(t, false)
		return nil
	case timeout == NoWait:
		s.yield(t, false)
		return fmt.Errorf("%s: %w", m.name, ErrLockTimeout)
	}

	m.waiters.add(t)
	if res := s.block(t, m, timeout); res != Acquired {
		return fmt.Errorf("%s: %w", m.name, ErrLockTimeout)
	}
	if m.holder != t {
		s.invariant(fmt.Sprintf("%s woke %s without ownership", m.name, t))
	}
	return nil
}

// Unlock releases the mutex, restores the priority t had before locking and
// hands ownership to the best waiter. t yields at once if it is outranked.
func (m *Mutex) Unlock(t *Task) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunning(t); err != nil {
		return err
	}
	if m.holder != t {
		return fmt.Errorf("%s: %w", m.name, ErrNotHolder)
	}

	m.holder = nil
	t.held--
	s.setPriority(t, m.saved, m.name)

	if w := m.waiters.take(); w != nil {
		m.grant(w)
		s.unblock(w, Acquired, nil)
	}
	s.yield(t, false)
	return nil
}

// grant makes t the holder and raises it to the ceiling. t is not in the
// ready set. Caller holds s.mu.
func (m *Mutex) grant(t *Task) {
	m.holder = t
	m.saved = t.eff
	t.held++
	if m.ceiling > t.eff {
		m.s.setPriority(t, m.ceiling, m.name)
	}
}

func (m *Mutex) objectName() string { return m.name }

func (m *Mutex) dropWaiter(t *Task) { m.waiters.remove(t) }
