package sched

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"tickrt/internal/pool"
)

var (
	ErrQueueFull = errors.New("queue full")
	ErrNotOwner  = errors.New("queue read by a task other than its owner")
)

// Queue is a task's private bounded FIFO of event handles. Anyone may post;
// only the owning task reads, with a timeout.
type Queue struct {
	owner *Task
	cap   int
	buf   *circularbuffer.Queue
	name  string
}

func newQueue(owner *Task, capacity int) *Queue {
	return &Queue{
		owner: owner,
		cap:   capacity,
		buf:   circularbuffer.New(capacity),
		name:  owner.Name + ".queue",
	}
}

// Post appends h. A reader blocked on the queue is handed the item directly.
//
// from is the posting task, preempted at once if the reader outranks it; pass
// nil when posting from outside task context. A full queue fails with
// ErrQueueFull, or faults the system when the scheduler treats overflow as fatal.
func (q *Queue) Post(from *Task, h pool.Handle) error {
	s := q.owner.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if from != nil {
		if err := s.checkRunning(from); err != nil {
			return err
		}
	}
	r := q.owner
	if r.state == Blocked && r.blockedOn == waitObject(q) {
		r.item = h
		s.unblock(r, Delivered, from)
		return nil
	}
	if q.buf.Full() {
		if s.qfatal {
			s.raise(q.name, FaultQueueFull)
		}
		return fmt.Errorf("%s: %w", q.name, ErrQueueFull)
	}
	q.buf.Enqueue(h)
	if from != nil {
		s.yield(from, false)
	}
	return nil
}

// Get returns the oldest pending item, waiting at most timeout ticks for one.
// TimedOut with a zero handle is a normal outcome, not an error.
func (q *Queue) Get(t *Task, timeout Timeout) (pool.Handle, Result, error) {
	if !validTimeout(timeout) {
		return pool.Handle{}, ResultNone, ErrBadTimeout
	}
	s := q.owner.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if t != q.owner {
		return pool.Handle{}, ResultNone, ErrNotOwner
	}
	if err := s.checkRunning(t); err != nil {
		return pool.Handle{}, ResultNone, err
	}
	if v, ok := q.buf.Dequeue(); ok {
		s.yield(t, false)
		return v.(pool.Handle), Delivered, nil
	}
	if timeout == NoWait {
		s.yield(t, false)
		return pool.Handle{}, TimedOut, nil
	}

	t.item = pool.Handle{}
	if res := s.block(t, q, timeout); res != Delivered {
		return pool.Handle{}, TimedOut, nil
	}
	h := t.item
	t.item = pool.Handle{}
	return h, Delivered, nil
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	s := q.owner.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return q.buf.Size()
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return q.cap }

func (q *Queue) objectName() string { return q.name }

// dropWaiter has nothing to undo: the owner is the only possible reader.
func (q *Queue) dropWaiter(*Task) {}
