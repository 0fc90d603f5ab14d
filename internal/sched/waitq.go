package sched

import (
	"github.com/emirpasic/gods/queues/priorityqueue"
)

type waiter struct {
	t    *Task
	prio Priority
	seq  uint64
}

// waiterCmp puts the highest priority first and keeps arrival order among equals.
func waiterCmp(a, b any) int {
	wa, wb := a.(waiter), b.(waiter)
	switch {
	case wa.prio > wb.prio:
		return -1
	case wa.prio < wb.prio:
		return 1
	case wa.seq < wb.seq:
		return -1
	case wa.seq > wb.seq:
		return 1
	default:
		return 0
	}
}

// waitQueue holds the tasks blocked on one primitive.
type waitQueue struct {
	pq  *priorityqueue.Queue
	seq uint64
}

func newWaitQueue() *waitQueue {
	return &waitQueue{pq: priorityqueue.NewWith(waiterCmp)}
}

func (q *waitQueue) add(t *Task) {
	q.seq++
	q.pq.Enqueue(waiter{t: t, prio: t.eff, seq: q.seq})
}

// take removes and returns the best waiter.
func (q *waitQueue) take() *Task {
	v, ok := q.pq.Dequeue()
	if !ok {
		return nil
	}
	return v.(waiter).t
}

// remove drops t, keeping the relative order of everyone else.
func (q *waitQueue) remove(t *Task) {
	vals := q.pq.Values()
	q.pq.Clear()
	for _, v := range vals {
		if v.(waiter).t != t {
			q.pq.Enqueue(v)
		}
	}
}

func (q *waitQueue) size() int { return q.pq.Size() }
