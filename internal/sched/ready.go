package sched

import (
	"github.com/emirpasic/gods/trees/redblacktree"
)

// readyKey orders the ready set: the leftmost node is the task to run next.
type readyKey struct {
	prio Priority
	held bool
	seq  uint64
}

// readyCmp sorts higher effective priority first, then mutex holders, then
// the order in which tasks became ready.
func readyCmp(a, b any) int {
	ka, kb := a.(readyKey), b.(readyKey)
	switch {
	case ka.prio > kb.prio:
		return -1
	case ka.prio < kb.prio:
		return 1
	case ka.held && !kb.held:
		return -1
	case !ka.held && kb.held:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

type readySet struct {
	rbt *redblacktree.Tree
	seq uint64
}

func newReadySet() *readySet {
	return &readySet{rbt: redblacktree.NewWith(readyCmp)}
}

func keyOf(t *Task) readyKey {
	return readyKey{prio: t.eff, held: t.held > 0, seq: t.readySeq}
}

func (r *readySet) push(t *Task) {
	r.seq++
	t.readySeq = r.seq
	r.rbt.Put(keyOf(t), t)
}

func (r *readySet) remove(t *Task) {
	r.rbt.Remove(keyOf(t))
}

// peek returns the best ready task without removing it.
func (r *readySet) peek() *Task {
	node := r.rbt.Left()
	if node == nil {
		return nil
	}
	return node.Value.(*Task)
}

func (r *readySet) pop() *Task {
	t := r.peek()
	if t != nil {
		r.remove(t)
	}
	return t
}

func (r *readySet) empty() bool { return r.rbt.Empty() }

func (r *readySet) size() int { return r.rbt.Size() }

// outranks reports whether a should take the CPU from b.
func outranks(a, b *Task) bool {
	return a.eff > b.eff
}
