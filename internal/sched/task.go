package sched

import (
	"fmt"

	"tickrt/internal/pool"
)

// TaskID uniquely identifies a task in the scheduler.
type TaskID uint64

// Priority orders tasks; a larger value is more urgent. Zero is reserved for idle.
type Priority uint8

const (
	MinPriority Priority = 1
	MaxPriority Priority = 63
)

// State is the scheduling state of a task.
type State uint8

const (
	Ready State = iota
	Running
	Blocked
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Result is what a blocked task finds when it resumes.
type Result uint8

const (
	ResultNone Result = iota
	Acquired
	Delivered
	TimedOut
)

func (r Result) String() string {
	switch r {
	case ResultNone:
		return "none"
	case Acquired:
		return "acquired"
	case Delivered:
		return "delivered"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// TaskSpec describes a task at registration time.
type TaskSpec struct {
	Name      string
	Priority  Priority
	QueueCap  int
	StackSize int // informational; goroutine stacks grow on demand
	Run       func(t *Task)
}

// Task is one sequential unit of work with a private event queue.
type Task struct {
	ID        TaskID
	Name      string
	Priority  Priority // base priority, fixed at registration
	StackSize int

	s     *Scheduler
	run   func(t *Task)
	queue *Queue

	// guarded by s.mu
	eff       Priority
	held      int // mutexes currently owned
	state     State
	blockedOn waitObject
	deadline  Tick
	timed     bool
	result    Result
	item      pool.Handle
	readySeq  uint64

	resume chan struct{}
}

// waitObject is anything a task can block on.
type waitObject interface {
	objectName() string
	// dropWaiter removes t after its wait ended without the object's help.
	dropWaiter(t *Task)
}

// Queue returns the task's private event queue.
func (t *Task) Queue() *Queue { return t.queue }

// Scheduler returns the scheduler the task is registered with.
func (t *Task) Scheduler() *Scheduler { return t.s }

// State reports the task's current scheduling state.
func (t *Task) State() State {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.state
}

// EffectivePriority reports the priority the scheduler currently uses for t.
func (t *Task) EffectivePriority() Priority {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.eff
}

func (t *Task) String() string {
	return fmt.Sprintf("%s(%d)", t.Name, t.Priority)
}
