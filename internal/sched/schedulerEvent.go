// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusReady
	StatusDispatch
	StatusPreempt
	StatusBlock
	StatusWake
	StatusTimeout
	StatusPriorityUpdate
	StatusTerminate
	StatusFault
	StatusTick
)

// StatusEvent is emitted on every tick and on every scheduling decision.
type StatusEvent struct {
	Time     time.Time
	Tick     Tick
	Kind     StatusKind
	TaskID   TaskID
	Task     string
	Priority Priority // effective priority at the time of the event
	Object   string   // primitive involved, if any
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusReady:
		return "Ready"
	case StatusDispatch:
		return "Dispatch"
	case StatusPreempt:
		return "Preempt"
	case StatusBlock:
		return "Block"
	case StatusWake:
		return "Wake"
	case StatusTimeout:
		return "Timeout"
	case StatusPriorityUpdate:
		return "Priority"
	case StatusTerminate:
		return "Terminate"
	case StatusFault:
		return "Fault"
	case StatusTick:
		return "Tick"
	default:
		return "Unknown"
	}
}

// emit pushes an event without ever blocking; the tick path must not stall on a
// slow consumer. Caller holds s.mu.
func (s *Scheduler) emit(kind StatusKind, t *Task, object string) {
	if s.statusCh == nil {
		return
	}
	ev := StatusEvent{
		Time:   time.Now(),
		Tick:   s.tick,
		Kind:   kind,
		Object: object,
	}
	if t != nil {
		ev.TaskID = t.ID
		ev.Task = t.Name
		ev.Priority = t.eff
	}
	select {
	case s.statusCh <- ev:
	default:
		s.dropped++
	}
}
