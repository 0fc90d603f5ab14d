package sched

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog"
)

// FaultCode classifies an unrecoverable condition.
type FaultCode uint8

const (
	FaultInvariant FaultCode = iota + 1
	FaultRecursiveLock
	FaultNotHolder
	FaultQueueFull
	FaultTaskPanic
)

func (c FaultCode) String() string {
	switch c {
	case FaultInvariant:
		return "invariant"
	case FaultRecursiveLock:
		return "recursive lock"
	case FaultNotHolder:
		return "unlock by non-holder"
	case FaultQueueFull:
		return "queue full"
	case FaultTaskPanic:
		return "task panic"
	default:
		return "unknown"
	}
}

// Fault describes the condition that halted the system.
type Fault struct {
	Component string
	Code      FaultCode
	Task      string // running task when the fault was raised, if any
	Tick      Tick
}

func (f Fault) Error() string {
	return fmt.Sprintf("fault in %s: %s (task %q, tick %d)", f.Component, f.Code, f.Task, f.Tick)
}

// FaultExitCode is the process exit status used by the default fault handler.
const FaultExitCode = 70

func defaultFaultHandler(log zerolog.Logger) func(Fault) {
	return func(f Fault) {
		log.Error().Str("component", f.Component).Stringer("code", f.Code).Msg("halting")
		os.Exit(FaultExitCode)
	}
}

// ReportFault halts the system. Only the first report is handed to the fault
// handler; every caller's goroutine is terminated and the call never returns.
func (s *Scheduler) ReportFault(component string, code FaultCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raise(component, code)
}

// Halted returns the fault that stopped the system, if any.
func (s *Scheduler) Halted() (Fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault == nil {
		return Fault{}, false
	}
	return *s.fault, true
}

// raise is ReportFault for callers that already hold s.mu and release it in a
// deferred call. The lock is dropped while the handler runs and retaken before
// the goroutine exits so the caller's deferred unlock stays balanced.
func (s *Scheduler) raise(component string, code FaultCode) {
	f := Fault{Component: component, Code: code, Tick: s.tick}
	if s.current != nil {
		f.Task = s.current.Name
	}
	first := s.fault == nil
	if first {
		s.fault = &f
		s.emit(StatusFault, s.current, component)
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	if first {
		s.log.Error().
			Str("component", f.Component).
			Stringer("code", f.Code).
			Str("task", f.Task).
			Uint32("tick", uint32(f.Tick)).
			Msg("fault reported")
		close(s.halt)
		s.onFault(f)
	}
	s.mu.Lock()
	runtime.Goexit()
}

// invariant reports a scheduler inconsistency. Caller holds s.mu.
func (s *Scheduler) invariant(what string) {
	s.log.Error().Str("detail", what).Msg("scheduler invariant violated")
	s.raise("sched", FaultInvariant)
}
