// internal/sched/tick.go

package sched

import "math"

// Tick is the monotonic kernel time base. It wraps modulo 2^32.
type Tick uint32

// Timeout is a relative wait bound in ticks.
type Timeout uint32

const (
	// NoWait makes a blocking call fail or time out immediately instead of blocking.
	NoWait Timeout = 0
	// Forever blocks until the wait is satisfied.
	Forever Timeout = math.MaxUint32
	// MaxTimeout is the longest finite timeout. Deadlines further out than half the
	// counter range cannot be told apart from deadlines in the past.
	MaxTimeout Timeout = math.MaxInt32
)

// Reached reports whether now is at or past deadline, treating the counter as
// modular: a deadline is never "behind" unless it lies in the half range before now.
func Reached(now, deadline Tick) bool {
	return uint32(now-deadline) <= uint32(MaxTimeout)
}

// After returns the deadline that lies d ticks past t.
func (t Tick) After(d Timeout) Tick {
	return t + Tick(d)
}

func validTimeout(d Timeout) bool {
	return d == Forever || d <= MaxTimeout
}
