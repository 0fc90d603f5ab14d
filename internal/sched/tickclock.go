// internal/sched/tickclock.go

package sched

import (
	"context"
	"sync/atomic"
	"time"
)

// TickClock is the host stand-in for the periodic tick interrupt. Each period
// it runs its handlers in order; the first is normally Scheduler.TickAdvance.
type TickClock struct {
	count atomic.Int64
	isr   []func()
}

// NewTickClock creates a clock that calls the given handlers on every tick.
func NewTickClock(isr ...func()) *TickClock {
	return &TickClock{isr: isr}
}

// Run fires a tick every interval until ctx is done.
func (c *TickClock) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Fire()
		case <-ctx.Done():
			return nil
		}
	}
}

// Fire delivers one tick synchronously.
func (c *TickClock) Fire() {
	c.count.Add(1)
	for _, f := range c.isr {
		f()
	}
}

// Count returns the number of ticks fired so far.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}
