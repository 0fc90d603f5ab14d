package sched

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// harness runs a scheduler in the background and lets a test step time one
// tick at a time, waiting for the system to settle after each.
type harness struct {
	t      *testing.T
	s      *Scheduler
	faults chan Fault
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, faults: make(chan Fault, 4)}
	if opts.FaultHandler == nil {
		opts.FaultHandler = func(f Fault) { h.faults <- f }
	}
	h.s = New(opts)
	return h
}

func (h *harness) task(name string, prio Priority, body func(t *Task)) *Task {
	h.t.Helper()
	tk, err := h.s.AddTask(TaskSpec{Name: name, Priority: prio, QueueCap: 5, Run: body})
	require.NoError(h.t, err)
	return tk
}

func (h *harness) start() {
	h.t.Helper()
	h.launch()
	h.s.WaitIdle()
}

// launch starts Run without waiting for the tasks to settle, for tests that
// step time while a task still holds the CPU.
func (h *harness) launch() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		h.err = h.s.Run(ctx)
		close(h.done)
	}()
	h.t.Cleanup(h.stop)
}

// stop cancels Run and waits for it to return.
func (h *harness) stop() {
	h.cancel()
	<-h.done
}

// runErr waits for Run to return on its own and reports its error.
func (h *harness) runErr() error {
	<-h.done
	return h.err
}

func (h *harness) advance(n int) {
	for i := 0; i < n; i++ {
		h.s.TickAdvance()
		h.s.WaitIdle()
	}
}

// advanceTo steps until the tick counter reads tick.
func (h *harness) advanceTo(tick Tick) {
	for h.s.Now() != tick {
		h.advance(1)
	}
}

// trail records what tasks did, in order.
type trail struct {
	mu    sync.Mutex
	steps []string
	ticks map[string]Tick
}

func newTrail() *trail { return &trail{ticks: make(map[string]Tick)} }

func (tr *trail) add(t *Task, step string) {
	at := t.Scheduler().Now()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.steps = append(tr.steps, step)
	tr.ticks[step] = at
}

func (tr *trail) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.steps...)
}

func (tr *trail) at(step string) (Tick, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tk, ok := tr.ticks[step]
	return tk, ok
}
