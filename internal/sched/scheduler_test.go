package sched

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickrt/internal/pool"
)

func TestReachedHandlesWrap(t *testing.T) {
	assert.True(t, Reached(10, 10))
	assert.True(t, Reached(11, 10))
	assert.False(t, Reached(9, 10))

	// deadline just past the wrap, now just before it
	assert.False(t, Reached(math.MaxUint32-2, 3))
	assert.True(t, Reached(3, math.MaxUint32-2))
	assert.True(t, Reached(4, 3))

	var start Tick = math.MaxUint32 - 1
	assert.Equal(t, Tick(8), start.After(10))
}

func TestAddTaskValidation(t *testing.T) {
	s := New(Options{})
	body := func(*Task) {}

	_, err := s.AddTask(TaskSpec{Name: "a", Priority: 3, QueueCap: 1, Run: body})
	require.NoError(t, err)

	_, err = s.AddTask(TaskSpec{Name: "b", Priority: 3, QueueCap: 1, Run: body})
	assert.ErrorIs(t, err, ErrDuplicatePriority)

	_, err = s.AddTask(TaskSpec{Name: "c", Priority: 0, QueueCap: 1, Run: body})
	assert.ErrorIs(t, err, ErrBadPriority)

	_, err = s.AddTask(TaskSpec{Name: "d", Priority: MaxPriority + 1, QueueCap: 1, Run: body})
	assert.ErrorIs(t, err, ErrBadPriority)

	_, err = s.AddTask(TaskSpec{Name: "e", Priority: 4, QueueCap: 0, Run: body})
	assert.ErrorIs(t, err, ErrBadCapacity)

	_, err = s.AddTask(TaskSpec{Name: "f", Priority: 5, QueueCap: 1})
	assert.Error(t, err)
}

func TestRegistrationClosedAfterStart(t *testing.T) {
	h := newHarness(t, Options{})
	h.task("a", 1, func(*Task) {})
	h.start()

	_, err := h.s.AddTask(TaskSpec{Name: "late", Priority: 2, QueueCap: 1, Run: func(*Task) {}})
	assert.ErrorIs(t, err, ErrStarted)
	_, err = h.s.NewMutex("late", 2)
	assert.ErrorIs(t, err, ErrStarted)
	_, err = h.s.NewSemaphore("late", 0, 1)
	assert.ErrorIs(t, err, ErrStarted)
	assert.ErrorIs(t, h.s.Run(context.Background()), ErrStarted)
}

func TestHighestPriorityRunsFirst(t *testing.T) {
	h := newHarness(t, Options{})
	tr := newTrail()
	for _, p := range []Priority{2, 9, 5} {
		name := string(rune('a' + p))
		h.task(name, p, func(tk *Task) {
			tr.add(tk, name)
		})
	}
	h.start()

	assert.Equal(t, []string{"j", "f", "c"}, tr.list())
	for _, tk := range h.s.Tasks() {
		assert.Equal(t, Terminated, tk.State())
	}
}

func TestSameTickWakeupsRunByPriority(t *testing.T) {
	h := newHarness(t, Options{})
	tr := newTrail()
	// each task sleeps to tick 10 regardless of when it first ran
	for _, p := range []Priority{1, 4, 3} {
		name := string(rune('a' + p))
		h.task(name, p, func(tk *Task) {
			assert.NoError(t, tk.Scheduler().Delay(tk, 10))
			tr.add(tk, name)
		})
	}
	h.start()
	h.advance(9)
	assert.Empty(t, tr.list())
	h.advance(1)
	assert.Equal(t, []string{"e", "d", "b"}, tr.list())
	for _, name := range []string{"b", "d", "e"} {
		at, ok := tr.at(name)
		require.True(t, ok)
		assert.Equal(t, Tick(10), at)
	}
}

func TestDelayAcrossWrap(t *testing.T) {
	h := newHarness(t, Options{StartTick: math.MaxUint32 - 3})
	tr := newTrail()
	h.task("sleeper", 1, func(tk *Task) {
		assert.NoError(t, tk.Scheduler().Delay(tk, 10))
		tr.add(tk, "woke")
	})
	h.start()

	h.advance(9)
	_, ok := tr.at("woke")
	assert.False(t, ok)
	h.advance(1)
	at, ok := tr.at("woke")
	require.True(t, ok)
	assert.Equal(t, Tick(6), at)
}

func TestDelayRejectsForever(t *testing.T) {
	h := newHarness(t, Options{})
	var got error
	h.task("a", 1, func(tk *Task) {
		got = tk.Scheduler().Delay(tk, Forever)
	})
	h.start()
	assert.ErrorIs(t, got, ErrBadTimeout)
}

func TestPrimitiveCallsOutsideRunningTask(t *testing.T) {
	h := newHarness(t, Options{})
	tk := h.task("a", 1, func(tk *Task) {
		_ = tk.Scheduler().Delay(tk, 100)
	})
	sem, err := h.s.NewSemaphore("s", 0, 1)
	require.NoError(t, err)
	h.start()

	assert.ErrorIs(t, h.s.Delay(tk, 1), ErrNotRunning)
	_, err = sem.Wait(tk, 1)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, sem.Signal(tk), ErrNotRunning)
}

func TestUnblockPreemptsLowerPriorityCaller(t *testing.T) {
	h := newHarness(t, Options{})
	tr := newTrail()
	sem, err := h.s.NewSemaphore("s", 0, 1)
	require.NoError(t, err)

	h.task("high", 5, func(tk *Task) {
		res, err := sem.Wait(tk, Forever)
		assert.NoError(t, err)
		assert.Equal(t, Acquired, res)
		tr.add(tk, "high woke")
	})
	h.task("low", 1, func(tk *Task) {
		assert.NoError(t, tk.Scheduler().Delay(tk, 3))
		tr.add(tk, "low signals")
		assert.NoError(t, sem.Signal(tk))
		tr.add(tk, "low continues")
	})
	h.start()
	h.advance(3)

	assert.Equal(t, []string{"low signals", "high woke", "low continues"}, tr.list())
	assert.Equal(t, uint32(0), sem.Count())
}

// A task readied by a tick while a lower task is computing must take over at
// the lower task's next primitive call, even one that does not block.
func TestTickReadiedTaskPreemptsAtNextPrimitiveCall(t *testing.T) {
	calls := []struct {
		name string
		call func(tk *Task, sem *Semaphore, m *Mutex) error
	}{
		{"semaphore wait with token", func(tk *Task, sem *Semaphore, _ *Mutex) error {
			_, err := sem.Wait(tk, NoWait)
			return err
		}},
		{"free mutex lock", func(tk *Task, _ *Semaphore, m *Mutex) error {
			return m.Lock(tk, NoWait)
		}},
		{"signal without waiter", func(tk *Task, sem *Semaphore, _ *Mutex) error {
			return sem.Signal(tk)
		}},
		{"post without reader", func(tk *Task, _ *Semaphore, _ *Mutex) error {
			return tk.Queue().Post(tk, pool.Handle{})
		}},
	}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			tr := newTrail()
			sem, err := h.s.NewSemaphore("s", 1, 2)
			require.NoError(t, err)
			m, err := h.s.NewMutex("m", 3)
			require.NoError(t, err)

			computing := make(chan struct{})
			ticked := make(chan struct{})
			var low *Task
			h.task("high", 5, func(tk *Task) {
				assert.NoError(t, tk.Scheduler().Delay(tk, 1))
				assert.Equal(t, Ready, low.State())
				tr.add(tk, "high")
			})
			low = h.task("low", 1, func(tk *Task) {
				close(computing)
				<-ticked
				assert.NoError(t, c.call(tk, sem, m))
				tr.add(tk, "low")
			})
			h.launch()

			<-computing
			h.s.TickAdvance()
			close(ticked)
			h.s.WaitIdle()

			assert.Equal(t, []string{"high", "low"}, tr.list())
		})
	}
}

func TestIdleHookRunsWhenNothingReady(t *testing.T) {
	var idles atomic.Int32
	h := newHarness(t, Options{IdleHook: func() { idles.Add(1) }})
	h.task("a", 1, func(tk *Task) {
		for {
			_ = tk.Scheduler().Delay(tk, 2)
		}
	})
	h.start()
	before := idles.Load()
	assert.GreaterOrEqual(t, before, int32(1))

	h.advance(4)
	assert.Greater(t, idles.Load(), before)
}

func TestTaskPanicHaltsSystem(t *testing.T) {
	h := newHarness(t, Options{})
	h.task("boom", 1, func(tk *Task) {
		_ = tk.Scheduler().Delay(tk, 2)
		panic("bad state")
	})
	h.start()
	h.s.TickAdvance()
	h.s.TickAdvance()

	f := <-h.faults
	assert.Equal(t, FaultTaskPanic, f.Code)
	assert.Equal(t, "task:boom", f.Component)
	assert.Equal(t, "boom", f.Task)
	assert.Equal(t, Tick(2), f.Tick)
	assert.ErrorIs(t, h.runErr(), ErrHalted)

	got, ok := h.s.Halted()
	require.True(t, ok)
	assert.Equal(t, f, got)
}

func TestReportFaultOnlyFirstReachesHandler(t *testing.T) {
	h := newHarness(t, Options{})
	h.task("a", 2, func(tk *Task) {
		tk.Scheduler().ReportFault("app", FaultInvariant)
	})
	h.task("b", 1, func(tk *Task) {
		tk.Scheduler().ReportFault("app", FaultNotHolder)
	})
	h.start()

	f := <-h.faults
	assert.Equal(t, FaultInvariant, f.Code)
	assert.Equal(t, "a", f.Task)
	assert.ErrorIs(t, h.runErr(), ErrHalted)
	assert.Empty(t, h.faults)
}

func TestStatusStream(t *testing.T) {
	h := newHarness(t, Options{EventBuffer: 64})
	h.task("a", 1, func(tk *Task) {
		_ = tk.Scheduler().Delay(tk, 1)
	})
	h.start()
	h.advance(1)
	h.stop()

	var kinds []StatusKind
	for ev := range h.s.StatusChannel() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []StatusKind{
		StatusReady, StatusDispatch, StatusBlock, StatusIdle,
		StatusTick, StatusTimeout, StatusDispatch, StatusTerminate, StatusIdle,
	}, kinds)
	assert.Zero(t, h.s.Dropped())
}

func TestTickClockFiresHandlersInOrder(t *testing.T) {
	var order []int
	c := NewTickClock(func() { order = append(order, 1) }, func() { order = append(order, 2) })
	c.Fire()
	c.Fire()
	assert.Equal(t, []int{1, 2, 1, 2}, order)
	assert.Equal(t, int64(2), c.Count())
}

func TestTickClockRunStopsWithContext(t *testing.T) {
	s := New(Options{})
	c := NewTickClock(s.TickAdvance)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx, 1) }()
	for c.Count() < 3 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, uint32(s.Now()), uint32(3))
}
