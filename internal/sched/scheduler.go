// internal/sched/scheduler.go

package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrStarted           = errors.New("scheduler already started")
	ErrHalted            = errors.New("scheduler halted by fault")
	ErrDuplicatePriority = errors.New("priority already in use")
	ErrBadPriority       = errors.New("priority out of range")
	ErrBadCapacity       = errors.New("queue capacity must be positive")
	ErrBadTimeout        = errors.New("timeout out of range")
	ErrNotRunning        = errors.New("task is not the running task")
)

// Options configures a Scheduler. The zero value is usable.
type Options struct {
	Logger zerolog.Logger
	// StartTick is the initial counter value; tests use it to cross the wrap.
	StartTick Tick
	// EventBuffer is the status channel depth; 0 disables the stream.
	EventBuffer int
	// IdleHook is called each time the dispatcher finds nothing ready.
	IdleHook func()
	// FaultHandler defaults to logging and exiting the process.
	FaultHandler func(f Fault)
	// FaultOnQueueFull treats a Post to a full queue as fatal.
	FaultOnQueueFull bool
}

// Scheduler is a single-core, priority-preemptive, run-to-block kernel core.
//
// Task bodies run on their own goroutines but only the one holding the CPU
// baton executes; the rest are parked on their resume channels. mu stands in
// for the interrupt-disable section: every read or write of the tick counter,
// the ready set or any task's scheduling fields happens under it.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	log      zerolog.Logger
	idleHook func()
	onFault  func(Fault)
	qfatal   bool

	tick    Tick
	tasks   []*Task
	byPrio  map[Priority]*Task
	ready   *readySet
	current *Task
	started bool
	idling  bool
	stopped bool

	cpu  chan struct{} // running task -> dispatcher
	done chan struct{} // closed when Run returns
	halt chan struct{} // closed on the first fault

	fault *Fault

	statusCh chan StatusEvent
	stream   <-chan StatusEvent
	dropped  uint64
	switches uint64
}

// New creates a new Scheduler instance with the given options.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		log:      opts.Logger,
		idleHook: opts.IdleHook,
		onFault:  opts.FaultHandler,
		qfatal:   opts.FaultOnQueueFull,
		tick:     opts.StartTick,
		byPrio:   make(map[Priority]*Task),
		ready:    newReadySet(),
		cpu:      make(chan struct{}),
		done:     make(chan struct{}),
		halt:     make(chan struct{}),
	}
	if s.onFault == nil {
		s.onFault = defaultFaultHandler(s.log)
	}
	if opts.EventBuffer > 0 {
		s.statusCh = make(chan StatusEvent, opts.EventBuffer)
		s.stream = s.statusCh
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// StatusChannel exposes the read-only event stream, or nil when disabled.
// It is closed when Run returns.
func (s *Scheduler) StatusChannel() <-chan StatusEvent { return s.stream }

// Dropped reports how many status events were discarded because the stream was full.
func (s *Scheduler) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Switches reports how many times the dispatcher handed the CPU to a task.
func (s *Scheduler) Switches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}

// Now returns the current tick.
func (s *Scheduler) Now() Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Tasks returns the registered tasks in registration order.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Task(nil), s.tasks...)
}

// Current returns the running task, or nil when idle.
func (s *Scheduler) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// AddTask registers a task. Registration is only possible before Run.
func (s *Scheduler) AddTask(spec TaskSpec) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, ErrStarted
	}
	if spec.Priority < MinPriority || spec.Priority > MaxPriority {
		return nil, fmt.Errorf("task %q: %w: %d", spec.Name, ErrBadPriority, spec.Priority)
	}
	if other, dup := s.byPrio[spec.Priority]; dup {
		return nil, fmt.Errorf("task %q: %w: held by %q", spec.Name, ErrDuplicatePriority, other.Name)
	}
	if spec.QueueCap < 1 {
		return nil, fmt.Errorf("task %q: %w", spec.Name, ErrBadCapacity)
	}
	if spec.Run == nil {
		return nil, fmt.Errorf("task %q: no body", spec.Name)
	}

	t := &Task{
		ID:        TaskID(len(s.tasks) + 1),
		Name:      spec.Name,
		Priority:  spec.Priority,
		StackSize: spec.StackSize,
		s:         s,
		run:       spec.Run,
		eff:       spec.Priority,
		state:     Ready,
		resume:    make(chan struct{}, 1),
	}
	t.queue = newQueue(t, spec.QueueCap)
	s.tasks = append(s.tasks, t)
	s.byPrio[t.Priority] = t
	s.ready.push(t)
	s.emit(StatusReady, t, "")
	return t, nil
}

// Run starts every registered task and dispatches until ctx is cancelled or a
// fault halts the system. It is the kernel's run-forever loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	for _, t := range s.tasks {
		go s.taskMain(t)
	}
	n, now := len(s.tasks), s.tick
	s.mu.Unlock()

	s.log.Info().Int("tasks", n).Uint32("tick", uint32(now)).Msg("scheduler started")

	stop := context.AfterFunc(ctx, s.kick)
	defer stop()
	defer s.shutdown()

	for {
		t, err := s.next(ctx)
		if err != nil {
			return err
		}
		t.resume <- struct{}{}
		select {
		case <-s.cpu:
		case <-s.halt:
			return ErrHalted
		}
	}
}

// next blocks until a task is ready and marks it running. While nothing is
// ready the idle hook runs and the dispatcher waits for a tick, a post from
// outside task context, or cancellation.
func (s *Scheduler) next(ctx context.Context) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.fault != nil {
			return nil, ErrHalted
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.ready.empty() {
			break
		}
		if !s.idling {
			s.idling = true
			s.emit(StatusIdle, nil, "")
			s.cond.Broadcast()
			if s.idleHook != nil {
				s.mu.Unlock()
				s.idleHook()
				s.mu.Lock()
				continue
			}
		}
		s.cond.Wait()
	}

	s.idling = false
	t := s.ready.pop()
	t.state = Running
	s.current = t
	s.switches++
	s.emit(StatusDispatch, t, "")
	return t, nil
}

// kick wakes the dispatcher and anyone in WaitIdle.
func (s *Scheduler) kick() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	if s.statusCh != nil {
		close(s.statusCh)
		s.statusCh = nil
	}
	s.mu.Unlock()
	close(s.done)
	s.log.Info().Uint32("tick", uint32(s.Now())).Msg("scheduler stopped")
}

// WaitIdle returns once every task is blocked or terminated and the dispatcher
// has entered its idle state, or once Run has returned.
func (s *Scheduler) WaitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.stopped && !(s.idling && s.current == nil && s.ready.empty()) {
		s.cond.Wait()
	}
}

// TickAdvance is the tick interrupt: it advances time and readies every task
// whose deadline has been reached. It never switches context.
func (s *Scheduler) TickAdvance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	s.emit(StatusTick, nil, "")
	for _, t := range s.tasks {
		if t.state != Blocked || !t.timed || !Reached(s.tick, t.deadline) {
			continue
		}
		if t.blockedOn != nil {
			t.blockedOn.dropWaiter(t)
		}
		s.emit(StatusTimeout, t, objectName(t.blockedOn))
		s.makeReady(t, TimedOut)
	}
	s.cond.Broadcast()
}

// Delay blocks the running task for the given number of ticks. A zero delay
// only yields to an equal-or-higher priority ready task.
func (s *Scheduler) Delay(t *Task, ticks Timeout) error {
	if ticks == Forever || !validTimeout(ticks) {
		return ErrBadTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunning(t); err != nil {
		return err
	}
	if ticks == NoWait {
		s.yield(t, true)
		return nil
	}
	s.block(t, nil, ticks)
	return nil
}

// checkRunning rejects primitive calls made outside the running task.
func (s *Scheduler) checkRunning(t *Task) error {
	if t == nil || t.s != s || s.current != t {
		return ErrNotRunning
	}
	return nil
}

// block suspends the running task t on obj until it is woken or the timeout
// expires. Caller holds s.mu; it is held again on return.
func (s *Scheduler) block(t *Task, obj waitObject, timeout Timeout) Result {
	t.state = Blocked
	t.blockedOn = obj
	t.result = ResultNone
	t.timed = timeout != Forever
	if t.timed {
		t.deadline = s.tick.After(timeout)
	}
	s.current = nil
	s.emit(StatusBlock, t, objectName(obj))

	s.switchOut(t)

	t.blockedOn = nil
	t.timed = false
	return t.result
}

// unblock moves a blocked task to ready with the given result. When called
// from the running task it preempts the caller if the woken task outranks it.
// Caller holds s.mu.
func (s *Scheduler) unblock(t *Task, res Result, caller *Task) {
	if t.state != Blocked {
		s.invariant(fmt.Sprintf("unblock of %s in state %s", t, t.state))
	}
	s.emit(StatusWake, t, objectName(t.blockedOn))
	s.makeReady(t, res)
	if caller != nil && caller == s.current {
		s.yield(caller, false)
	} else {
		s.cond.Broadcast()
	}
}

func (s *Scheduler) makeReady(t *Task, res Result) {
	t.result = res
	t.state = Ready
	s.ready.push(t)
}

// yield gives the CPU away if a ready task outranks the running task t (or,
// with equal set, ties with it). Every primitive call that does not block ends
// here, so a task readied by a tick takes over at the next such call.
// Caller holds s.mu.
func (s *Scheduler) yield(t *Task, equal bool) {
	top := s.ready.peek()
	if top == nil {
		return
	}
	if !outranks(top, t) && !(equal && top.eff == t.eff) {
		return
	}
	t.state = Ready
	s.ready.push(t)
	s.current = nil
	s.emit(StatusPreempt, t, "")
	s.switchOut(t)
}

// switchOut returns the CPU to the dispatcher and parks t until it is
// dispatched again. Caller holds s.mu and releases it in a deferred call; the
// lock is held again on return, including when the goroutine exits because the
// scheduler stopped.
func (s *Scheduler) switchOut(t *Task) {
	s.mu.Unlock()
	ok := false
	select {
	case s.cpu <- struct{}{}:
		ok = s.park(t)
	case <-s.done:
	case <-s.halt:
	}
	s.mu.Lock()
	if !ok {
		runtime.Goexit()
	}
}

// park waits for the dispatcher to resume t. A stopped scheduler never
// resumes anyone, so it reports false instead.
func (s *Scheduler) park(t *Task) bool {
	select {
	case <-t.resume:
		return true
	case <-s.done:
	case <-s.halt:
	}
	return false
}

func (s *Scheduler) taskMain(t *Task) {
	if !s.park(t) {
		return
	}
	if r := runBody(t); r != nil {
		s.log.Error().Str("task", t.Name).Interface("panic", r).Msg("task body panicked")
		s.ReportFault("task:"+t.Name, FaultTaskPanic)
	}

	s.mu.Lock()
	t.state = Terminated
	s.current = nil
	s.emit(StatusTerminate, t, "")
	s.mu.Unlock()
	select {
	case s.cpu <- struct{}{}:
	case <-s.done:
	case <-s.halt:
	}
}

// runBody runs the task body and returns the value it panicked with, if any.
func runBody(t *Task) (panicked any) {
	defer func() { panicked = recover() }()
	t.run(t)
	return nil
}

// setPriority changes the effective priority of a task that is not in the
// ready set. Caller holds s.mu.
func (s *Scheduler) setPriority(t *Task, p Priority, obj string) {
	if t.eff == p {
		return
	}
	if t.state == Ready {
		s.ready.remove(t)
		t.eff = p
		s.ready.rbt.Put(keyOf(t), t)
	} else {
		t.eff = p
	}
	s.emit(StatusPriorityUpdate, t, obj)
}

func objectName(obj waitObject) string {
	if obj == nil {
		return "delay"
	}
	return obj.objectName()
}
