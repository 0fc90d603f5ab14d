// Package job wires the two cooperating tasks onto a scheduler: a consumer
// that computes under a ceiling mutex whenever it is signalled, and a
// signaller that polls its queue with a timeout and signals the consumer each
// time the poll comes back empty.
package job

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tickrt/internal/pool"
	"tickrt/internal/sched"
)

// Event is the payload carried through the event pool.
type Event struct {
	Signal uint16
	Seq    uint64
	Posted sched.Tick
}

// TestSignal is the signal the publisher posts.
const TestSignal uint16 = 5

// Config holds the priorities and timings of the two tasks, in ticks.
type Config struct {
	ConsumerPriority sched.Priority `yaml:"consumer_priority"`
	SignalerPriority sched.Priority `yaml:"signaler_priority"`
	MutexCeiling     sched.Priority `yaml:"mutex_ceiling"`
	QueueCap         int            `yaml:"queue_cap"`
	StackSize        int            `yaml:"stack_size"`

	ConsumerWait  sched.Timeout `yaml:"consumer_wait"`  // semaphore wait bound
	ConsumerDelay sched.Timeout `yaml:"consumer_delay"` // pause after each round
	SignalerWait  sched.Timeout `yaml:"signaler_wait"`  // queue poll bound
	SignalerDelay sched.Timeout `yaml:"signaler_delay"` // pause before signalling
}

// DefaultConfig derives the stock timings from the tick rate.
func DefaultConfig(ticksPerSec uint32) Config {
	tps := sched.Timeout(ticksPerSec)
	return Config{
		ConsumerPriority: 1,
		SignalerPriority: 7,
		MutexCeiling:     3,
		QueueCap:         5,
		StackSize:        512,
		ConsumerWait:     2 * tps,
		ConsumerDelay:    tps / 7,
		SignalerWait:     tps / 2,
		SignalerDelay:    tps / 2,
	}
}

// ErrBadConfig wraps every reason Validate rejects a configuration.
var ErrBadConfig = errors.New("invalid demo configuration")

// Validate rejects priorities and timings the kernel would refuse once the
// tasks are running.
func (c Config) Validate() error {
	var errs []error
	prio := func(field string, p sched.Priority) {
		if p < sched.MinPriority || p > sched.MaxPriority {
			errs = append(errs, fmt.Errorf("%s %d outside %d..%d", field, p, sched.MinPriority, sched.MaxPriority))
		}
	}
	prio("consumer_priority", c.ConsumerPriority)
	prio("signaler_priority", c.SignalerPriority)
	prio("mutex_ceiling", c.MutexCeiling)
	if c.ConsumerPriority == c.SignalerPriority {
		errs = append(errs, fmt.Errorf("consumer and signaler share priority %d", c.ConsumerPriority))
	}
	if c.QueueCap < 1 {
		errs = append(errs, fmt.Errorf("queue_cap %d must be positive", c.QueueCap))
	}

	// waits may be Forever, delays may not
	wait := func(field string, d sched.Timeout) {
		if d != sched.Forever && d > sched.MaxTimeout {
			errs = append(errs, fmt.Errorf("%s %d above %d", field, d, sched.MaxTimeout))
		}
	}
	delay := func(field string, d sched.Timeout) {
		if d > sched.MaxTimeout {
			errs = append(errs, fmt.Errorf("%s %d above %d", field, d, sched.MaxTimeout))
		}
	}
	wait("consumer_wait", c.ConsumerWait)
	wait("signaler_wait", c.SignalerWait)
	delay("consumer_delay", c.ConsumerDelay)
	delay("signaler_delay", c.SignalerDelay)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrBadConfig, errors.Join(errs...))
	}
	return nil
}

// Period is the steady-state distance between two consumer computations.
func (c Config) Period() sched.Timeout {
	return c.SignalerWait + c.SignalerDelay
}

// Recorder keeps what the tasks did, for tests and the run summary.
type Recorder struct {
	mu         sync.Mutex
	computes   []Compute
	deliveries int
	timeouts   int
}

// Compute is one pass through the consumer's critical section.
type Compute struct {
	Tick     sched.Tick
	Priority sched.Priority // consumer's effective priority while computing
	Result   float32
}

func (r *Recorder) compute(c Compute) {
	r.mu.Lock()
	r.computes = append(r.computes, c)
	r.mu.Unlock()
}

func (r *Recorder) delivered() {
	r.mu.Lock()
	r.deliveries++
	r.mu.Unlock()
}

func (r *Recorder) timedOut() {
	r.mu.Lock()
	r.timeouts++
	r.mu.Unlock()
}

// Computes returns the consumer computations seen so far.
func (r *Recorder) Computes() []Compute {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Compute(nil), r.computes...)
}

// Deliveries returns how many events the signaller received and released.
func (r *Recorder) Deliveries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries
}

// Timeouts returns how many queue polls came back empty.
func (r *Recorder) Timeouts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeouts
}

// Demo is the installed pair of tasks and the primitives they share.
type Demo struct {
	Consumer *sched.Task
	Signaler *sched.Task
	Sema     *sched.Semaphore
	Mutex    *sched.Mutex
	Recorder *Recorder

	cfg  Config
	pool *pool.Pool[Event]
	log  zerolog.Logger
}

// Install registers the semaphore, the mutex and both tasks on s.
func Install(s *sched.Scheduler, cfg Config, p *pool.Pool[Event], log zerolog.Logger) (*Demo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Demo{cfg: cfg, pool: p, log: log, Recorder: &Recorder{}}

	var err error
	if d.Sema, err = s.NewSemaphore("sema", 0, 1); err != nil {
		return nil, err
	}
	if d.Mutex, err = s.NewMutex("mutex", cfg.MutexCeiling); err != nil {
		return nil, err
	}
	d.Consumer, err = s.AddTask(sched.TaskSpec{
		Name:      "consumer",
		Priority:  cfg.ConsumerPriority,
		QueueCap:  cfg.QueueCap,
		StackSize: cfg.StackSize,
		Run:       d.consume,
	})
	if err != nil {
		return nil, err
	}
	d.Signaler, err = s.AddTask(sched.TaskSpec{
		Name:      "signaler",
		Priority:  cfg.SignalerPriority,
		QueueCap:  cfg.QueueCap,
		StackSize: cfg.StackSize,
		Run:       d.signal,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Demo) consume(t *sched.Task) {
	s := t.Scheduler()
	for {
		d.step(t, "wait semaphore")
		res, err := d.Sema.Wait(t, d.cfg.ConsumerWait)
		d.check(t, err)

		if res == sched.Acquired {
			d.step(t, "lock mutex")
			d.check(t, d.Mutex.Lock(t, sched.Forever))
			d.Recorder.compute(Compute{
				Tick:     s.Now(),
				Priority: t.EffectivePriority(),
				Result:   work(),
			})
			d.check(t, d.Mutex.Unlock(t))
		} else {
			d.step(t, "semaphore timed out")
		}

		d.check(t, s.Delay(t, d.cfg.ConsumerDelay))
	}
}

func (d *Demo) signal(t *sched.Task) {
	s := t.Scheduler()
	for {
		work()

		d.step(t, "poll queue")
		h, res, err := t.Queue().Get(t, d.cfg.SignalerWait)
		d.check(t, err)

		if res == sched.Delivered {
			d.step(t, "event delivered")
			if err := d.pool.Release(h); err != nil {
				d.log.Error().Err(err).Str("task", t.Name).Msg("release failed")
				s.ReportFault("job:"+t.Name, sched.FaultInvariant)
			}
			d.Recorder.delivered()
			continue
		}

		d.Recorder.timedOut()
		d.step(t, "queue timed out")
		d.check(t, s.Delay(t, d.cfg.SignalerDelay))
		d.check(t, d.Sema.Signal(t))
		d.step(t, "signalled")
	}
}

// work is the fixed-cost floating point computation both tasks perform.
func work() float32 {
	x := float32(1.4142135)
	return x * x
}

func (d *Demo) step(t *sched.Task, what string) {
	d.log.Debug().Str("task", t.Name).Uint32("tick", uint32(t.Scheduler().Now())).Msg(what)
}

// check escalates any usage error to a fault; the protocol has no recovery path.
func (d *Demo) check(t *sched.Task, err error) {
	if err == nil {
		return
	}
	d.log.Error().Err(err).Str("task", t.Name).Msg("primitive misuse")
	t.Scheduler().ReportFault("job:"+t.Name, faultCode(err))
}

func faultCode(err error) sched.FaultCode {
	switch {
	case errors.Is(err, sched.ErrRecursiveLock):
		return sched.FaultRecursiveLock
	case errors.Is(err, sched.ErrNotHolder):
		return sched.FaultNotHolder
	case errors.Is(err, sched.ErrQueueFull):
		return sched.FaultQueueFull
	default:
		return sched.FaultInvariant
	}
}
