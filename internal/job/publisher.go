package job

import (
	"errors"

	"github.com/rs/zerolog"

	"tickrt/internal/pool"
	"tickrt/internal/sched"
)

// Publisher posts a pooled TestSignal event to a task's queue every N ticks.
// OnTick runs in tick context, after the scheduler has advanced time.
type Publisher struct {
	pool   *pool.Pool[Event]
	target *sched.Task
	every  uint32
	log    zerolog.Logger

	ticks   uint32
	seq     uint64
	dropped uint64
}

// NewPublisher returns nil when every is zero, meaning nothing is published.
func NewPublisher(p *pool.Pool[Event], target *sched.Task, every uint32, log zerolog.Logger) *Publisher {
	if every == 0 {
		return nil
	}
	return &Publisher{pool: p, target: target, every: every, log: log}
}

// OnTick is called once per tick from the tick source.
func (p *Publisher) OnTick() {
	p.ticks++
	if p.ticks%p.every != 0 {
		return
	}
	if err := p.Publish(); err != nil {
		p.dropped++
		p.log.Warn().Err(err).Uint64("dropped", p.dropped).Msg("event dropped")
	}
}

// Publish allocates one event and posts it from outside task context. The
// event is returned to the pool when it cannot be queued.
func (p *Publisher) Publish() error {
	p.seq++
	s := p.target.Scheduler()
	h, err := p.pool.Alloc(Event{Signal: TestSignal, Seq: p.seq, Posted: s.Now()})
	if err != nil {
		return err
	}
	if err := p.target.Queue().Post(nil, h); err != nil {
		return errors.Join(err, p.pool.Release(h))
	}
	return nil
}

// Dropped returns how many events could not be published.
func (p *Publisher) Dropped() uint64 { return p.dropped }
