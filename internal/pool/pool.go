// Package pool is a fixed-size event arena. Every allocation is identified by
// a Handle that must be released exactly once; stale handles are rejected.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/stacks/arraystack"
)

var (
	ErrExhausted   = errors.New("pool exhausted")
	ErrStaleHandle = errors.New("stale or unknown handle")
)

// Handle names one slot of a Pool for the lifetime of one allocation.
// The zero Handle is never valid.
type Handle struct {
	idx uint32
	gen uint32
}

// Valid reports whether h was produced by Alloc (it may still be stale).
func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string {
	if !h.Valid() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d#%d)", h.idx, h.gen)
}

type slot[T any] struct {
	val  T
	gen  uint32
	used bool
}

// Pool is a fixed number of slots of T. It is safe for concurrent use.
type Pool[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  *arraystack.Stack
	inUse int
	peak  int
}

// New creates a pool with n slots.
func New[T any](n int) *Pool[T] {
	p := &Pool[T]{
		slots: make([]slot[T], n),
		free:  arraystack.New(),
	}
	for i := n - 1; i >= 0; i-- {
		p.free.Push(uint32(i))
	}
	return p
}

// Alloc stores v in a free slot.
func (p *Pool[T]) Alloc(v T) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	top, ok := p.free.Pop()
	if !ok {
		return Handle{}, ErrExhausted
	}
	idx := top.(uint32)
	s := &p.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.val = v
	s.used = true
	p.inUse++
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
	return Handle{idx: idx, gen: s.gen}, nil
}

// Get returns the value behind a live handle.
func (p *Pool[T]) Get(h Handle) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.val, nil
}

// Release returns the slot to the pool. Releasing twice is an error.
func (p *Pool[T]) Release(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(h)
	if err != nil {
		return err
	}
	var zero T
	s.val = zero
	s.used = false
	p.inUse--
	p.free.Push(h.idx)
	return nil
}

func (p *Pool[T]) lookup(h Handle) (*slot[T], error) {
	if !h.Valid() || int(h.idx) >= len(p.slots) {
		return nil, fmt.Errorf("%v: %w", h, ErrStaleHandle)
	}
	s := &p.slots[h.idx]
	if !s.used || s.gen != h.gen {
		return nil, fmt.Errorf("%v: %w", h, ErrStaleHandle)
	}
	return s, nil
}

// InUse returns the number of live allocations.
func (p *Pool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Peak returns the highest number of simultaneous allocations seen.
func (p *Pool[T]) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Cap returns the number of slots.
func (p *Pool[T]) Cap() int { return len(p.slots) }
