package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocGetRelease(t *testing.T) {
	p := New[string](2)
	assert.Equal(t, 2, p.Cap())

	a, err := p.Alloc("a")
	require.NoError(t, err)
	b, err := p.Alloc("b")
	require.NoError(t, err)
	assert.True(t, a.Valid())
	assert.NotEqual(t, a, b)

	_, err = p.Alloc("c")
	assert.ErrorIs(t, err, ErrExhausted)

	v, err := p.Get(b)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, 2, p.InUse())

	require.NoError(t, p.Release(a))
	assert.Equal(t, 1, p.InUse())
	assert.Equal(t, 2, p.Peak())
}

func TestStaleHandlesAreRejected(t *testing.T) {
	p := New[int](1)
	h, err := p.Alloc(7)
	require.NoError(t, err)
	require.NoError(t, p.Release(h))

	assert.ErrorIs(t, p.Release(h), ErrStaleHandle)
	_, err = p.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)

	// the slot is reused under a new generation
	h2, err := p.Alloc(8)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	_, err = p.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)

	assert.ErrorIs(t, p.Release(Handle{}), ErrStaleHandle)
	assert.ErrorIs(t, p.Release(Handle{idx: 9, gen: 1}), ErrStaleHandle)
	assert.Equal(t, "handle(nil)", Handle{}.String())
}

func TestConcurrentUse(t *testing.T) {
	p := New[int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h, err := p.Alloc(i)
				if err != nil {
					continue
				}
				v, err := p.Get(h)
				assert.NoError(t, err)
				assert.Equal(t, i, v)
				assert.NoError(t, p.Release(h))
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, p.InUse())
	assert.LessOrEqual(t, p.Peak(), 16)
}
