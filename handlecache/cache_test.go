package handlecache

import (
	"testing"

	"github.com/blackwell-systems/temporal-slab-sub002/slab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFallsThroughToAllocatorWhenEmpty(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	c := New(alloc, 128, 8)
	_, h, err := c.Get(0)
	require.NoError(t, err)
	assert.False(t, h.IsEmpty())
}

func TestPutThenGetReusesStashedHandle(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	c := New(alloc, 128, 8)
	mem, h, err := c.Get(0)
	require.NoError(t, err)
	require.Len(t, mem, 128)
	mem[0] = 0xAB

	c.Put(h, 0)
	assert.Equal(t, 1, c.Len())

	mem2, h2, err := c.Get(0)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
	assert.Equal(t, 0, c.Len())
	require.Len(t, mem2, 128)
	assert.Equal(t, byte(0xAB), mem2[0], "reused handle must deref to the same backing bytes")
}

func TestFlushEpochFreesOnlyThatEpochsHandles(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	c := New(alloc, 128, 8)
	_, h0, err := c.Get(0)
	require.NoError(t, err)
	_, h1, err := c.Get(1)
	require.NoError(t, err)
	c.Put(h0, 0)
	c.Put(h1, 1)

	n := c.FlushEpoch(0)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, c.Len())

	assert.False(t, alloc.Free(h0), "flushed handle should already be freed")
	assert.True(t, alloc.Free(h1), "unflushed handle should still be outstanding")
}
