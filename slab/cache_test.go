package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabCacheLIFOOrdering(t *testing.T) {
	var c slabCache
	for i := uint32(0); i < 5; i++ {
		c.push(cacheEntry{id: i})
	}
	for i := uint32(4); ; i-- {
		e, ok := c.pop()
		require.True(t, ok)
		assert.Equal(t, i, e.id)
		if i == 0 {
			break
		}
	}
	_, ok := c.pop()
	assert.False(t, ok)
}

func TestSlabCacheSpillsOverPastArrayCapacity(t *testing.T) {
	var c slabCache
	for i := 0; i < cacheArrayCapacity+10; i++ {
		c.push(cacheEntry{id: uint32(i)})
	}
	_, overflowed, cached := c.stats()
	assert.Equal(t, uint64(10), overflowed)
	assert.Equal(t, cacheArrayCapacity+10, cached)

	e, ok := c.pop()
	require.True(t, ok)
	assert.Equal(t, uint32(cacheArrayCapacity-1), e.id, "the array tier is popped before the spillover tier")
}
