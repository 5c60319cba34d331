package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHandleRoundTrip(t *testing.T) {
	cases := []struct {
		slabID, generation uint32
		slot, class        uint8
	}{
		{0, 1, 0, 0},
		{MaxSlabID, MaxGeneration24, 255, 7},
		{12345, 999, 17, 3},
	}
	for _, c := range cases {
		h := encodeHandle(c.slabID, c.generation, c.slot, c.class)
		d := h.decode()
		assert.Equal(t, c.slabID, d.slabID)
		assert.Equal(t, c.generation, d.generation)
		assert.Equal(t, c.slot, d.slot)
		assert.Equal(t, c.class, d.class)
		assert.Equal(t, uint8(handleVersion), d.version)
	}
}

func TestHandleZeroValueIsEmpty(t *testing.T) {
	var h Handle
	assert.True(t, h.IsEmpty())

	h = encodeHandle(0, 1, 0, 0)
	assert.False(t, h.IsEmpty())
}

func TestClassForSizeBoundaries(t *testing.T) {
	for _, c := range []struct {
		size  uint32
		class int
		ok    bool
	}{
		{1, 0, true},
		{64, 0, true},
		{65, 1, true},
		{96, 1, true},
		{768, 7, true},
		{0, 0, false},
		{769, 0, false},
	} {
		class, ok := classForSize(c.size)
		require.Equal(t, c.ok, ok, "size %d", c.size)
		if ok {
			assert.Equal(t, c.class, class, "size %d", c.size)
		}
	}
}

func TestObjectCountForFitsPage(t *testing.T) {
	for i, sz := range sizeClasses {
		n := classObjectCounts[i]
		require.Greater(t, n, 0)
		require.LessOrEqual(t, n, MaxObjectsPerSlab)
		words := (n + 31) / 32
		used := HeaderSize + words*4 + n*int(sz)
		assert.LessOrEqual(t, used, PageSize)
	}
}
