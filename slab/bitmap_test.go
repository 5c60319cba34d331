package slab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlab(t *testing.T, objectSize uint32, objectCount int) *Slab {
	t.Helper()
	mem := make([]byte, PageSize)
	s := newSlabView(mem, nil)
	s.init(objectSize, objectCount, 0, 1, 7)
	return s
}

func TestAcquireReleaseSingleSlot(t *testing.T) {
	s := newTestSlab(t, 64, 10)
	res := s.acquireSlot(0)
	require.GreaterOrEqual(t, res.slot, 0)
	assert.Equal(t, uint32(10), res.prevFreeCount)
	assert.Equal(t, uint32(9), s.freeCount())

	rel := s.releaseSlot(res.slot)
	assert.True(t, rel.ok)
	assert.Equal(t, uint32(10), s.freeCount())
}

func TestDoubleFreeRejected(t *testing.T) {
	s := newTestSlab(t, 64, 10)
	res := s.acquireSlot(0)
	require.GreaterOrEqual(t, res.slot, 0)
	require.True(t, s.releaseSlot(res.slot).ok)
	assert.False(t, s.releaseSlot(res.slot).ok, "second release of the same slot must fail")
}

func TestAcquireUntilExhaustedThenFull(t *testing.T) {
	objectCount := 40 // spans two bitmap words, last word partial
	s := newTestSlab(t, 64, objectCount)
	seen := make(map[int]bool)
	for i := 0; i < objectCount; i++ {
		res := s.acquireSlot(0)
		require.GreaterOrEqual(t, res.slot, 0, "acquisition %d should succeed", i)
		require.False(t, seen[res.slot], "slot %d acquired twice", res.slot)
		seen[res.slot] = true
	}
	exhausted := s.acquireSlot(0)
	assert.Equal(t, -1, exhausted.slot)
	assert.True(t, s.bitmapStablyFull())
	assert.Equal(t, uint32(0), s.freeCount())
}

func TestLastWordMaskExactMultipleOf32(t *testing.T) {
	s := newTestSlab(t, 64, 64) // exactly two full words
	assert.Equal(t, ^uint32(0), s.lastWordMask(1))
}

func TestLastWordMaskPartial(t *testing.T) {
	s := newTestSlab(t, 64, 40) // second word has 8 valid bits
	assert.Equal(t, uint32(1)<<8-1, s.lastWordMask(1))
}

func TestConcurrentAcquireNeverDoubleAssignsASlot(t *testing.T) {
	objectCount := 200
	s := newTestSlab(t, 64, objectCount)

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	workers := 16
	perWorker := objectCount / workers

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				res := s.acquireSlot(0)
				if res.slot < 0 {
					return
				}
				mu.Lock()
				assert.False(t, seen[res.slot])
				seen[res.slot] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}
