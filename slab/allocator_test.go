package slab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := New(WithPageHinting(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Destroy() })
	return a
}

// TestAllocFreeIdentity covers S1: a single alloc/free round-trips,
// writes survive until freed, and a repeated free is rejected.
func TestAllocFreeIdentity(t *testing.T) {
	a := newTestAllocator(t)

	mem, h, err := a.Allocate(128, 0)
	require.NoError(t, err)
	mem[0] = 0xA5
	assert.Equal(t, byte(0xA5), mem[0])

	assert.True(t, a.Free(h))
	assert.False(t, a.Free(h), "second free of the same handle must be rejected")

	cs, ok := a.SnapshotStatsClass(2) // 128B is class index 2
	require.True(t, ok)
	assert.Equal(t, uint64(1), cs.NewSlabCount)
	assert.Equal(t, uint64(0), cs.CacheRecycled)
}

// TestChurnNoClose covers S2 at reduced scale: repeated alloc/free
// cycles within one epoch must not grow the new-slab count once the
// working set's slabs are already mapped.
func TestChurnNoClose(t *testing.T) {
	a := newTestAllocator(t)

	const total = 2000
	handles := make([]Handle, total)
	for i := range handles {
		_, h, err := a.Allocate(128, 0)
		require.NoError(t, err)
		handles[i] = h
	}
	cs, _ := a.SnapshotStatsClass(2)
	steadyState := cs.NewSlabCount

	for cycle := 0; cycle < 20; cycle++ {
		for i := 0; i < 200; i++ {
			require.True(t, a.Free(handles[i]))
		}
		for i := 0; i < 200; i++ {
			_, h, err := a.Allocate(128, 0)
			require.NoError(t, err)
			handles[i] = h
		}
	}

	cs, _ = a.SnapshotStatsClass(2)
	assert.Equal(t, steadyState, cs.NewSlabCount, "churn within one epoch must not map new slabs")
}

// TestEpochReclaimRecyclesAndCachesPages covers S3: closing an epoch
// after freeing everything recycles roughly one slab per
// slots-per-slab objects, and a subsequent epoch's allocations mostly
// hit the cache instead of mapping fresh pages.
func TestEpochReclaimRecyclesAndCachesPages(t *testing.T) {
	a := newTestAllocator(t)

	const classIdx = 2 // 128B
	const count = 5000
	handles := make([]Handle, count)
	for i := range handles {
		_, h, err := a.Allocate(128, 1)
		require.NoError(t, err)
		handles[i] = h
	}
	for _, h := range handles {
		require.True(t, a.Free(h))
	}

	csBefore, _ := a.SnapshotStatsClass(classIdx)
	_, recycled, err := a.EpochClose(1)
	require.NoError(t, err)
	require.Greater(t, recycled, 0)

	slotsPerSlab := classObjectCounts[classIdx]
	expected := (count + slotsPerSlab - 1) / slotsPerSlab
	assert.InDelta(t, expected, recycled, float64(expected)/4+2)

	csAfter, _ := a.SnapshotStatsClass(classIdx)
	mappedBeforeClose := csBefore.NewSlabCount

	for i := 0; i < count; i++ {
		_, _, err := a.Allocate(128, 2)
		require.NoError(t, err)
	}
	csFinal, _ := a.SnapshotStatsClass(classIdx)
	newMappings := csFinal.NewSlabCount - csAfter.NewSlabCount
	assert.LessOrEqual(t, newMappings, mappedBeforeClose/50+1, "reused epoch should mostly hit the cache")
}

// TestStaleHandleRejectedAfterEpochWrap covers S4: once the slab
// backing a freed handle has been recycled into a new generation, the
// old handle must never validate again, even long after the epoch
// that produced it has been closed and its ring slot reused.
func TestStaleHandleRejectedAfterEpochWrap(t *testing.T) {
	a := newTestAllocator(t)

	_, h, err := a.Allocate(64, 0)
	require.NoError(t, err)
	require.True(t, a.Free(h)) // the slab is now fully empty and eligible for reclaim

	_, recycled, err := a.EpochClose(0)
	require.NoError(t, err)
	require.Greater(t, recycled, 0, "the lone freed slab should be reclaimed into the cache")

	for i := 0; i < EpochRingSize; i++ {
		a.EpochAdvance()
	}
	cur := a.EpochCurrent()
	require.EqualValues(t, 0, cur, "ring should have wrapped back to slot 0")

	// Pull the cached slab back out (and then some), which bumps its
	// registry generation.
	for i := 0; i < 100; i++ {
		_, _, err := a.Allocate(64, cur)
		require.NoError(t, err)
	}

	assert.False(t, a.Free(h), "a handle to a recycled, regenerated slab must be rejected")
}

// TestClosingEpochRejectsAllocation covers S6: once an epoch has
// advanced past ACTIVE, further allocation attempts into it fail and
// the per-class counter reflects it.
func TestClosingEpochRejectsAllocation(t *testing.T) {
	a := newTestAllocator(t)

	_, _, err := a.Allocate(64, 0)
	require.NoError(t, err)
	a.EpochAdvance()

	_, _, err = a.Allocate(64, 0)
	assert.ErrorIs(t, err, ErrEpochClosing)

	cs, _ := a.SnapshotStatsClass(0)
	assert.Equal(t, uint64(1), cs.AllocCount, "only the pre-advance allocation should have succeeded")
}

// TestConcurrentAllocFreeStress covers S5 at reduced scale: many
// goroutines hammering one size class must never corrupt bitmap
// accounting or trip an internal panic.
func TestConcurrentAllocFreeStress(t *testing.T) {
	a := newTestAllocator(t)

	const workers = 8
	const perWorker = 5000
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, h, err := a.Allocate(128, 0)
				if err != nil {
					continue
				}
				a.Free(h)
			}
		}()
	}
	wg.Wait()

	cs, _ := a.SnapshotStatsClass(2)
	if cs.BitmapAttempts > 0 {
		rate := float64(cs.BitmapCASRetries) / float64(cs.BitmapAttempts)
		assert.Less(t, rate, 0.05, "CAS retry rate should stay low under contention")
	}
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	a := newTestAllocator(t)

	_, _, err := a.Allocate(0, 0)
	assert.ErrorIs(t, err, ErrSizeZero)

	_, _, err = a.Allocate(MaxObjectSize+1, 0)
	assert.ErrorIs(t, err, ErrSizeTooLarge)

	_, _, err = a.Allocate(64, EpochRingSize)
	assert.ErrorIs(t, err, ErrInvalidEpoch)
}

func TestFreeRejectsEmptyAndMalformedHandles(t *testing.T) {
	a := newTestAllocator(t)
	assert.False(t, a.Free(0))
	assert.False(t, a.Free(Handle(^uint64(0))))
}

func TestSetLabelAndLookup(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.SetLabel(0, "render-frame-42"))
	assert.Equal(t, "render-frame-42", a.Label(0))
}

func TestRefcountRoundTrip(t *testing.T) {
	a := newTestAllocator(t)
	n, err := a.IncRefcount(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = a.DecRefcount(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
