package slab

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// epochSlot is one of the ring's 16 slots: a lifecycle state, a
// monotonically increasing era (to disambiguate ring wraparound for
// observability), an opened-at timestamp, a label id, a scoped-holder
// refcount, and the two RSS snapshots captured around close.
type epochSlot struct {
	state    atomic.Uint32 // epochState
	era      atomic.Uint64
	openedAt atomic.Int64 // unix nanoseconds
	labelID  atomic.Uint32
	refcount atomic.Int64

	rssBefore atomic.Uint64
	rssAfter  atomic.Uint64

	// scannedLastClose/recycledLastClose record this slot's most recent
	// EpochClose totals (summed across every size class), surfaced via
	// EpochStats (§6).
	scannedLastClose  atomic.Uint64
	recycledLastClose atomic.Uint64

	// labelMu is the epoch-label mutex from the lock inventory (rank
	// 40): it serializes the read-modify-write of labelID against
	// SetLabel racing itself for the same epoch. Reads of labelID
	// elsewhere go through the atomic directly.
	labelMu watchdogMutex
}

// epochRing is the 16-slot cyclic buffer of epoch states plus the
// global current-epoch index and era counter (§3, §4.9).
type epochRing struct {
	slots   [EpochRingSize]epochSlot
	current atomic.Uint32
	era     atomic.Uint64

	now func() int64 // injectable for tests; defaults to time.Now().UnixNano
}

func newEpochRing(now func() int64, log *zap.Logger) *epochRing {
	r := &epochRing{now: now}
	for i := range r.slots {
		r.slots[i].labelMu = newWatchdogMutex("epoch-label", log)
	}
	r.slots[0].state.Store(uint32(epochActive))
	r.slots[0].openedAt.Store(now())
	return r
}

func (r *epochRing) currentIndex() uint32 { return r.current.Load() }

func (r *epochRing) state(id uint32) epochState {
	return epochState(r.slots[id].state.Load())
}

func (r *epochRing) era(id uint32) uint64 { return r.slots[id].era.Load() }

func (r *epochRing) refcount(id uint32) int64 { return r.slots[id].refcount.Load() }

func (r *epochRing) incRefcount(id uint32) int64 { return r.slots[id].refcount.Add(1) }

func (r *epochRing) decRefcount(id uint32) int64 { return r.slots[id].refcount.Add(-1) }

// advance rotates the ring: the old current epoch is marked CLOSING,
// the next slot is marked ACTIVE with a freshly stamped era, and its
// metadata (opened-at, refcount, label) is reset. Returns the old and
// new indices so the caller (Allocator.EpochAdvance) can null
// current_partial for the old epoch across every size class.
func (r *epochRing) advance() (oldIdx, newIdx uint32) {
	for {
		old := r.current.Load()
		next := (old + 1) % EpochRingSize
		if r.current.CompareAndSwap(old, next) {
			oldIdx, newIdx = old, next
			break
		}
	}

	r.slots[oldIdx].state.Store(uint32(epochClosing))

	newEra := r.era.Add(1)
	slot := &r.slots[newIdx]
	slot.era.Store(newEra)
	slot.openedAt.Store(r.now())
	slot.refcount.Store(0)
	slot.labelID.Store(0)
	slot.rssBefore.Store(0)
	slot.rssAfter.Store(0)
	slot.scannedLastClose.Store(0)
	slot.recycledLastClose.Store(0)
	slot.state.Store(uint32(epochActive))
	return oldIdx, newIdx
}

// markClosing stores CLOSING with release ordering, synchronizing
// with the acquire load on the allocation fast path (§4.10 step 2).
func (r *epochRing) markClosing(id uint32) {
	r.slots[id].state.Store(uint32(epochClosing))
}

func (r *epochRing) snapshotRSSBefore(id uint32, rss uint64) { r.slots[id].rssBefore.Store(rss) }
func (r *epochRing) snapshotRSSAfter(id uint32, rss uint64)  { r.slots[id].rssAfter.Store(rss) }
func (r *epochRing) rssSnapshots(id uint32) (before, after uint64) {
	return r.slots[id].rssBefore.Load(), r.slots[id].rssAfter.Load()
}

func (r *epochRing) openedAt(id uint32) int64 { return r.slots[id].openedAt.Load() }

func (r *epochRing) setLabel(id uint32, labelID uint32) {
	r.slots[id].labelMu.Lock()
	defer r.slots[id].labelMu.Unlock()
	r.slots[id].labelID.Store(labelID)
}

func (r *epochRing) labelID(id uint32) uint32 { return r.slots[id].labelID.Load() }

// recordCloseStats stores the most recent EpochClose totals (summed
// across every size class) for id, surfaced via EpochStats (§6).
func (r *epochRing) recordCloseStats(id uint32, scanned, recycled uint64) {
	r.slots[id].scannedLastClose.Store(scanned)
	r.slots[id].recycledLastClose.Store(recycled)
}

func (r *epochRing) closeStats(id uint32) (scanned, recycled uint64) {
	return r.slots[id].scannedLastClose.Load(), r.slots[id].recycledLastClose.Load()
}
