package slab

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Header field byte offsets within a slab's page. The header lives
// inside the mapped page itself (not a separate Go struct) because
// hint_not_needed discards the page's physical backing: a thread that
// dereferences a stale pointer must observe zeroed bytes, not a live
// Go object, so the magic check has something real to fail against.
const (
	offMagic        = 0
	offObjectSize   = 4
	offObjectCount  = 8
	offFreeCount    = 12
	offListID       = 16
	offCacheState   = 20
	offEpochID      = 24
	offEra          = 32 // 8 bytes, kept 8-byte aligned
	offWasPublished = 40
	offSlabID       = 44
	// 48..63 reserved
)

// Slab is a single mapped page: a fixed header, an atomic free-slot
// bitmap, and a data region of equal-sized slots. Every Slab that is
// ever reachable through the registry or a current_partial pointer
// lives for the remainder of the process, per spec §1/§4.3.
type Slab struct {
	mem []byte // exactly PageSize bytes, page-aligned

	// Cached copies of immutable-after-init fields, valid only while
	// the slab is not sitting unpublished in the cache (a live handle
	// can never coexist with an unpublished, cached, possibly-discarded
	// slab).
	objectSize  uint32
	objectCount int
	bitmapWords int
	dataOffset  int

	// node is this slab's membership node in whichever intrusive list
	// it currently belongs to (or nil if unlinked). It is Go-heap
	// state, not page state: list membership changes only under the
	// owning size class's mutex and never needs to survive page
	// discard, since a slab is always unlinked before it reaches the
	// cache (§4.7 cache_push precondition).
	node *slabNode

	// log is the owning size class's logger, used only by the bitmap
	// CAS-spin tripwires (§7) to attach a diagnostic dump before
	// aborting the process.
	log *zap.Logger
}

func newSlabView(mem []byte, log *zap.Logger) *Slab {
	return &Slab{mem: mem, log: log}
}

// init fully initializes a freshly mapped page: magic, sizes,
// free_count = object_count, list_id NONE, cache_state ACTIVE, epoch
// and era, was_published false, slab_id, and a zeroed bitmap.
func (s *Slab) init(objectSize uint32, objectCount int, epochID uint32, era uint64, slabID uint32) {
	s.objectSize = objectSize
	s.objectCount = objectCount
	s.bitmapWords = (objectCount + 31) / 32
	s.dataOffset = HeaderSize + s.bitmapWords*4

	for i := 0; i < s.bitmapWords; i++ {
		atomic.StoreUint32(u32ptr(s.mem, HeaderSize+i*4), 0)
	}

	atomic.StoreUint32(u32ptr(s.mem, offObjectSize), objectSize)
	atomic.StoreUint32(u32ptr(s.mem, offObjectCount), uint32(objectCount))
	atomic.StoreUint32(u32ptr(s.mem, offFreeCount), uint32(objectCount))
	atomic.StoreUint32(u32ptr(s.mem, offListID), uint32(listNone))
	atomic.StoreUint32(u32ptr(s.mem, offCacheState), uint32(cacheActive))
	atomic.StoreUint32(u32ptr(s.mem, offEpochID), epochID)
	atomic.StoreUint64(u64ptr(s.mem, offEra), era)
	atomic.StoreUint32(u32ptr(s.mem, offWasPublished), 0)
	atomic.StoreUint32(u32ptr(s.mem, offSlabID), slabID)
	// magic last: publishes the fully-initialized header.
	atomic.StoreUint32(u32ptr(s.mem, offMagic), slabMagic)
}

// reinit reinitializes a slab popped from the cache, restoring
// was_published and slab_id from the off-page cache entry per §4.7.
func (s *Slab) reinit(objectSize uint32, objectCount int, epochID uint32, era uint64, slabID uint32, wasPublished bool) {
	s.init(objectSize, objectCount, epochID, era, slabID)
	if wasPublished {
		atomic.StoreUint32(u32ptr(s.mem, offWasPublished), 1)
	}
}

func (s *Slab) magic() uint32        { return atomic.LoadUint32(u32ptr(s.mem, offMagic)) }
func (s *Slab) magicIntact() bool    { return s.magic() == slabMagic }
func (s *Slab) objectSizeField() uint32 {
	return atomic.LoadUint32(u32ptr(s.mem, offObjectSize))
}
func (s *Slab) objectCountField() uint32 {
	return atomic.LoadUint32(u32ptr(s.mem, offObjectCount))
}
func (s *Slab) freeCount() uint32        { return atomic.LoadUint32(u32ptr(s.mem, offFreeCount)) }
// addFreeCount adds delta to free_count and returns the value it held
// before the update.
func (s *Slab) addFreeCount(delta int32) uint32 {
	if delta >= 0 {
		return atomic.AddUint32(u32ptr(s.mem, offFreeCount), uint32(delta)) - uint32(delta)
	}
	return atomic.AddUint32(u32ptr(s.mem, offFreeCount), ^uint32(-delta-1)) + uint32(-delta)
}
func (s *Slab) listIDField() listID { return listID(atomic.LoadUint32(u32ptr(s.mem, offListID))) }
func (s *Slab) setListID(id listID) { atomic.StoreUint32(u32ptr(s.mem, offListID), uint32(id)) }
func (s *Slab) cacheStateField() cacheState {
	return cacheState(atomic.LoadUint32(u32ptr(s.mem, offCacheState)))
}
func (s *Slab) setCacheState(cs cacheState) {
	atomic.StoreUint32(u32ptr(s.mem, offCacheState), uint32(cs))
}
func (s *Slab) epochID() uint32 { return atomic.LoadUint32(u32ptr(s.mem, offEpochID)) }
func (s *Slab) era() uint64     { return atomic.LoadUint64(u64ptr(s.mem, offEra)) }
func (s *Slab) wasPublished() bool {
	return atomic.LoadUint32(u32ptr(s.mem, offWasPublished)) != 0
}
func (s *Slab) setPublished() { atomic.StoreUint32(u32ptr(s.mem, offWasPublished), 1) }
func (s *Slab) slabID() uint32 { return atomic.LoadUint32(u32ptr(s.mem, offSlabID)) }

// slotBytes returns slot idx's data region as a byte slice of length
// objectSize.
func (s *Slab) slotBytes(idx int) []byte {
	off := s.dataOffset + idx*int(s.objectSize)
	return s.mem[off : off+int(s.objectSize) : off+int(s.objectSize)]
}

// bitmapWord loads bitmap word i with relaxed ordering.
func (s *Slab) bitmapWord(i int) uint32 {
	return atomic.LoadUint32(u32ptr(s.mem, HeaderSize+i*4))
}

func (s *Slab) casBitmapWord(i int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(u32ptr(s.mem, HeaderSize+i*4), old, new)
}

// intrusive doubly-linked list pointers, stored in Go-level fields on
// a side node rather than in the page: list membership is mutated
// only under the per-class mutex, so there is no need for these to be
// atomic or to survive page discard (a slab is always unlinked from
// its list before it can reach the cache, per §4.7 cache_push
// precondition).
type slabNode struct {
	slab *Slab
	prev *slabNode
	next *slabNode
}
