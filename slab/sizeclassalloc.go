package slab

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// sizeClassAllocator owns one object size's epoch list pairs, its
// empty-slab cache, contention counters, and the adaptive bitmap-scan
// controller (§2 component 6). mu is the per-class allocator mutex
// (rank 30); cache has its own mutex (rank 20).
type sizeClassAllocator struct {
	classIdx    int
	objectSize  uint32
	objectCount int

	mu       watchdogMutex
	perEpoch [EpochRingSize]epochClassState

	cache  slabCache
	reg    *registry
	mapper *pageMapper
	epochs *epochRing
	scan   *scanController
	log    *zap.Logger

	successCount atomic.Uint64

	newSlabCount              atomic.Uint64
	bitmapAttempts            atomic.Uint64
	bitmapCASRetries          atomic.Uint64
	currentPartialCASFailures atomic.Uint64
	slowPathEpochClosed       atomic.Uint64
	zombieRepairs             atomic.Uint64
	epochCloseScannedSlabs    atomic.Uint64
	epochCloseRecycledSlabs   atomic.Uint64
	epochCloseTotalNs         atomic.Uint64
	allocCount                atomic.Uint64
	freeCount                 atomic.Uint64
	doubleFreeCount           atomic.Uint64
	invalidFreeCount          atomic.Uint64
}

func newSizeClassAllocator(classIdx int, objectSize uint32, objectCount int, reg *registry, mapper *pageMapper, epochs *epochRing, enterRate, exitRate float64, log *zap.Logger) *sizeClassAllocator {
	sca := &sizeClassAllocator{
		classIdx:    classIdx,
		objectSize:  objectSize,
		objectCount: objectCount,
		mu:          newWatchdogMutex(fmt.Sprintf("size-class[%d]", classIdx), log),
		reg:         reg,
		mapper:      mapper,
		epochs:      epochs,
		scan:        newScanController(enterRate, exitRate),
		log:         log,
	}
	sca.cache.init(fmt.Sprintf("cache[class=%d]", classIdx), log)
	return sca
}

// allocate implements §4.4: the lock-free fast path against
// current_partial, falling back to the mutex-protected slow path.
func (sca *sizeClassAllocator) allocate(epochID uint32) ([]byte, Handle, error) {
	cs := &sca.perEpoch[epochID]

	if sca.epochs.state(epochID) != epochActive {
		sca.slowPathEpochClosed.Add(1)
		return nil, 0, ErrEpochClosing
	}

	if s := cs.currentPartial.Load(); s != nil && s.magicIntact() {
		res := sca.acquireWithScan(s)
		if res.slot >= 0 {
			return sca.finishFastPath(cs, s, res)
		}
		// The published slab turned out to be full. Retire it from
		// current_partial and, under the mutex, convert any stable
		// bitmap-full divergence into a correct list move — the
		// "zombie-partial repair" belt-and-braces defense of §4.4
		// step 4 / §9.
		if !cs.currentPartial.CompareAndSwap(s, nil) {
			sca.currentPartialCASFailures.Add(1)
		}
		sca.repairIfStablyFull(cs, s)
	}

	return sca.allocateSlow(cs, epochID)
}

func (sca *sizeClassAllocator) finishFastPath(cs *epochClassState, s *Slab, res acquireResult) ([]byte, Handle, error) {
	if res.prevFreeCount == uint32(s.objectCount) {
		cs.emptyPartial.Add(-1)
	}
	if res.prevFreeCount == 1 {
		sca.mu.Lock()
		if s.listIDField() == listPartial {
			cs.movePartialToFull(s.node)
			sca.publishSuccessor(cs)
		}
		sca.mu.Unlock()
	}
	ptr := s.slotBytes(res.slot)
	h := encodeHandle(s.slabID(), sca.reg.currentGeneration(s.slabID()), uint8(res.slot), uint8(sca.classIdx))
	sca.allocCount.Add(1)
	sca.onSuccessfulAcquire()
	return ptr, h, nil
}

// publishSuccessor stores the partial list's current head as the new
// current_partial (release), or nil if the list is now empty. Caller
// holds sca.mu.
func (sca *sizeClassAllocator) publishSuccessor(cs *epochClassState) {
	if cs.partialHead != nil {
		cs.partialHead.slab.setPublished()
		cs.currentPartial.Store(cs.partialHead.slab)
	} else {
		cs.currentPartial.Store(nil)
	}
}

// repairIfStablyFull converts a slab whose free_count suggested free
// slots but whose bitmap is actually stably full into a correct FULL
// list membership (§4.4 step 4, §9 "zombie partial").
func (sca *sizeClassAllocator) repairIfStablyFull(cs *epochClassState, s *Slab) {
	sca.mu.Lock()
	defer sca.mu.Unlock()
	if s.listIDField() == listPartial && s.bitmapStablyFull() {
		cs.movePartialToFull(s.node)
		sca.publishSuccessor(cs)
		sca.zombieRepairs.Add(1)
		if sca.log != nil {
			sca.log.Debug("zombie partial repaired", zap.Int("class", sca.classIdx), zap.Uint32("slab_id", s.slabID()))
		}
	}
}

// allocateSlow implements §4.4 step 5-6: walk the partial list
// (repairing zombie-full slabs as found), obtain a fresh slab from the
// cache or the OS if the list is empty, and retry bitmap acquisition
// until it succeeds. Bounded by deepRetryTripwire via acquireSlot's
// own CAS tripwire plus an outer iteration cap.
func (sca *sizeClassAllocator) allocateSlow(cs *epochClassState, epochID uint32) ([]byte, Handle, error) {
	for iter := 0; iter < deepRetryTripwire; iter++ {
		if sca.epochs.state(epochID) != epochActive {
			sca.slowPathEpochClosed.Add(1)
			return nil, 0, ErrEpochClosing
		}

		sca.mu.Lock()
		var candidate *slabNode
		node := cs.partialHead
		for node != nil {
			next := node.next
			if node.slab.freeCount() <= 1 && node.slab.bitmapStablyFull() {
				cs.movePartialToFull(node)
				sca.zombieRepairs.Add(1)
				if sca.log != nil {
					sca.log.Debug("zombie partial repaired", zap.Int("class", sca.classIdx), zap.Uint32("slab_id", node.slab.slabID()))
				}
				node = next
				continue
			}
			candidate = node
			break
		}
		sca.mu.Unlock()

		var s *Slab
		if candidate != nil {
			s = candidate.slab
		} else {
			newSlab, err := sca.obtainSlab(epochID)
			if err != nil {
				return nil, 0, err
			}
			sca.mu.Lock()
			n := &slabNode{slab: newSlab}
			newSlab.node = n
			cs.pushPartial(n)
			newSlab.setPublished()
			cs.currentPartial.Store(newSlab)
			sca.mu.Unlock()
			s = newSlab
		}

		res := sca.acquireWithScan(s)
		if res.slot < 0 {
			continue // a racing thread filled it between our check and our attempt
		}

		sca.mu.Lock()
		if res.prevFreeCount == uint32(s.objectCount) {
			cs.emptyPartial.Add(-1)
		}
		if res.prevFreeCount == 1 && s.listIDField() == listPartial {
			cs.movePartialToFull(s.node)
			sca.publishSuccessor(cs)
		}
		sca.mu.Unlock()

		ptr := s.slotBytes(res.slot)
		h := encodeHandle(s.slabID(), sca.reg.currentGeneration(s.slabID()), uint8(res.slot), uint8(sca.classIdx))
		sca.allocCount.Add(1)
		sca.onSuccessfulAcquire()
		return ptr, h, nil
	}
	tripwireFatal(sca.log, "slow-path loop bound", zap.Int("class", sca.classIdx), zap.Uint32("epoch", epochID), zap.Int("iterations", deepRetryTripwire))
	panic("unreachable: tripwireFatal aborts the process")
}

func (sca *sizeClassAllocator) acquireWithScan(s *Slab) acquireResult {
	start := sca.scan.startWord(s.bitmapWords)
	res := s.acquireSlot(start)
	sca.bitmapAttempts.Add(1)
	sca.bitmapCASRetries.Add(uint64(res.retries))
	sca.scan.recordAttempt(res.retries, false)
	return res
}

func (sca *sizeClassAllocator) onSuccessfulAcquire() {
	n := sca.successCount.Add(1)
	if n%adaptiveScanCheckPeriod == 0 {
		sca.scan.maybeReevaluate()
	}
}

// obtainSlab implements §4.5: pop from the cache and reinitialize, or
// map a fresh page and register it.
func (sca *sizeClassAllocator) obtainSlab(epochID uint32) (*Slab, error) {
	era := sca.epochs.era(epochID)

	if entry, ok := sca.cache.pop(); ok {
		sca.reg.bumpGeneration(entry.id)
		entry.slab.reinit(sca.objectSize, sca.objectCount, epochID, era, entry.id, entry.wasPublished)
		sca.reg.publish(entry.id, entry.slab) // re-store for the release fence over the reinit writes
		return entry.slab, nil
	}

	mem, err := sca.mapper.mapPage()
	if err != nil {
		return nil, err
	}
	id, err := sca.reg.allocateID()
	if err != nil {
		_ = sca.mapper.unmapPage(mem)
		return nil, err
	}
	s := newSlabView(mem, sca.log)
	s.init(sca.objectSize, sca.objectCount, epochID, era, id)
	sca.reg.publish(id, s)
	sca.newSlabCount.Add(1)
	return s, nil
}

// cachePush implements §4.7: snapshot id/was_published off-page,
// optionally hint the page not-needed, then insert into the cache.
// The precondition (slab already unlinked from any epoch list) is the
// caller's responsibility.
func (sca *sizeClassAllocator) cachePush(s *Slab) {
	id := s.slabID()
	wasPub := s.wasPublished()

	s.setCacheState(cacheCached)
	if !wasPub {
		sca.mapper.hintNotNeeded(s.mem)
	}
	sca.cache.push(cacheEntry{slab: s, id: id, wasPublished: wasPub})
}

// freeSlot implements §4.8 steps 4-7, given an already
// registry-validated slab and decoded slot/epoch. Returns false on
// double-free.
func (sca *sizeClassAllocator) freeSlot(s *Slab, slot int) bool {
	epochID := s.epochID()
	if epochID >= EpochRingSize {
		sca.invalidFreeCount.Add(1)
		return false
	}
	cs := &sca.perEpoch[epochID]

	res := s.releaseSlot(slot)
	if !res.ok {
		sca.doubleFreeCount.Add(1)
		return false
	}
	sca.freeCount.Add(1)

	if res.prevFreeCount+1 == uint32(s.objectCount) {
		sca.mu.Lock()
		switch s.listIDField() {
		case listFull:
			cs.moveFullToPartial(s.node)
			cs.emptyPartial.Add(1)
		case listPartial:
			cs.emptyPartial.Add(1)
		}
		sca.mu.Unlock()
	} else if res.prevFreeCount == 0 {
		sca.mu.Lock()
		if s.listIDField() == listFull {
			cs.moveFullToPartial(s.node)
		}
		sca.mu.Unlock()
		cs.currentPartial.CompareAndSwap(nil, s)
	}
	return true
}

// closeEpochReclaim implements §4.10 step 4 for this size class: null
// current_partial, collect every slab that is currently fully empty
// from the partial/full lists under the mutex, then cache_push each
// outside the lock.
func (sca *sizeClassAllocator) closeEpochReclaim(epochID uint32) (scanned, recycled int) {
	cs := &sca.perEpoch[epochID]
	cs.currentPartial.Store(nil)

	sca.mu.Lock()
	var empties []*slabNode
	for n := cs.partialHead; n != nil; {
		next := n.next
		scanned++
		if n.slab.freeCount() == uint32(n.slab.objectCount) {
			cs.unlinkPartial(n)
			n.slab.setListID(listNone)
			empties = append(empties, n)
		}
		n = next
	}
	for n := cs.fullHead; n != nil; {
		next := n.next
		scanned++
		if n.slab.freeCount() == uint32(n.slab.objectCount) {
			cs.unlinkFull(n)
			n.slab.setListID(listNone)
			empties = append(empties, n)
		}
		n = next
	}
	sca.mu.Unlock()

	for _, n := range empties {
		sca.cachePush(n.slab)
	}
	recycled = len(empties)
	sca.epochCloseScannedSlabs.Add(uint64(scanned))
	sca.epochCloseRecycledSlabs.Add(uint64(recycled))
	return scanned, recycled
}

func (sca *sizeClassAllocator) cacheStats() (recycled, overflowed uint64, cached int) {
	return sca.cache.stats()
}
