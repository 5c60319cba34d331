package slab

import (
	"math/bits"

	"go.uber.org/zap"
)

// acquireResult is the outcome of acquireSlot.
type acquireResult struct {
	slot          int // -1 if no free slot was found
	prevFreeCount uint32
	retries       int
}

// acquireSlot scans s's bitmap words starting at wordOffset (mod the
// word count; used by the adaptive scan controller's randomized
// mode), picks the lowest zero bit in the first word with room, and
// CASes it set. Bit convention: 1 = allocated, 0 = free. The last
// word's invalid high bits (when object_count % 32 != 0) are masked
// off so they never look "free".
func (s *Slab) acquireSlot(wordOffset int) acquireResult {
	n := s.bitmapWords
	retries := 0
	for attempt := 0; attempt < n; attempt++ {
		i := (wordOffset + attempt) % n
		mask := s.lastWordMask(i)
		for {
			cur := s.bitmapWord(i)
			masked := cur | ^mask // invalid high bits read as "set" so they're never chosen
			if masked == ^uint32(0) {
				break // this word is full (or fully invalid); try the next
			}
			bit := bits.TrailingZeros32(^masked)
			newWord := cur | (1 << uint(bit))
			if s.casBitmapWord(i, cur, newWord) {
				prev := s.addFreeCount(-1)
				return acquireResult{slot: i*32 + bit, prevFreeCount: prev, retries: retries}
			}
			retries++
			if retries > deepRetryTripwire {
				tripwireFatal(s.log, "CAS spin count", zap.Uint32("slab_id", s.slabID()), zap.Int("word", i), zap.Int("retries", retries))
				panic("unreachable: tripwireFatal aborts the process")
			}
		}
	}
	return acquireResult{slot: -1, retries: retries}
}

// lastWordMask returns the mask of valid bits for bitmap word i: all
// 32 bits for every word except possibly the last, which may have
// fewer valid bits when object_count % 32 != 0. A fully-divisible
// object_count yields an all-ones mask for the last word too (not
// (1<<0)-1), per spec §4.2.
func (s *Slab) lastWordMask(i int) uint32 {
	if i != s.bitmapWords-1 {
		return ^uint32(0)
	}
	rem := s.objectCount % 32
	if rem == 0 {
		return ^uint32(0)
	}
	return uint32(1)<<uint(rem) - 1
}

// releaseResult is the outcome of releaseSlot.
type releaseResult struct {
	ok            bool
	prevFreeCount uint32
	retries       int
}

// releaseSlot clears slot's bit. A bit already clear is a double-free.
func (s *Slab) releaseSlot(slotIdx int) releaseResult {
	i := slotIdx / 32
	bit := uint32(slotIdx % 32)
	retries := 0
	for {
		word := s.bitmapWord(i)
		if word&(1<<bit) == 0 {
			return releaseResult{ok: false}
		}
		newWord := word &^ (1 << bit)
		if s.casBitmapWord(i, word, newWord) {
			prev := s.addFreeCount(1)
			return releaseResult{ok: true, prevFreeCount: prev, retries: retries}
		}
		retries++
		if retries > deepRetryTripwire {
			tripwireFatal(s.log, "CAS spin count", zap.Uint32("slab_id", s.slabID()), zap.Int("slot", slotIdx), zap.Int("retries", retries))
			panic("unreachable: tripwireFatal aborts the process")
		}
	}
}

// bitmapStablyFull performs the two-scan, acquire-fenced check from
// §4.4/§4.5: it snapshots every bitmap word twice and only reports
// "full" if both snapshots agree every valid bit is set, rejecting a
// transient all-ones reading caused by a concurrent CAS sequence.
func (s *Slab) bitmapStablyFull() bool {
	first := make([]uint32, s.bitmapWords)
	for i := range first {
		first[i] = s.bitmapWord(i) | ^s.lastWordMask(i)
	}
	for i := range first {
		second := s.bitmapWord(i) | ^s.lastWordMask(i)
		if second != ^uint32(0) || first[i] != ^uint32(0) {
			return false
		}
	}
	return true
}
