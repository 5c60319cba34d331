package slab

import "go.uber.org/zap"

// cacheEntry is the off-page record kept for a cached slab: its id and
// its was_published flag, snapshotted before any page hint so they
// survive the page's physical discard (§4.7, §9 "off-page metadata").
type cacheEntry struct {
	slab         *Slab
	id           uint32
	wasPublished bool
}

// slabCache is the per-size-class pool of empty slabs ready for
// reuse: a fixed-capacity LIFO array plus an unbounded spillover list,
// both guarded by mu (rank 20).
type slabCache struct {
	mu        watchdogMutex
	array     [cacheArrayCapacity]cacheEntry
	arrayLen  int
	spillover []cacheEntry // used as a stack; a real implementation
	// could use an intrusive list, but spillover entries carry no
	// in-page link (the page may already be discarded), so a Go slice
	// is both correct and simpler.

	recycled   uint64
	overflowed uint64
}

// init names and logs this cache's mutex for the watchdog; zero-value
// slabCache (as constructed directly in tests) remains usable without
// calling it.
func (c *slabCache) init(name string, log *zap.Logger) {
	c.mu = newWatchdogMutex(name, log)
}

// push inserts e into the array tier if there's room, else the
// spillover tier. Caller must have already satisfied the cache_push
// preconditions (slab unlinked from any epoch list, hint already
// issued) — see sizeClassAllocator.cachePush.
func (c *slabCache) push(e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arrayLen < cacheArrayCapacity {
		c.array[c.arrayLen] = e
		c.arrayLen++
		c.recycled++
		return
	}
	c.spillover = append(c.spillover, e)
	c.overflowed++
}

// pop removes and returns the most recently pushed entry, LIFO from
// the array first, per §4.7.
func (c *slabCache) pop() (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arrayLen > 0 {
		c.arrayLen--
		return c.array[c.arrayLen], true
	}
	n := len(c.spillover)
	if n == 0 {
		return cacheEntry{}, false
	}
	e := c.spillover[n-1]
	c.spillover = c.spillover[:n-1]
	return e, true
}

func (c *slabCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arrayLen + len(c.spillover)
}

func (c *slabCache) stats() (recycled, overflowed uint64, cached int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recycled, c.overflowed, c.arrayLen + len(c.spillover)
}
