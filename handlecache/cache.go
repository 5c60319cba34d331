// Package handlecache provides an optional, mutex-protected LIFO stash
// of recently-freed handles for a single size class, consulted before
// calling into the core allocator and populated before calling the
// core free. Its presence changes only latency, never semantics.
package handlecache

import (
	"sync"

	"github.com/blackwell-systems/temporal-slab-sub002/slab"
)

// entry pairs a stashed handle with the epoch it was freed under, so
// FlushEpoch can selectively evict without touching other epochs'
// stashed handles.
type entry struct {
	h     slab.Handle
	epoch uint32
}

// Cache is a bounded LIFO stash of freed handles, safe for concurrent
// use across goroutines (unlike a true thread-local, it is shared and
// mutex-protected — acceptable since it only shortcuts the allocator's
// own cache, which is itself mutex-protected).
type Cache struct {
	alloc    *slab.Allocator
	size     uint32
	capacity int

	mu      sync.Mutex
	entries []entry
}

// New constructs a handle cache for objects of the given size, backed
// by alloc, holding up to capacity handles before Put starts calling
// straight through to alloc.Free.
func New(alloc *slab.Allocator, size uint32, capacity int) *Cache {
	return &Cache{alloc: alloc, size: size, capacity: capacity}
}

// Get returns a previously-freed handle and its backing bytes if one
// is stashed, reinitializing nothing (the underlying slot was already
// zeroed by nobody — callers must not assume zeroed memory on reuse,
// matching the core allocator's own contract). If the stash is empty,
// or the stashed handle no longer derefs to live memory, it allocates
// fresh from the core allocator under epoch.
func (c *Cache) Get(epoch uint32) ([]byte, slab.Handle, error) {
	c.mu.Lock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].epoch == epoch {
			e := c.entries[i]
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			c.mu.Unlock()
			if mem, ok := c.alloc.Deref(e.h); ok {
				return mem, e.h, nil
			}
			return c.alloc.Allocate(c.size, epoch)
		}
	}
	c.mu.Unlock()
	return c.alloc.Allocate(c.size, epoch)
}

// Put stashes h for reuse under epoch, or frees it immediately through
// the core allocator once the cache is at capacity.
func (c *Cache) Put(h slab.Handle, epoch uint32) {
	c.mu.Lock()
	if len(c.entries) < c.capacity {
		c.entries = append(c.entries, entry{h: h, epoch: epoch})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.alloc.Free(h)
}

// FlushEpoch frees every stashed handle belonging to epoch straight
// through to the core allocator and returns how many it freed. The
// core's EpochClose does not call it and has no reference to any
// Cache: handles still stashed when EpochClose runs stay allocated,
// and their slabs are not counted as empty by that close.
func (c *Cache) FlushEpoch(epoch uint32) int {
	c.mu.Lock()
	var kept []entry
	var toFree []slab.Handle
	for _, e := range c.entries {
		if e.epoch == epoch {
			toFree = append(toFree, e.h)
		} else {
			kept = append(kept, e)
		}
	}
	c.entries = kept
	c.mu.Unlock()

	for _, h := range toFree {
		c.alloc.Free(h)
	}
	return len(toFree)
}

// Len reports how many handles are currently stashed, across all
// epochs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
