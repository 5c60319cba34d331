package slab

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// registryEntry pairs a slab pointer with its generation, both
// atomic, per spec §3/§4.3.
type registryEntry struct {
	ptr atomic.Pointer[Slab]
	gen atomic.Uint32
}

// registry is the sole source of truth for handle validity: it maps a
// compact slab id to (pointer, generation), growing exponentially
// (1024, 2048, ...) as new ids are allocated. Growth and id allocation
// are serialized by mu (rank 10, the lowest rank, per §5).
type registry struct {
	mu      watchdogMutex
	entries []*registryEntry // append-only except for growth copies
	next    uint32
}

func newRegistry(log *zap.Logger) *registry {
	r := &registry{mu: newWatchdogMutex("registry", log)}
	r.entries = make([]*registryEntry, registryInitialCapacity)
	for i := range r.entries {
		r.entries[i] = &registryEntry{}
	}
	return r
}

// allocateID reserves the next slab id, growing the backing array
// exponentially when exhausted.
func (r *registry) allocateID() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= uint32(len(r.entries)) {
		newCap := len(r.entries) * registryGrowthFactor
		if newCap == 0 {
			newCap = registryInitialCapacity
		}
		if uint32(newCap) > MaxSlabID+1 {
			return 0, ErrOutOfMemory
		}
		grown := make([]*registryEntry, newCap)
		copy(grown, r.entries)
		for i := len(r.entries); i < newCap; i++ {
			grown[i] = &registryEntry{}
		}
		r.entries = grown
	}
	id := r.next
	r.next++
	return id, nil
}

// publish stores ptr for id with release ordering.
func (r *registry) publish(id uint32, s *Slab) {
	r.entries[id].ptr.Store(s)
}

// bumpGeneration increments id's generation (relaxed from the spec's
// perspective; Go's atomic.Uint32.Add is a full fence, a conservative
// superset), skipping the reserved value 0 on wrap, and returns the
// new 24-bit-truncated value.
func (r *registry) bumpGeneration(id uint32) uint32 {
	e := r.entries[id]
	for {
		old := e.gen.Load()
		next := (old + 1) & uint32(genMask)
		if next == 0 {
			next = 1
		}
		if e.gen.CompareAndSwap(old, next) {
			return next
		}
	}
}

// lookupAndValidate performs the three-step handshake from §4.3: load
// the pointer (acquire); if nil, fail; load the current generation
// (acquire); if it doesn't match gen24, fail; otherwise the pointer is
// safe to dereference for the remainder of the process's lifetime.
func (r *registry) lookupAndValidate(id uint32, gen24 uint32) (*Slab, bool) {
	if id >= uint32(len(r.entries)) {
		return nil, false
	}
	e := r.entries[id]
	ptr := e.ptr.Load()
	if ptr == nil {
		return nil, false
	}
	if e.gen.Load() != gen24 {
		return nil, false
	}
	return ptr, true
}

func (r *registry) currentGeneration(id uint32) uint32 {
	return r.entries[id].gen.Load()
}

func (r *registry) capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
