// Package slab implements a temporal slab allocator: a fixed-size-object
// allocator that groups allocations by programmer-declared lifetime (an
// "epoch") so memory is reclaimed in whole pages when an epoch drains.
package slab

// PageSize is the fixed page size backing every slab. It must be a
// power of two; mapPage rejects any OS result that isn't aligned to it.
const PageSize = 4096

// HeaderSize is the fixed, 64-byte-aligned slab header occupying the
// first bytes of every page, ahead of the atomic bitmap.
const HeaderSize = 64

// MaxObjectsPerSlab bounds object_count so it fits the handle's 8-bit
// slot field.
const MaxObjectsPerSlab = 255

// EpochRingSize is the number of epoch slots in the ring.
const EpochRingSize = 16

// MaxLabels is the label table's fixed capacity. Label id 0 means
// "unlabeled"; surplus labels bucket to it once the table fills.
const MaxLabels = 16

// MaxLabelLen is the maximum interned label length in bytes.
const MaxLabelLen = 31

// sizeClasses is the fixed set of object sizes this allocator serves.
var sizeClasses = [...]uint32{64, 96, 128, 192, 256, 384, 512, 768}

// NumSizeClasses is len(sizeClasses), exported for callers that size
// per-class arrays of their own (e.g. diagnostics).
const NumSizeClasses = 8

// MaxObjectSize is the largest single allocation this allocator serves.
const MaxObjectSize = 768

// list identifiers for a slab's current membership.
type listID uint32

const (
	listNone listID = iota
	listPartial
	listFull
)

// cache membership state, stored in the slab header so a thread that
// dereferences a stale current_partial pointer can tell cached slabs
// apart from live ones.
type cacheState uint32

const (
	cacheActive cacheState = iota
	cacheCached
	cacheOverflowed
)

// epoch lifecycle states.
type epochState uint32

const (
	epochActive epochState = iota
	epochClosing
)

const slabMagic uint32 = 0x42414c53 // "SLAB" little-endian-agnostic constant

// cacheArrayCapacity is the fixed-size LIFO array tier of the slab
// cache; beyond this, cached slabs spill onto an unbounded list.
const cacheArrayCapacity = 32

// deepRetryTripwire is the CAS-spin corruption tripwire from §4.2.
const deepRetryTripwire = 10_000_000

// scanSampleWindow is the minimum number of bitmap attempts the
// adaptive scan controller requires before trusting a retry-rate
// sample (§4.6).
const scanSampleWindow = 100_000

// scanDwellChecks is the hysteresis dwell counter (§4.6).
const scanDwellChecks = 50

// adaptiveScanCheckPeriod is "every 2^18-th successful acquisition"
// from §4.4 step 7.
const adaptiveScanCheckPeriod = 1 << 18

// registryInitialCapacity / registryGrowthFactor implement the
// exponential registry growth from §4.3.
const registryInitialCapacity = 1024
const registryGrowthFactor = 2
