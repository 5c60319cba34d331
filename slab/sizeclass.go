package slab

import "go.uber.org/zap"

// sizeClassLUT maps every byte count in [0, MaxObjectSize] to the
// smallest size class that fits it; index MaxObjectSize+1 stands for
// "too large". Computed once at package init, per spec §3.
var sizeClassLUT [MaxObjectSize + 2]int8

func init() {
	for size := 0; size <= MaxObjectSize+1; size++ {
		sizeClassLUT[size] = -1
		for class, classSize := range sizeClasses {
			if uint32(size) <= classSize {
				sizeClassLUT[size] = int8(class)
				break
			}
		}
	}
}

// classForSize returns the smallest size class whose object size is
// >= size, or false if size is zero or exceeds MaxObjectSize.
func classForSize(size uint32) (int, bool) {
	if size == 0 || size > MaxObjectSize {
		return 0, false
	}
	c := sizeClassLUT[size]
	if c < 0 {
		return 0, false
	}
	return int(c), true
}

// objectCountFor computes slab_object_count(object_size): the largest
// N such that HeaderSize + ceil(N/32)*4 + N*objectSize <= PageSize,
// bounded by MaxObjectsPerSlab.
func objectCountFor(objectSize uint32) int {
	upper := (PageSize - HeaderSize) / int(objectSize)
	if upper > MaxObjectsPerSlab {
		upper = MaxObjectsPerSlab
	}
	for n := upper; n > 0; n-- {
		words := (n + 31) / 32
		used := HeaderSize + words*4 + n*int(objectSize)
		if used <= PageSize {
			return n
		}
	}
	return 0
}

// classObjectCounts is precomputed once for the fixed size classes.
var classObjectCounts [NumSizeClasses]int

func init() {
	for i, sz := range sizeClasses {
		n := objectCountFor(sz)
		if n > MaxObjectsPerSlab {
			// No Allocator or logger exists yet at package init, so this
			// runs through tripwireFatal's nil-logger fallback rather
			// than a live *zap.Logger — still a non-recoverable abort,
			// just without per-instance diagnostic fields.
			tripwireFatal(nil, "object count exceeds handle slot field width", zap.Uint32("object_size", sz), zap.Int("computed_count", n))
		}
		classObjectCounts[i] = n
	}
}
