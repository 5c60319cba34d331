// Package headerwrapper provides a malloc/free-style convenience API
// over the core allocator: the returned pointer is a plain byte slice
// sized for the caller's request, with the Handle needed to free it
// stored in an 8-byte prefix the caller never sees.
package headerwrapper

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/blackwell-systems/temporal-slab-sub002/slab"
)

const headerBytes = 8

// MaxUserSize is the largest single request Malloc accepts: the
// largest size class (768) minus the 8-byte handle prefix.
const MaxUserSize = slab.MaxObjectSize - headerBytes

// maxUserSizeForClass512 documents the 512-object-size-class reduction
// explicitly: a 512-byte slot leaves only 504 usable bytes once the
// 8-byte prefix is reserved, which matters to callers requesting sizes
// just under a class boundary.
const maxUserSizeForClass512 = 512 - headerBytes

// Malloc reserves userSize+8 bytes (rounded up to the allocator's
// nearest size class) scoped to epoch, writes the handle into the
// first 8 bytes, and returns the remaining userSize bytes for the
// caller's use.
func Malloc(alloc *slab.Allocator, userSize uint32, epoch uint32) ([]byte, error) {
	if userSize == 0 {
		return nil, slab.ErrSizeZero
	}
	if userSize > MaxUserSize {
		return nil, fmt.Errorf("headerwrapper: user size %d exceeds max %d: %w", userSize, MaxUserSize, slab.ErrSizeTooLarge)
	}
	total := userSize + headerBytes
	mem, h, err := alloc.Allocate(total, epoch)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(mem[:headerBytes], uint64(h))
	return mem[headerBytes : headerBytes+userSize : headerBytes+userSize], nil
}

// Free releases a pointer previously returned by Malloc. ptr must be
// exactly the slice Malloc returned (not a sub-slice or a copy), since
// the handle is recovered by walking back headerBytes from ptr's data
// pointer into the slot's reserved prefix.
func Free(alloc *slab.Allocator, ptr []byte) error {
	if len(ptr) == 0 {
		return fmt.Errorf("headerwrapper: empty pointer")
	}
	headerAddr := unsafe.Pointer(uintptr(unsafe.Pointer(&ptr[0])) - headerBytes)
	header := unsafe.Slice((*byte)(headerAddr), headerBytes)
	h := slab.Handle(binary.LittleEndian.Uint64(header))
	if !alloc.Free(h) {
		return fmt.Errorf("headerwrapper: free rejected (stale or double free)")
	}
	return nil
}
