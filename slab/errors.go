package slab

import "errors"

// Error kinds from spec §7. Invalid-handle and double-free are never
// fatal; tripwire conditions (CAS spin count, slow-path loop bound,
// lock timeout) abort the process via the logger instead of returning
// an error, because continuation would risk silent data loss.
var (
	ErrSizeZero     = errors.New("slab: requested size is zero")
	ErrSizeTooLarge = errors.New("slab: requested size exceeds MaxObjectSize")
	ErrInvalidEpoch = errors.New("slab: epoch id out of range")
	ErrEpochClosing = errors.New("slab: epoch is closing, allocation refused")
	ErrOutOfMemory  = errors.New("slab: out of memory")
)
