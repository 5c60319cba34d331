package slab

import (
	"fmt"
	"sync/atomic"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// pageMapper obtains and releases anonymous, page-aligned regions from
// the OS, and advises the kernel when a region's physical pages may be
// discarded while the virtual mapping stays valid. This is the only
// component that talks to the OS directly — everything above it deals
// in []byte.
//
// Grounded on threads/sab/hal_native.go's syscall.Mmap/Munmap pairing
// in the teacher, generalized to golang.org/x/sys/unix (which also
// exposes Madvise, which the raw syscall package on some platforms
// does not) and to anonymous (non-file-backed) mappings, since a slab
// allocator has no backing file.
type pageMapper struct {
	hintEnabled bool
	breaker     *gobreaker.CircuitBreaker[any]
	log         *zap.Logger

	hintFailures atomic.Uint64
	hintCalls    atomic.Uint64
}

func newPageMapper(hintEnabled bool, settings gobreaker.Settings, log *zap.Logger) *pageMapper {
	if settings.Name == "" {
		settings.Name = "slab-hint-not-needed"
	}
	return &pageMapper{
		hintEnabled: hintEnabled,
		breaker:     gobreaker.NewCircuitBreaker[any](settings),
		log:         log,
	}
}

// mapPage returns a new, zero-initialized, page-aligned, read/write,
// anonymous, process-private PageSize region.
func (pm *pageMapper) mapPage() ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap: %v", ErrOutOfMemory, err)
	}
	if len(mem) != PageSize {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("%w: mmap returned %d bytes, want %d", ErrOutOfMemory, len(mem), PageSize)
	}
	if !isPageAligned(mem) {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("%w: mmap returned a non-page-aligned region", ErrOutOfMemory)
	}
	return mem, nil
}

// unmapPage releases a region obtained from mapPage. The core
// allocator never calls this while the allocator is live (slabs are
// never unmapped per spec §1); it exists for Destroy.
func (pm *pageMapper) unmapPage(mem []byte) error {
	return unix.Munmap(mem)
}

// hintNotNeeded advises the OS that mem's physical pages may be
// discarded; the virtual mapping must remain readable and must read
// back as zero. Failure is counted and never fatal. Calls are routed
// through a circuit breaker so a failing madvise (e.g. an unsupported
// platform or a sandboxed syscall filter) degrades to a no-op instead
// of being retried on every cache_push.
func (pm *pageMapper) hintNotNeeded(mem []byte) bool {
	if !pm.hintEnabled {
		return false
	}
	pm.hintCalls.Add(1)
	_, err := pm.breaker.Execute(func() (any, error) {
		return nil, unix.Madvise(mem, unix.MADV_DONTNEED)
	})
	if err != nil {
		pm.hintFailures.Add(1)
		if pm.log != nil {
			pm.log.Debug("hint_not_needed failed", zap.Error(err), zap.String("breaker_state", pm.breaker.State().String()))
		}
		return false
	}
	return true
}

// stats returns the cumulative hint_not_needed call/failure counts,
// surfaced via GlobalStats (§6, S3's madvise_calls).
func (pm *pageMapper) stats() (calls, failures uint64) {
	return pm.hintCalls.Load(), pm.hintFailures.Load()
}

func isPageAligned(mem []byte) bool {
	if len(mem) == 0 {
		return false
	}
	return uintptr(addrOf(mem))%PageSize == 0
}
