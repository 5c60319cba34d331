package slab

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Allocator is a temporal slab allocator: Allocate/Free behave like a
// fixed-size-object pool, but every allocation is additionally scoped
// to a programmer-declared epoch, and EpochClose bulk-reclaims every
// slab that epoch made fully empty (§1, §2).
type Allocator struct {
	id      uuid.UUID
	classes [NumSizeClasses]*sizeClassAllocator
	reg     *registry
	mapper  *pageMapper
	epochs  *epochRing
	labels  *labelTable
	log     *zap.Logger

	pid int

	destroyed atomic.Bool
}

// Option configures an Allocator at construction time.
type Option func(*options)

type options struct {
	logger          *zap.Logger
	pageHinting     bool
	breakerSettings gobreaker.Settings
	scanEnterRate   float64
	scanExitRate    float64
	now             func() int64
}

// WithLogger overrides the default no-op zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPageHinting toggles whether emptied, unpublished slabs issue
// MADV_DONTNEED (§4.1). Defaults to enabled.
func WithPageHinting(enabled bool) Option {
	return func(o *options) { o.pageHinting = enabled }
}

// WithBreaker overrides the circuit breaker settings guarding repeated
// madvise failures (§4.1, §9).
func WithBreaker(settings gobreaker.Settings) Option {
	return func(o *options) { o.breakerSettings = settings }
}

// WithScanThresholds overrides the adaptive bitmap scan controller's
// enter/exit retry-rate hysteresis bounds (§4.6).
func WithScanThresholds(enterRate, exitRate float64) Option {
	return func(o *options) { o.scanEnterRate = enterRate; o.scanExitRate = exitRate }
}

// withClock is unexported: tests inject a deterministic clock so epoch
// timing assertions don't depend on wall-clock jitter.
func withClock(now func() int64) Option {
	return func(o *options) { o.now = now }
}

// New constructs an Allocator with epoch 0 already active.
func New(opts ...Option) (*Allocator, error) {
	o := &options{
		logger:        zap.NewNop(),
		pageHinting:   true,
		scanEnterRate: 0.05,
		scanExitRate:  0.01,
		now:           func() int64 { return time.Now().UnixNano() },
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.breakerSettings.Name == "" {
		o.breakerSettings.Name = "slab-hint-not-needed"
	}

	a := &Allocator{
		id:     uuid.New(),
		reg:    newRegistry(o.logger),
		mapper: newPageMapper(o.pageHinting, o.breakerSettings, o.logger),
		epochs: newEpochRing(o.now, o.logger),
		labels: newLabelTable(o.logger),
		log:    o.logger,
		pid:    os.Getpid(),
	}
	for i, size := range sizeClasses {
		count := classObjectCounts[i]
		a.classes[i] = newSizeClassAllocator(i, size, count, a.reg, a.mapper, a.epochs, o.scanEnterRate, o.scanExitRate, o.logger)
	}
	a.log.Info("slab allocator initialized",
		zap.String("allocator_id", a.id.String()),
		zap.Int("num_size_classes", NumSizeClasses),
		zap.Int("page_size", PageSize),
	)
	return a, nil
}

// Allocate reserves an object of at least size bytes scoped to epoch,
// returning the slot's backing bytes and a Handle that must later be
// passed to Free. It is the caller's responsibility to not read or
// write beyond the requested size even though the underlying slot may
// be larger (§4.4 step 1, size-class rounding).
func (a *Allocator) Allocate(size uint32, epoch uint32) ([]byte, Handle, error) {
	if size == 0 {
		return nil, 0, ErrSizeZero
	}
	if size > MaxObjectSize {
		return nil, 0, ErrSizeTooLarge
	}
	if epoch >= EpochRingSize {
		return nil, 0, ErrInvalidEpoch
	}
	classIdx, ok := classForSize(size)
	if !ok {
		return nil, 0, ErrSizeTooLarge
	}
	return a.classes[classIdx].allocate(epoch)
}

// Free releases the object referenced by h. It returns false for an
// empty handle, a handle whose generation no longer matches the live
// slab at that id (stale handle), or a slot already free
// (double-free) — all silently ignorable per §7's disposition table,
// never a panic, since callers cannot distinguish "already reclaimed
// by epoch close" from a programming error without extra bookkeeping.
func (a *Allocator) Free(h Handle) bool {
	if h.IsEmpty() {
		return false
	}
	d := h.decode()
	if d.version != uint8(handleVersion) {
		return false
	}
	if int(d.class) >= NumSizeClasses {
		return false
	}
	sca := a.classes[d.class]
	s, ok := a.reg.lookupAndValidate(d.slabID, d.generation)
	if !ok {
		return false
	}
	if !s.magicIntact() {
		return false
	}
	return sca.freeSlot(s, int(d.slot))
}

// Deref resolves h back to its backing bytes without consuming it —
// unlike Free, the slot stays allocated. It exists for callers like
// handlecache that stash a handle across a Put/Get round trip and need
// the memory back on a cache hit rather than a fresh allocation. It
// returns false for the same invalid-handle cases Free does.
func (a *Allocator) Deref(h Handle) ([]byte, bool) {
	if h.IsEmpty() {
		return nil, false
	}
	d := h.decode()
	if d.version != uint8(handleVersion) {
		return nil, false
	}
	if int(d.class) >= NumSizeClasses {
		return nil, false
	}
	s, ok := a.reg.lookupAndValidate(d.slabID, d.generation)
	if !ok {
		return nil, false
	}
	if !s.magicIntact() {
		return nil, false
	}
	return s.slotBytes(int(d.slot)), true
}

// EpochCurrent returns the ring index of the currently active epoch.
func (a *Allocator) EpochCurrent() uint32 { return a.epochs.currentIndex() }

// EpochAdvance rotates the epoch ring: the previously active epoch
// moves to CLOSING and a new epoch becomes ACTIVE, per §4.9. It does
// not reclaim memory — call EpochClose on the retired index to do
// that once all holders have released it.
func (a *Allocator) EpochAdvance() (closed, opened uint32) {
	oldIdx, newIdx := a.epochs.advance()
	for _, sca := range a.classes {
		sca.perEpoch[oldIdx].clearCurrentPartial()
	}
	a.log.Debug("epoch advanced", zap.Uint32("closed", oldIdx), zap.Uint32("opened", newIdx))
	return oldIdx, newIdx
}

// EpochClose reclaims every slab made fully empty by epoch's closure
// across all size classes, per §4.10. It is safe to call multiple
// times; later calls simply find nothing left to reclaim. Callers are
// expected to have already drained any outstanding scoped holders
// (refcount reaching zero) before calling this for RSS accounting to
// be meaningful, though it is not itself gated on refcount.
func (a *Allocator) EpochClose(epoch uint32) (scanned, recycled int, err error) {
	if epoch >= EpochRingSize {
		return 0, 0, ErrInvalidEpoch
	}
	a.epochs.markClosing(epoch)
	a.epochs.snapshotRSSBefore(epoch, currentRSSBytes())

	start := time.Now()
	for _, sca := range a.classes {
		s, r := sca.closeEpochReclaim(epoch)
		scanned += s
		recycled += r
	}
	elapsed := time.Since(start)
	for _, sca := range a.classes {
		sca.epochCloseTotalNs.Add(uint64(elapsed.Nanoseconds()))
	}
	a.epochs.recordCloseStats(epoch, uint64(scanned), uint64(recycled))

	a.epochs.snapshotRSSAfter(epoch, currentRSSBytes())
	a.log.Info("epoch closed",
		zap.Uint32("epoch", epoch),
		zap.Int("scanned", scanned),
		zap.Int("recycled", recycled),
		zap.Duration("elapsed", elapsed),
	)
	return scanned, recycled, nil
}

// SetLabel attaches a short, human-readable label to epoch for
// observability (§3, §6). Labels beyond MaxLabels bucket to the
// unlabeled id.
func (a *Allocator) SetLabel(epoch uint32, label string) error {
	if epoch >= EpochRingSize {
		return ErrInvalidEpoch
	}
	id := a.labels.intern(label)
	a.epochs.setLabel(epoch, id)
	return nil
}

// Label returns epoch's currently attached label, or "" if unlabeled.
func (a *Allocator) Label(epoch uint32) string {
	if epoch >= EpochRingSize {
		return ""
	}
	return a.labels.lookup(a.epochs.labelID(epoch))
}

// IncRefcount records one more scoped holder of epoch, per the
// holder-counting convention of §5's cancellation policy: the
// allocator never blocks or cancels on its own, it only counts.
func (a *Allocator) IncRefcount(epoch uint32) (int64, error) {
	if epoch >= EpochRingSize {
		return 0, ErrInvalidEpoch
	}
	return a.epochs.incRefcount(epoch), nil
}

// DecRefcount releases one scoped holder of epoch.
func (a *Allocator) DecRefcount(epoch uint32) (int64, error) {
	if epoch >= EpochRingSize {
		return 0, ErrInvalidEpoch
	}
	return a.epochs.decRefcount(epoch), nil
}

// GetRefcount returns epoch's current scoped-holder count.
func (a *Allocator) GetRefcount(epoch uint32) (int64, error) {
	if epoch >= EpochRingSize {
		return 0, ErrInvalidEpoch
	}
	return a.epochs.refcount(epoch), nil
}

// Destroy unmaps every page this allocator still owns. It is not safe
// to call concurrently with any other Allocator method, and the
// Allocator must not be used afterward. Errors from individual
// munmap(2) calls are aggregated with multierr rather than stopping
// partway, so a single bad page doesn't leak the rest.
func (a *Allocator) Destroy() error {
	if !a.destroyed.CompareAndSwap(false, true) {
		return fmt.Errorf("slab: allocator %s already destroyed", a.id)
	}
	var errs error
	for id := uint32(0); id < uint32(a.reg.capacity()); id++ {
		s, ok := a.reg.lookupAndValidate(id, a.reg.currentGeneration(id))
		if !ok {
			continue
		}
		if err := a.mapper.unmapPage(s.mem); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("slab %d: %w", id, err))
		}
	}
	return errs
}

// PageSizeBytes returns the fixed page size backing every slab.
func (a *Allocator) PageSizeBytes() int { return PageSize }

// ID returns this allocator instance's unique identifier, used to tag
// diagnostic snapshots so logs from multiple allocators in one process
// don't get conflated.
func (a *Allocator) ID() string { return a.id.String() }

// currentRSSBytes reads this process's resident set size from
// /proc/self/statm on Linux; elsewhere (or on read failure) it returns
// 0, making the RSS delta fields in a snapshot simply unavailable
// rather than wrong.
func currentRSSBytes() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	var size, resident uint64
	if _, err := fmt.Sscanf(string(data), "%d %d", &size, &resident); err != nil {
		return 0
	}
	return resident * uint64(os.Getpagesize())
}
