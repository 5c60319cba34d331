package slab

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// scanMode is the adaptive bitmap scan controller's current mode.
type scanMode int32

const (
	scanSequential scanMode = iota
	scanRandomized
)

// scanController implements §4.6: a single-writer (CAS-guarded)
// controller that samples size-class-wide attempt/retry counters and
// toggles between sequential and randomized word-scan start offsets
// with hysteresis, to diffuse CAS contention under load without
// paying for a clock syscall on the hot path.
type scanController struct {
	attempts atomic.Uint64
	retries  atomic.Uint64

	mode  atomic.Int32
	dwell atomic.Int32
	busy  atomic.Int32 // CAS flag guarding the single writer

	lastAttempts uint64
	lastRetries  uint64

	enterRate float64
	exitRate  float64
}

func newScanController(enterRate, exitRate float64) *scanController {
	return &scanController{enterRate: enterRate, exitRate: exitRate}
}

// recordAttempt feeds one acquireSlot call's attempt/retry counts into
// the windowed sample and, when checkNow is set, re-evaluates the mode.
// The every-adaptiveScanCheckPeriod-th-success trigger lives in
// sizeClassAllocator.onSuccessfulAcquire, not here.
func (c *scanController) recordAttempt(retries int, checkNow bool) {
	c.attempts.Add(1)
	c.retries.Add(uint64(retries))
	if checkNow {
		c.maybeReevaluate()
	}
}

func (c *scanController) maybeReevaluate() {
	if !c.busy.CompareAndSwap(0, 1) {
		return // another goroutine is already sampling
	}
	defer c.busy.Store(0)

	attempts := c.attempts.Load()
	retries := c.retries.Load()
	deltaAttempts := attempts - c.lastAttempts
	if deltaAttempts < scanSampleWindow {
		return
	}
	deltaRetries := retries - c.lastRetries
	c.lastAttempts = attempts
	c.lastRetries = retries

	rate := float64(deltaRetries) / float64(deltaAttempts)
	mode := scanMode(c.mode.Load())

	switch mode {
	case scanSequential:
		if rate > c.enterRate {
			c.mode.Store(int32(scanRandomized))
			c.dwell.Store(0)
		}
	case scanRandomized:
		if rate < c.exitRate {
			d := c.dwell.Add(1)
			if d >= scanDwellChecks {
				c.mode.Store(int32(scanSequential))
				c.dwell.Store(0)
			}
		} else {
			c.dwell.Store(0)
		}
	}
}

// startWord returns the bitmap word index a caller should begin
// scanning from: 0 in sequential mode, or a hashed-thread-derived
// offset (mod numWords) in randomized mode.
func (c *scanController) startWord(numWords int) int {
	if scanMode(c.mode.Load()) == scanSequential || numWords <= 1 {
		return 0
	}
	return threadScanOffset(numWords)
}

// threadScanOffset hashes an address local to the calling goroutine's
// stack with xxhash and caches the result in a sync.Pool-backed tag.
// sync.Pool items are handed back preferentially to the same P, which
// gives the same goroutine a stable-ish offset across calls without
// true thread-local storage — enough to diffuse CAS contention across
// low-index words, which is all §4.6 requires.
func threadScanOffset(numWords int) int {
	t := scanTagPool.Get().(*scanTag)
	defer scanTagPool.Put(t)

	if t.seed == 0 {
		var local byte
		addr := uint64(uintptr(unsafe.Pointer(&local)))
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], addr)
		t.seed = xxhash.Sum64(buf[:])
		if t.seed == 0 {
			t.seed = 1
		}
	}
	return int(t.seed % uint64(numWords))
}

type scanTag struct {
	seed uint64
}

var scanTagPool = sync.Pool{New: func() any { return new(scanTag) }}
