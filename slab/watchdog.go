package slab

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// lockWatchdogTimeout is the maximum time any mutex in the lock
// inventory (§5) may spend blocked in Lock before the acquisition is
// treated as a corruption-class hang rather than ordinary contention.
const lockWatchdogTimeout = 5 * time.Second

// watchdogMutex wraps sync.Mutex so that an acquisition blocked longer
// than lockWatchdogTimeout aborts the process via tripwireFatal instead
// of hanging forever, implementing the "lock timeout" entry of the §7
// tripwire table alongside the CAS-spin and slow-path-loop tripwires.
// Its zero value is a valid, unnamed, unlogged mutex, matching
// sync.Mutex's zero-value usability for tests that construct package
// types directly.
type watchdogMutex struct {
	mu   sync.Mutex
	name string
	log  *zap.Logger
}

func newWatchdogMutex(name string, log *zap.Logger) watchdogMutex {
	return watchdogMutex{name: name, log: log}
}

func (w *watchdogMutex) Lock() {
	timer := time.AfterFunc(lockWatchdogTimeout, func() {
		tripwireFatal(w.log, "lock timeout", zap.String("mutex", w.name), zap.Duration("timeout", lockWatchdogTimeout))
	})
	w.mu.Lock()
	timer.Stop()
}

func (w *watchdogMutex) Unlock() {
	w.mu.Unlock()
}

// tripwireFatal logs a diagnostic dump at Fatal — which zap's default
// core turns into os.Exit after the write, per §7's three
// corruption-class abort conditions (CAS spin count, slow-path loop
// bound, lock timeout) — rather than a recover()-able panic. A nil
// logger (e.g. a package type built directly in a unit test) falls
// back to a no-op logger; zap still runs its Fatal exit hook even when
// the core discards the write, so the abort still happens.
func tripwireFatal(log *zap.Logger, reason string, fields ...zap.Field) {
	if log == nil {
		log = zap.NewNop()
	}
	dump := append([]zap.Field{
		zap.String("tripwire", reason),
		zap.Int("goroutines", runtime.NumGoroutine()),
	}, fields...)
	log.Fatal("slab: tripwire aborting process", dump...)
}
