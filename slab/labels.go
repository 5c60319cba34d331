package slab

import "go.uber.org/zap"

// labelTable interns up to MaxLabels short strings (id 0 reserved for
// "unlabeled"). Identical strings reuse the same id; once full,
// further labels bucket to id 0 — a deliberate cardinality cap so
// per-label counters fit a single cache line per size class (§9).
// Guarded by mu, the label-registry mutex (rank 50, the highest rank).
type labelTable struct {
	mu   watchdogMutex
	strs [MaxLabels]string
	used int
}

func newLabelTable(log *zap.Logger) *labelTable {
	return &labelTable{mu: newWatchdogMutex("label-table", log), used: 1} // slot 0 is "unlabeled"
}

func (t *labelTable) intern(s string) uint32 {
	if len(s) > MaxLabelLen {
		s = s[:MaxLabelLen]
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 1; i < t.used; i++ {
		if t.strs[i] == s {
			return uint32(i)
		}
	}
	if t.used >= MaxLabels {
		return 0
	}
	id := t.used
	t.strs[id] = s
	t.used++
	return uint32(id)
}

func (t *labelTable) lookup(id uint32) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == 0 || int(id) >= t.used {
		return ""
	}
	return t.strs[id]
}
