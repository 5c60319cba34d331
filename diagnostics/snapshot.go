// Package diagnostics renders an Allocator's internal counters into
// the JSON snapshot document described by spec §6, suitable for
// logging, scraping, or cmd/slabdump.
package diagnostics

import (
	"encoding/json"
	"fmt"

	"github.com/blackwell-systems/temporal-slab-sub002/slab"
)

// SnapshotDoc is the exact JSON shape of a diagnostics snapshot; it is
// a type alias of slab.GlobalStats, so it has exactly that struct's
// fields and JSON tags.
type SnapshotDoc = slab.GlobalStats

// Snapshot reads every counter out of alloc without holding any lock
// across the whole operation — each field is read independently and
// atomically, per spec §6's "no locks held across the snapshot
// callback".
func Snapshot(alloc *slab.Allocator) SnapshotDoc {
	return alloc.SnapshotStatsGlobal()
}

// MarshalJSON renders a snapshot as indented JSON, matching the
// allocator's own zap field-naming convention (snake_case) since the
// struct tags already declare it.
func MarshalJSON(doc SnapshotDoc) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("diagnostics: marshal snapshot: %w", err)
	}
	return b, nil
}
