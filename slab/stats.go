package slab

import "time"

// statsSchemaVersion is bumped whenever a field is added to or removed
// from GlobalStats/ClassStats/EpochStats (§6 snapshot formats).
const statsSchemaVersion = 1

// GlobalStats is the top-level diagnostic snapshot (§6): process
// identity, epoch ring summary, and cumulative slab counters, plus one
// ClassStats and one EpochStats per index.
type GlobalStats struct {
	SchemaVersion         int    `json:"schema_version"`
	TimestampNs           int64  `json:"timestamp_ns"`
	AllocatorID           string `json:"allocator_id"`
	PID                   int    `json:"pid"`
	PageSize              int    `json:"page_size"`
	EpochCount            int    `json:"epoch_count"`
	CurrentEpoch          uint32 `json:"current_epoch"`
	ActiveEpochCount      int    `json:"active_epoch_count"`
	ClosingEpochCount     int    `json:"closing_epoch_count"`
	TotalSlabsAllocated   uint64 `json:"total_slabs_allocated"`
	TotalSlabsRecycled    uint64 `json:"total_slabs_recycled"`
	NetSlabs              int64  `json:"net_slabs"`
	RSSBytesCurrent       uint64 `json:"rss_bytes_current"`
	EstimatedSlabRSSBytes uint64 `json:"estimated_slab_rss_bytes"`
	MadviseCalls          uint64 `json:"madvise_calls"`
	MadviseFailures       uint64 `json:"madvise_failures"`

	Classes [NumSizeClasses]ClassStats `json:"classes"`
	Epochs  [EpochRingSize]EpochStats  `json:"epochs"`
}

// ClassStats is one size class's cumulative counters (§6).
type ClassStats struct {
	ObjectSize                uint32 `json:"object_size"`
	ObjectCount               int    `json:"object_count"`
	AllocCount                uint64 `json:"alloc_count"`
	FreeCount                 uint64 `json:"free_count"`
	DoubleFreeCount           uint64 `json:"double_free_count"`
	InvalidFreeCount          uint64 `json:"invalid_free_count"`
	NewSlabCount              uint64 `json:"new_slab_count"`
	CacheRecycled             uint64 `json:"cache_recycled"`
	CacheOverflowed           uint64 `json:"cache_overflowed"`
	CacheDepth                int    `json:"cache_depth"`
	BitmapAttempts            uint64 `json:"bitmap_attempts"`
	BitmapCASRetries          uint64 `json:"bitmap_cas_retries"`
	CurrentPartialCASFailures uint64 `json:"current_partial_cas_failures"`
	ZombieRepairs             uint64 `json:"zombie_repairs"`
	SlowPathEpochClosed       uint64 `json:"slow_path_epoch_closed"`
	EpochCloseScannedSlabs    uint64 `json:"epoch_close_scanned_slabs"`
	EpochCloseRecycledSlabs   uint64 `json:"epoch_close_recycled_slabs"`
	EpochCloseTotalNs         uint64 `json:"epoch_close_total_ns"`
	ScanMode                  string `json:"scan_mode"`
}

// EpochStats is one epoch ring slot's observability snapshot (§6).
type EpochStats struct {
	State              string `json:"state"`
	Era                uint64 `json:"era"`
	Label              string `json:"label"`
	OpenedAtNs         int64  `json:"opened_at_ns"`
	Refcount           int64  `json:"refcount"`
	RSSBeforeBytes     uint64 `json:"rss_before_bytes"`
	RSSAfterBytes      uint64 `json:"rss_after_bytes"`
	ScannedLastClose   uint64 `json:"scanned_last_close"`
	RecycledLastClose  uint64 `json:"recycled_last_close"`
}

// SnapshotStatsGlobal assembles a full GlobalStats snapshot. Each
// field is read independently and atomically; the whole is therefore
// a "mostly consistent" view, not a point-in-time transaction — the
// same tradeoff the spec makes for every other counter (§6, §9).
func (a *Allocator) SnapshotStatsGlobal() GlobalStats {
	g := GlobalStats{
		SchemaVersion: statsSchemaVersion,
		TimestampNs:   time.Now().UnixNano(),
		AllocatorID:   a.id.String(),
		PID:           a.pid,
		PageSize:      PageSize,
		EpochCount:    EpochRingSize,
		CurrentEpoch:  a.epochs.currentIndex(),
		RSSBytesCurrent: currentRSSBytes(),
	}

	var totalAllocated, totalRecycled uint64
	var estimatedRSS uint64
	for i, sca := range a.classes {
		g.Classes[i] = sca.snapshotClassStats()
		totalAllocated += g.Classes[i].NewSlabCount
		totalRecycled += g.Classes[i].CacheRecycled
		estimatedRSS += uint64(g.Classes[i].NewSlabCount) * uint64(PageSize)
	}
	g.TotalSlabsAllocated = totalAllocated
	g.TotalSlabsRecycled = totalRecycled
	g.NetSlabs = int64(totalAllocated) - int64(totalRecycled)
	g.EstimatedSlabRSSBytes = estimatedRSS
	g.MadviseCalls, g.MadviseFailures = a.mapper.stats()

	for i := uint32(0); i < EpochRingSize; i++ {
		st := a.epochs.state(i)
		g.Epochs[i] = EpochStats{
			State:          epochStateName(st),
			Era:            a.epochs.era(i),
			Label:          a.labels.lookup(a.epochs.labelID(i)),
			OpenedAtNs:     a.epochs.openedAt(i),
			Refcount:       a.epochs.refcount(i),
		}
		g.Epochs[i].RSSBeforeBytes, g.Epochs[i].RSSAfterBytes = a.epochs.rssSnapshots(i)
		g.Epochs[i].ScannedLastClose, g.Epochs[i].RecycledLastClose = a.epochs.closeStats(i)
		if st == epochActive {
			g.ActiveEpochCount++
		} else {
			g.ClosingEpochCount++
		}
	}
	return g
}

// SnapshotStatsClass returns the diagnostic snapshot for a single size
// class, identified by its index into the fixed size-class table.
func (a *Allocator) SnapshotStatsClass(classIdx int) (ClassStats, bool) {
	if classIdx < 0 || classIdx >= NumSizeClasses {
		return ClassStats{}, false
	}
	return a.classes[classIdx].snapshotClassStats(), true
}

// SnapshotStatsEpoch returns the diagnostic snapshot for a single
// epoch ring slot.
func (a *Allocator) SnapshotStatsEpoch(epoch uint32) (EpochStats, bool) {
	if epoch >= EpochRingSize {
		return EpochStats{}, false
	}
	st := a.epochs.state(epoch)
	es := EpochStats{
		State:      epochStateName(st),
		Era:        a.epochs.era(epoch),
		Label:      a.labels.lookup(a.epochs.labelID(epoch)),
		OpenedAtNs: a.epochs.openedAt(epoch),
		Refcount:   a.epochs.refcount(epoch),
	}
	es.RSSBeforeBytes, es.RSSAfterBytes = a.epochs.rssSnapshots(epoch)
	es.ScannedLastClose, es.RecycledLastClose = a.epochs.closeStats(epoch)
	return es, true
}

func (sca *sizeClassAllocator) snapshotClassStats() ClassStats {
	recycled, overflowed, cached := sca.cacheStats()
	mode := "sequential"
	if scanMode(sca.scan.mode.Load()) == scanRandomized {
		mode = "randomized"
	}
	return ClassStats{
		ObjectSize:                sca.objectSize,
		ObjectCount:               sca.objectCount,
		AllocCount:                sca.allocCount.Load(),
		FreeCount:                 sca.freeCount.Load(),
		DoubleFreeCount:           sca.doubleFreeCount.Load(),
		InvalidFreeCount:          sca.invalidFreeCount.Load(),
		NewSlabCount:              sca.newSlabCount.Load(),
		CacheRecycled:             recycled,
		CacheOverflowed:           overflowed,
		CacheDepth:                cached,
		BitmapAttempts:            sca.bitmapAttempts.Load(),
		BitmapCASRetries:          sca.bitmapCASRetries.Load(),
		CurrentPartialCASFailures: sca.currentPartialCASFailures.Load(),
		ZombieRepairs:             sca.zombieRepairs.Load(),
		SlowPathEpochClosed:       sca.slowPathEpochClosed.Load(),
		EpochCloseScannedSlabs:    sca.epochCloseScannedSlabs.Load(),
		EpochCloseRecycledSlabs:   sca.epochCloseRecycledSlabs.Load(),
		EpochCloseTotalNs:         sca.epochCloseTotalNs.Load(),
		ScanMode:                  mode,
	}
}

func epochStateName(s epochState) string {
	switch s {
	case epochActive:
		return "active"
	case epochClosing:
		return "closing"
	default:
		return "unknown"
	}
}
