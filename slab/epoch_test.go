package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() int64 {
	var n int64
	return func() int64 { n++; return n }
}

func TestEpochRingAdvanceRotatesAndStampsEra(t *testing.T) {
	r := newEpochRing(fixedClock(), nil)
	require.Equal(t, epochActive, r.state(0))

	old, next := r.advance()
	assert.EqualValues(t, 0, old)
	assert.EqualValues(t, 1, next)
	assert.Equal(t, epochClosing, r.state(0))
	assert.Equal(t, epochActive, r.state(1))
	assert.Equal(t, uint64(1), r.era(1))
}

func TestEpochRingWrapsAfterFullCycle(t *testing.T) {
	r := newEpochRing(fixedClock(), nil)
	for i := 0; i < EpochRingSize; i++ {
		r.advance()
	}
	assert.EqualValues(t, 0, r.currentIndex())
	assert.Equal(t, epochActive, r.state(0))
	assert.Equal(t, uint64(EpochRingSize), r.era(0))
}

func TestEpochRingResetsMetadataOnReuse(t *testing.T) {
	r := newEpochRing(fixedClock(), nil)
	r.incRefcount(0)
	r.setLabel(0, 3)
	r.snapshotRSSBefore(0, 999)

	for i := 0; i < EpochRingSize; i++ {
		r.advance()
	}

	assert.EqualValues(t, 0, r.refcount(0))
	assert.EqualValues(t, 0, r.labelID(0))
	before, after := r.rssSnapshots(0)
	assert.EqualValues(t, 0, before)
	assert.EqualValues(t, 0, after)
}
