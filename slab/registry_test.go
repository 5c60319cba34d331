package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPublishAndLookup(t *testing.T) {
	r := newRegistry(nil)
	id, err := r.allocateID()
	require.NoError(t, err)

	mem := make([]byte, PageSize)
	s := newSlabView(mem, nil)
	s.init(64, 10, 0, 1, id)
	r.publish(id, s)

	gen := r.currentGeneration(id)
	got, ok := r.lookupAndValidate(id, gen)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.lookupAndValidate(id, gen+1)
	assert.False(t, ok, "mismatched generation must fail validation")
}

func TestRegistryGrowthPreservesExistingHandles(t *testing.T) {
	r := newRegistry(nil)
	initialCap := r.capacity()

	ids := make([]uint32, initialCap+10)
	for i := range ids {
		id, err := r.allocateID()
		require.NoError(t, err)
		ids[i] = id
		mem := make([]byte, PageSize)
		s := newSlabView(mem, nil)
		s.init(64, 10, 0, 1, id)
		r.publish(id, s)
	}
	require.Greater(t, r.capacity(), initialCap, "registry should have grown")

	for _, id := range ids {
		gen := r.currentGeneration(id)
		_, ok := r.lookupAndValidate(id, gen)
		assert.True(t, ok, "id %d should remain valid after growth", id)
	}
}

func TestBumpGenerationSkipsZeroOnWrap(t *testing.T) {
	r := newRegistry(nil)
	id, err := r.allocateID()
	require.NoError(t, err)
	e := r.entries[id]
	e.gen.Store(MaxGeneration24)

	next := r.bumpGeneration(id)
	assert.Equal(t, uint32(1), next, "generation must skip the reserved zero value on wrap")
}

func TestLookupAndValidateRejectsNilPointer(t *testing.T) {
	r := newRegistry(nil)
	id, err := r.allocateID()
	require.NoError(t, err)
	_, ok := r.lookupAndValidate(id, 0)
	assert.False(t, ok)
}
