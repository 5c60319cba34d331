package headerwrapper

import (
	"testing"

	"github.com/blackwell-systems/temporal-slab-sub002/slab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMallocFreeRoundTrip(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	ptr, err := Malloc(alloc, 100, 0)
	require.NoError(t, err)
	require.Len(t, ptr, 100)

	ptr[0] = 0xFF
	ptr[99] = 0x11

	require.NoError(t, Free(alloc, ptr))
}

func TestMallocRejectsOversizeRequest(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	_, err = Malloc(alloc, MaxUserSize+1, 0)
	assert.Error(t, err)
}

func TestFreeRejectsDoubleFree(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	ptr, err := Malloc(alloc, 50, 0)
	require.NoError(t, err)
	require.NoError(t, Free(alloc, ptr))
	assert.Error(t, Free(alloc, ptr))
}
