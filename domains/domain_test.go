package domains

import (
	"testing"

	"github.com/blackwell-systems/temporal-slab-sub002/slab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDomainAllocatesAndLabelsAnEpoch(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	d, err := OpenDomain(alloc, "frame-render")
	require.NoError(t, err)
	assert.Equal(t, "frame-render", alloc.Label(d.Epoch()))

	_, h, err := d.Allocate(128)
	require.NoError(t, err)
	assert.False(t, h.IsEmpty())
}

func TestDomainHoldRelease(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	d, err := OpenDomain(alloc, "scoped-work")
	require.NoError(t, err)

	release, err := d.Hold(nil)
	require.NoError(t, err)

	n, _ := alloc.GetRefcount(d.Epoch())
	assert.Equal(t, int64(1), n)

	release()
	n, _ = alloc.GetRefcount(d.Epoch())
	assert.Equal(t, int64(0), n)

	release() // idempotent
	n, _ = alloc.GetRefcount(d.Epoch())
	assert.Equal(t, int64(0), n)
}

func TestDomainCloseRejectsSecondCall(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	d, err := OpenDomain(alloc, "")
	require.NoError(t, err)

	_, _, err = d.Close()
	require.NoError(t, err)

	_, _, err = d.Close()
	assert.Error(t, err)
}
