package diagnostics

import (
	"encoding/json"
	"testing"

	"github.com/blackwell-systems/temporal-slab-sub002/slab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReflectsActivity(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	_, _, err = alloc.Allocate(128, 0)
	require.NoError(t, err)

	doc := Snapshot(alloc)
	assert.Equal(t, 1, doc.SchemaVersion)
	assert.Equal(t, slab.PageSize, doc.PageSize)
	assert.Equal(t, slab.NumSizeClasses, len(doc.Classes))
	assert.Equal(t, uint64(1), doc.Classes[2].AllocCount)
}

func TestMarshalJSONProducesValidDocument(t *testing.T) {
	alloc, err := slab.New(slab.WithPageHinting(false))
	require.NoError(t, err)
	defer alloc.Destroy()

	doc := Snapshot(alloc)
	b, err := MarshalJSON(doc)
	require.NoError(t, err)

	var roundTrip map[string]any
	require.NoError(t, json.Unmarshal(b, &roundTrip))
	assert.Contains(t, roundTrip, "schema_version")
	assert.Contains(t, roundTrip, "classes")
	assert.Contains(t, roundTrip, "epochs")
}
