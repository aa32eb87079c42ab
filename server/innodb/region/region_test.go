package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmemtx/xstm-server/server/innodb/segment"
)

func TestCreateAndQueries(t *testing.T) {
	r, err := Create(1024, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), r.Size())
	assert.Equal(t, uint64(8), r.Alignment())
	assert.Zero(t, r.Start()%8)
}

func TestLocateFindsRootSegment(t *testing.T) {
	r, _ := Create(256, 8)
	seg, ok := r.Locate(r.Start())
	require.True(t, ok, "expected to locate the root segment at its base")
	assert.True(t, seg.IsRoot())

	_, ok = r.Locate(r.Start() + 1024*1024)
	assert.False(t, ok, "address far outside any segment should not resolve")
}

func TestInsertAndRemoveSegment(t *testing.T) {
	r, _ := Create(64, 8)

	seg, err := segment.New(64, 8, false)
	require.NoError(t, err)
	r.InsertSegment(seg)

	_, ok := r.Locate(seg.Base())
	assert.True(t, ok, "expected to locate newly inserted segment")

	r.RemoveSegment(seg)
	_, ok = r.Locate(seg.Base())
	assert.False(t, ok, "segment should no longer be locatable after removal")
}

func TestDestroyRefusesWithActiveTxn(t *testing.T) {
	r, _ := Create(64, 8)
	r.BeginTxn()
	assert.Error(t, r.Destroy(), "expected Destroy to refuse while a transaction is active")
	r.EndTxn()
	assert.NoError(t, r.Destroy())
}
