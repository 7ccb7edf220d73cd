package closedlist

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunjilin/extsearch/engine/config"
	"github.com/shunjilin/extsearch/engine/record"
)

func packed(n int32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func makeState(id uint64, g int32, v int32) *record.State {
	return record.New(packed(v), id, record.NoState, -1, g, 0)
}

// testPacker treats the whole 4-byte packed_vars as a single variable, wide
// enough that every value the tests pack decodes to a distinct entry in
// ZobristHasher's twisted-mode table lookup.
type testPacker struct{}

func (testPacker) DomainSizes() []int { return []int{1 << 20} }

func (testPacker) Get(packedVars []byte, varIdx int) int {
	return int(binary.LittleEndian.Uint32(packedVars))
}

func newClosedList(cfg config.ClosedListConfig, dir string) *CompressClosedList {
	return New(cfg, dir, testPacker{}, 1, nil)
}

func TestFindInsertIdempotence(t *testing.T) {
	cfg := config.DefaultConfig().ClosedList
	cfg.InternalClosedGB = 0 // never spill, exercise the in-memory phase only
	cl := newClosedList(cfg, t.TempDir())

	s1 := makeState(1, 0, 10)
	found, reopened, err := cl.FindInsert(s1)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, reopened)

	dup := record.New(packed(10), 2, record.NoState, -1, 0, 0)
	found, reopened, err = cl.FindInsert(dup)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, reopened)
}

func TestReopenOnLowerG(t *testing.T) {
	cfg := config.DefaultConfig().ClosedList
	cfg.InternalClosedGB = 0
	cfg.ReopenClosed = true
	cl := newClosedList(cfg, t.TempDir())

	s := record.New(packed(5), 1, record.NoState, -1, 5, 0)
	_, _, err := cl.FindInsert(s)
	require.NoError(t, err)

	lower := record.New(packed(5), 2, record.NoState, -1, 3, 0)
	found, reopened, err := cl.FindInsert(lower)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, reopened)
}

func TestClosedListSpill(t *testing.T) {
	// record.Stride() is fixed process-wide by whichever test runs first in
	// this package's binary; size internal_closed_gb from the real stride so
	// the budget holds exactly 4 records regardless of P.
	seed := record.New(packed(0), 0, record.NoState, -1, 0, 0)
	r := record.Stride()
	_ = seed

	cfg := config.DefaultConfig().ClosedList
	cfg.InternalClosedGB = float64(4*r) / float64(1<<30)
	cfg.EnablePartitioning = false
	cl := newClosedList(cfg, t.TempDir())

	for i := int32(0); i < 10; i++ {
		s := record.New(packed(i+1000), uint64(i+1), record.NoState, -1, 0, 0)
		found, _, err := cl.FindInsert(s)
		require.NoError(t, err)
		assert.False(t, found)
	}

	for i := int32(0); i < 10; i++ {
		dup := record.New(packed(i+1000), uint64(i+1000), record.NoState, -1, 0, 0)
		found, _, err := cl.FindInsert(dup)
		require.NoError(t, err)
		assert.True(t, found, "state %d should already be closed after spill", i)
	}

	require.NoError(t, cl.Clear())
}

func TestClosedListSpillWithPartitioning(t *testing.T) {
	// Partitioning enabled (the default) forces transition to replay
	// in-memory entries across several partition buffers; with enough
	// entries to cross maxBufferEntries more than once per partition,
	// this exercises transition's flush-on-full batching against
	// MappingTable's fixed-batch-size assumption.
	seed := record.New(packed(0), 0, record.NoState, -1, 0, 0)
	r := record.Stride()
	_ = seed

	cfg := config.DefaultConfig().ClosedList
	cfg.InternalClosedGB = float64(2048*r) / float64(1<<30)
	cfg.EnablePartitioning = true
	cfg.Partitions = 4
	cl := newClosedList(cfg, t.TempDir())

	const n = 2048
	for i := int32(0); i < n; i++ {
		s := record.New(packed(i+2000), uint64(i+1), record.NoState, -1, 0, 0)
		found, _, err := cl.FindInsert(s)
		require.NoError(t, err)
		assert.False(t, found)
	}

	for i := int32(0); i < n; i++ {
		dup := record.New(packed(i+2000), uint64(i+2000), record.NoState, -1, 0, 0)
		found, _, err := cl.FindInsert(dup)
		require.NoError(t, err)
		assert.True(t, found, "state %d should already be closed after a partitioned spill", i)
	}

	require.NoError(t, cl.Clear())
}

func TestTracePathSingleState(t *testing.T) {
	cfg := config.DefaultConfig().ClosedList
	cfg.InternalClosedGB = 0
	cl := newClosedList(cfg, t.TempDir())

	root := record.New(packed(42), 1, record.NoState, -1, 0, 0)
	_, _, err := cl.FindInsert(root)
	require.NoError(t, err)

	ops, err := cl.TracePath(root)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
