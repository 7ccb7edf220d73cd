package ddd

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunjilin/extsearch/engine/config"
	"github.com/shunjilin/extsearch/engine/errs"
	"github.com/shunjilin/extsearch/engine/record"
	"github.com/shunjilin/extsearch/engine/zobrist"
)

// zeroH is an admissible heuristic that always returns 0, making f == g;
// enough to drive the layer/duplicate-removal machinery deterministically.
type zeroH struct{}

func (zeroH) H(*record.State) (int32, error) { return 0, nil }

func packed(n int32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

// testPacker treats the whole 4-byte packed_vars as a single variable,
// matching the layout packed produces above.
type testPacker struct{}

func (testPacker) DomainSizes() []int { return []int{1 << 20} }

func (testPacker) Get(packedVars []byte, varIdx int) int {
	return int(binary.LittleEndian.Uint32(packedVars))
}

func newList(t *testing.T) *HashDDDOpenList {
	t.Helper()
	cfg := config.DefaultConfig().HashDDD
	cfg.Shards = 4
	o, err := New(cfg, t.TempDir(), testPacker{}, 1, zeroH{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Clear() })
	return o
}

func TestSingleStateRoundTrip(t *testing.T) {
	o := newList(t)
	root := record.New(packed(1), 1, record.NoState, -1, 0, 0)

	require.NoError(t, o.Insert(root))
	got, err := o.RemoveMin()
	require.NoError(t, err)
	assert.Equal(t, root.StateID, got.StateID)

	ops, err := o.TracePath(got)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestLayerMonotonicity(t *testing.T) {
	o := newList(t)

	root := record.New(packed(1), 1, record.NoState, -1, 0, 0)
	require.NoError(t, o.Insert(root))

	s1 := record.New(packed(2), 2, root.StateID, 0, 1, parentHash(root.PackedVars))
	s2 := record.New(packed(3), 3, root.StateID, 1, 2, parentHash(root.PackedVars))
	require.NoError(t, o.Insert(s1))
	require.NoError(t, o.Insert(s2))

	var lastF int32 = -1
	for i := 0; i < 3; i++ {
		got, err := o.RemoveMin()
		require.NoError(t, err)
		f, err := o.fOf(got)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f, lastF)
		lastF = f
	}

	_, err := o.RemoveMin()
	assert.ErrorIs(t, err, errs.ErrOpenListEmpty)
}

func TestDiamondDuplicateDetection(t *testing.T) {
	o := newList(t)

	root := record.New(packed(1), 1, record.NoState, -1, 0, 0)
	require.NoError(t, o.Insert(root))
	_, err := o.RemoveMin()
	require.NoError(t, err)

	a := record.New(packed(2), 2, root.StateID, 0, 1, parentHash(root.PackedVars))
	b := record.New(packed(3), 3, root.StateID, 1, 1, parentHash(root.PackedVars))
	require.NoError(t, o.Insert(a))
	require.NoError(t, o.Insert(b))

	gotA, err := o.RemoveMin()
	require.NoError(t, err)
	gotB, err := o.RemoveMin()
	require.NoError(t, err)

	shared := packed(4)
	viaA := record.New(shared, 4, gotA.StateID, 2, 2, parentHash(gotA.PackedVars))
	viaB := record.New(shared, 5, gotB.StateID, 2, 2, parentHash(gotB.PackedVars))
	require.NoError(t, o.Insert(viaA))
	require.NoError(t, o.Insert(viaB))

	goal, err := o.RemoveMin()
	require.NoError(t, err)
	assert.Equal(t, shared, goal.PackedVars)

	_, err = o.RemoveMin()
	assert.ErrorIs(t, err, errs.ErrOpenListEmpty)

	ops, err := o.TracePath(goal)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

// parentHash mirrors the shard hash ddd.go uses internally (shardOf), so a
// test-constructed parent_hash routes to the same shard the parent was
// actually appended to. newList has already called zobrist.Init by the
// time any test reaches here, so New(zobrist.Twisted) reuses that table.
func parentHash(b []byte) uint64 {
	return zobrist.New(zobrist.Twisted).Hash([]int{testPacker{}.Get(b, 0)})
}
