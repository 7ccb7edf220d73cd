package extastar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunjilin/extsearch/engine/config"
	"github.com/shunjilin/extsearch/engine/errs"
	"github.com/shunjilin/extsearch/engine/record"
)

type zeroH struct{}

func (zeroH) H(*record.State) (int32, error) { return 0, nil }

func packed(n int32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func newList(t *testing.T) *ExternalAStarOpenList {
	t.Helper()
	cfg := config.DefaultConfig().ExternalAStar
	cfg.MergeChunkBytes = 1 << 20
	cfg.RunBufferRecords = 2
	o, err := New(cfg, t.TempDir(), zeroH{}, nil)
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

	_, err = o.RemoveMin()
	assert.ErrorIs(t, err, errs.ErrOpenListEmpty)
}

func TestInterDiagonalDedup(t *testing.T) {
	o := newList(t)

	shared := packed(99)
	// Two states with the same packed_vars: under zeroH, f == g, so they
	// land in buckets (2,2) and (3,3), and (2,2) is the (f-1,g-1) diagonal
	// of (3,3).
	a := record.New(shared, 10, record.NoState, -1, 2, 0)
	b := record.New(shared, 11, record.NoState, -1, 3, 0)
	require.NoError(t, o.Insert(a))
	require.NoError(t, o.Insert(b))

	// drain (f=2,g=2) fully first.
	got, err := o.RemoveMin()
	require.NoError(t, err)
	assert.Equal(t, shared, got.PackedVars)

	// (3,3)'s only candidate duplicates what (2,2) already emitted, so the
	// open list drains to empty rather than surfacing it again.
	_, err = o.RemoveMin()
	assert.ErrorIs(t, err, errs.ErrOpenListEmpty)

	states, err := sortedStatesOf(o.buckets[fgKey{3, 3}])
	require.NoError(t, err)
	for _, s := range states {
		assert.NotEqual(t, shared, s.PackedVars, "(3,3) must not contain a duplicate of what (2,2) already emitted")
	}
}
