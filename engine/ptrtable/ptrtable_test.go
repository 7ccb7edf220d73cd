package ptrtable

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizingRespectsBudget(t *testing.T) {
	budgets := []uint64{1024, 4096, 1 << 20, 1 << 30}

	for _, m := range budgets {
		width, n := Sizing(m, false)
		assert.LessOrEqual(t, n*uint64(width), 8*m, "budget %d", m)
		assert.LessOrEqual(t, n, (uint64(1)<<width)-1, "budget %d", m)
	}
}

func TestSizingPrimeCardinality(t *testing.T) {
	budgets := []uint64{4096, 1 << 16, 1 << 24}

	for _, m := range budgets {
		_, n := Sizing(m, true)
		if n == 0 {
			continue
		}
		assert.True(t, big.NewInt(int64(n)).ProbablyPrime(25), "budget %d produced non-prime N=%d", m, n)
	}
}

func TestFindInsertRoundTrip(t *testing.T) {
	tbl := newWithSize(6, 50)

	err := tbl.Insert(7, 10)
	assert.NoError(t, err)
	assert.Equal(t, uint64(7), tbl.Find(10))

	err = tbl.Insert(3, 10)
	assert.Error(t, err, "re-inserting into an occupied slot should fail")
}

func TestHashInsertAndProbeFindsIt(t *testing.T) {
	tbl := newWithSize(5, 31) // 31 is prime

	h := uint64(17)
	step := DoubleStep(h, tbl.Capacity())
	err := tbl.HashInsert(42, h, step)
	assert.NoError(t, err)

	cur := tbl.StartProbe(h, step)
	found := false
	for i := uint64(0); i < tbl.Capacity(); i++ {
		if cur.Ptr() == 42 {
			found = true
			break
		}
		if cur.Ptr() == tbl.Invalid() {
			break
		}
		cur.Advance()
	}
	assert.True(t, found)
}

func TestProbeWithPrimeNVisitsAllSlotsBeforeRepeating(t *testing.T) {
	n := uint64(37) // prime
	tbl := newWithSize(6, n)

	h := uint64(5)
	step := DoubleStep(h, n)

	cur := tbl.StartProbe(h, step)
	seen := make(map[uint64]bool)
	for i := uint64(0); i < n; i++ {
		idx := cur.Index()
		assert.False(t, seen[idx], "slot %d visited twice before full cycle", idx)
		seen[idx] = true
		cur.Advance()
	}
	assert.Len(t, seen, int(n))
}

func TestHashInsertFullTableReturnsCapacityExceeded(t *testing.T) {
	tbl := newWithSize(3, 5)

	for i := uint64(0); i < 5; i++ {
		err := tbl.HashInsert(i, i, 1)
		assert.NoError(t, err)
	}

	err := tbl.HashInsert(99, 0, 1)
	assert.Error(t, err)
}
