package zobrist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterminismAcrossHashers(t *testing.T) {
	resetForTest()
	defer resetForTest()

	domain := []int{4, 4, 8, 2}
	Init(42, domain)

	a := New(Twisted)
	b := New(Twisted)

	v := []int{1, 2, 3, 0}
	assert.Equal(t, a.Hash(v), b.Hash(v))
}

func TestDeterminismAcrossRuns(t *testing.T) {
	resetForTest()
	domain := []int{4, 4, 8, 2}
	Init(42, domain)
	h1 := New(Twisted)
	want := h1.Hash([]int{1, 2, 3, 0})
	resetForTest()

	Init(42, domain)
	h2 := New(Twisted)
	got := h2.Hash([]int{1, 2, 3, 0})

	assert.Equal(t, want, got)
	resetForTest()
}

func TestStandardAndTwistedDiffer(t *testing.T) {
	resetForTest()
	defer resetForTest()
	Init(7, []int{5, 5, 5})

	std := New(Standard).Hash([]int{1, 2, 3})
	twist := New(Twisted).Hash([]int{1, 2, 3})

	// Not a hard guarantee for every input, but true for this fixed seed
	// and these values; demonstrates the two modes are not aliases.
	assert.NotEqual(t, std, twist)
}

func TestInitIsOneShot(t *testing.T) {
	resetForTest()
	defer resetForTest()

	Init(1, []int{2, 2})
	assert.Panics(t, func() {
		Init(1, []int{2, 2, 2})
	})
}
