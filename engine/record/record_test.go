package record

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMain_resetsFixedSize(t *testing.T) {
	resetForTest()
}

func makeState(t *testing.T, packedLen int) *State {
	t.Helper()

	packed := make([]byte, packedLen)
	_, err := rand.Read(packed)
	assert.NoError(t, err, "unexpected error filling packed vars")

	return New(packed, rand.Uint64(), rand.Uint64(), int32(rand.Intn(100)), int32(rand.Intn(1000)), rand.Uint64())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	resetForTest()
	defer resetForTest()

	expected := makeState(t, 12)
	buf := make([]byte, Stride())
	n := expected.Marshal(buf)
	assert.Equal(t, Stride(), n)

	actual := Unmarshal(buf)
	assert.Equal(t, expected, actual)
}

func TestStrideConstantAfterFirstState(t *testing.T) {
	resetForTest()
	defer resetForTest()

	_ = makeState(t, 20)
	want := Stride()

	for i := 0; i < 5; i++ {
		s := makeState(t, 20)
		assert.Equal(t, want, Stride())
		buf := make([]byte, Stride())
		s.Marshal(buf)
	}
}

func TestMismatchedPackedWidthPanics(t *testing.T) {
	resetForTest()
	defer resetForTest()

	_ = makeState(t, 8)

	assert.Panics(t, func() {
		makeState(t, 9)
	})
}

func TestRootInvariant(t *testing.T) {
	resetForTest()
	defer resetForTest()

	assert.Panics(t, func() {
		New(make([]byte, 4), 1, NoState, 0, 0, 0)
	})
	assert.Panics(t, func() {
		New(make([]byte, 4), 1, 5, -1, 0, 0)
	})

	// valid root
	root := New(make([]byte, 4), 1, NoState, -1, 0, 0)
	assert.Equal(t, NoState, root.ParentStateID)
}

func TestEqualityIgnoresIdentity(t *testing.T) {
	resetForTest()
	defer resetForTest()

	packed := []byte{1, 2, 3, 4}
	a := New(packed, 1, NoState, -1, 0, 0)
	b := New(packed, 2, 99, 3, 5, 7)

	assert.True(t, a.Equal(b))
}

func TestSort(t *testing.T) {
	resetForTest()
	defer resetForTest()

	states := make([]*State, 0, 10)
	for i := 0; i < 10; i++ {
		states = append(states, makeState(t, 6))
	}

	Sort(states)
	for i := 1; i < len(states); i++ {
		assert.False(t, states[i].Less(states[i-1]))
	}
}
