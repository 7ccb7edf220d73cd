package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupByBatch(t *testing.T) {
	tbl := New(4)

	tbl.Append(1)
	tbl.Append(2)

	tag, ok := tbl.Lookup(0)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), tag)

	tag, ok = tbl.Lookup(3)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), tag)

	tag, ok = tbl.Lookup(4)
	assert.True(t, ok)
	assert.Equal(t, uint32(2), tag)

	_, ok = tbl.Lookup(100)
	assert.False(t, ok)
}
