package mmapbucket

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateWriteReadDestroy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "closed_list.bucket")

	b, err := Create(path, 16, 10)
	assert.NoError(t, err)

	rec := make([]byte, 16)
	copy(rec, []byte("hello world!!!!!"))
	b.WriteAt(3, rec)

	out := make([]byte, 16)
	b.ReadAt(3, out)
	assert.Equal(t, rec, out)

	assert.NoError(t, b.Sync())
	assert.NoError(t, b.Destroy())

	_, statErr := os.Stat(path)
	assert.Error(t, statErr, "bucket file should be unlinked after Destroy")
}

func TestDestroyIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "closed_list.bucket")

	b, err := Create(path, 8, 4)
	assert.NoError(t, err)

	assert.NoError(t, b.Destroy())
	assert.NoError(t, b.Destroy())
}
