// Package mmapbucket implements MmapBucket: a memory-mapped, fixed-stride
// array of StateRecords backing the external phase of the closed list
// (spec.md §3, §4.2).
//
// Grounded on the teacher's file-lifecycle discipline (friggdb/wal/block.go's
// fullFilename/file() pattern, friggdb/wal/complete_block.go's Clear()
// unlinking its own path) generalised from whole-file ReadAt/append to a
// true mmap, using github.com/edsrzf/mmap-go -- present in the teacher's
// own go.mod as an indirect dependency the friggdb-era code never
// exercised directly.
package mmapbucket

import (
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/shunjilin/extsearch/engine/errs"
)

// Bucket is a fixed-stride record array backed by an mmap'd file of
// N*stride bytes. Each bucket file is owned by exactly one Bucket value;
// Destroy unmaps, closes, and unlinks it (spec.md §5, "File / mmap
// discipline").
type Bucket struct {
	path   string
	file   *os.File
	region mmap.MMap
	stride int
	slots  uint64
}

// Create allocates a new bucket file of slots*stride bytes at path,
// O_CREATE|O_TRUNC|O_RDWR mode 0600 per spec.md §6, and maps it in.
// No madvise hint is set on the mapping: kernel readahead follows the
// OS default policy.
func Create(path string, stride int, slots uint64) (*Bucket, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, errs.NewIOError("open", path, err)
	}

	size := int64(stride) * int64(slots)
	if size == 0 {
		size = int64(stride)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errs.NewIOError("truncate", path, err)
	}

	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, errs.NewIOError("mmap", path, err)
	}

	// mmap-go exposes no madvise hook, so the RANDOM hint spec.md §5 calls
	// for is not available through this dependency; closed-list probe
	// locality is left to the OS default readahead policy (see DESIGN.md).

	return &Bucket{
		path:   path,
		file:   f,
		region: region,
		stride: stride,
		slots:  slots,
	}, nil
}

// Path returns the backing file's path.
func (b *Bucket) Path() string { return b.path }

// Slots returns the bucket's capacity.
func (b *Bucket) Slots() uint64 { return b.slots }

// Stride returns the fixed record size in bytes.
func (b *Bucket) Stride() int { return b.stride }

func (b *Bucket) checkIndex(index uint64) {
	if index >= b.slots {
		panic("mmapbucket: index out of range")
	}
}

// ReadAt copies the record at the given slot index into dst, which must
// be at least Stride() bytes.
func (b *Bucket) ReadAt(index uint64, dst []byte) {
	b.checkIndex(index)
	off := index * uint64(b.stride)
	copy(dst, b.region[off:off+uint64(b.stride)])
}

// WriteAt writes src (exactly Stride() bytes) into the slot at index.
func (b *Bucket) WriteAt(index uint64, src []byte) {
	b.checkIndex(index)
	off := index * uint64(b.stride)
	copy(b.region[off:off+uint64(b.stride)], src)
}

// Sync flushes dirty pages back to the backing file.
func (b *Bucket) Sync() error {
	if err := b.region.Flush(); err != nil {
		return errs.NewIOError("msync", b.path, err)
	}
	return nil
}

// Destroy unmaps the region, closes the descriptor, and unlinks the
// backing file. Safe to call more than once.
func (b *Bucket) Destroy() error {
	if b.region != nil {
		if err := b.region.Unmap(); err != nil {
			return errs.NewIOError("munmap", b.path, err)
		}
		b.region = nil
	}
	if b.file != nil {
		b.file.Close()
		b.file = nil
	}
	if b.path != "" {
		path := b.path
		err := os.Remove(path)
		b.path = ""
		if err != nil && !os.IsNotExist(err) {
			return errs.NewIOError("unlink", path, err)
		}
	}
	return nil
}
