package ddd

import (
	"io"
	"os"

	"github.com/shunjilin/extsearch/engine/errs"
	"github.com/shunjilin/extsearch/engine/record"
)

// bucketFile is a single append-only, stride-indexed file backing one
// {open,next,closed,recursive} tier of one shard. Grounded on friggdb's
// plain sequential-file WAL blocks (friggdb/wal/block.go, friggdb/wal/
// head_block.go's Append/Find over an *os.File) rather than on
// MmapBucket: these buckets are streamed once per layer, never
// random-accessed by index, so a plain file matches the teacher's own
// choice of backing store for append-then-scan data.
type bucketFile struct {
	path    string
	f       *os.File
	readOff int64
}

func openBucketFile(path string) (*bucketFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, errs.NewIOError("open", path, err)
	}
	return &bucketFile{path: path, f: f}, nil
}

// Append writes s to the end of the file.
func (b *bucketFile) Append(s *record.State) error {
	buf := make([]byte, record.Stride())
	s.Marshal(buf)
	if _, err := b.f.Seek(0, io.SeekEnd); err != nil {
		return errs.NewIOError("seek", b.path, err)
	}
	if _, err := b.f.Write(buf); err != nil {
		return errs.NewIOError("write", b.path, err)
	}
	return nil
}

// Next reads the record at the persistent read cursor and advances it.
// Returns ok=false at EOF. Used only by remove_min's scan over open[i],
// which must resume where a previous call left off.
func (b *bucketFile) Next() (*record.State, bool, error) {
	stride := int64(record.Stride())
	buf := make([]byte, stride)
	n, err := b.f.ReadAt(buf, b.readOff)
	if err != nil && err != io.EOF {
		return nil, false, errs.NewIOError("read", b.path, err)
	}
	if int64(n) < stride {
		return nil, false, nil
	}
	b.readOff += stride
	return record.Unmarshal(buf), true, nil
}

// ResetRead rewinds the persistent read cursor to the start.
func (b *bucketFile) ResetRead() { b.readOff = 0 }

// ReadAll reads every record currently in the file without touching the
// persistent read cursor, for callers that scan the whole file in one
// shot (RemoveDuplicates over next/closed, trace_path over closed).
func (b *bucketFile) ReadAll() ([]*record.State, error) {
	info, err := b.f.Stat()
	if err != nil {
		return nil, errs.NewIOError("stat", b.path, err)
	}
	stride := int64(record.Stride())
	data := make([]byte, info.Size())
	if _, err := b.f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, errs.NewIOError("read", b.path, err)
	}
	var out []*record.State
	for off := int64(0); off+stride <= int64(len(data)); off += stride {
		out = append(out, record.Unmarshal(data[off:off+stride]))
	}
	return out, nil
}

// PopLast removes and returns the last record written (LIFO), used by the
// recursive bucket's short-circuit pop.
func (b *bucketFile) PopLast() (*record.State, bool, error) {
	info, err := b.f.Stat()
	if err != nil {
		return nil, false, errs.NewIOError("stat", b.path, err)
	}
	stride := int64(record.Stride())
	if info.Size() < stride {
		return nil, false, nil
	}
	off := info.Size() - stride
	buf := make([]byte, stride)
	if _, err := b.f.ReadAt(buf, off); err != nil {
		return nil, false, errs.NewIOError("read", b.path, err)
	}
	if err := b.f.Truncate(off); err != nil {
		return nil, false, errs.NewIOError("truncate", b.path, err)
	}
	return record.Unmarshal(buf), true, nil
}

// Truncate empties the file and resets both write position and the
// persistent read cursor, used to "recreate" a bucket in place.
func (b *bucketFile) Truncate() error {
	if err := b.f.Truncate(0); err != nil {
		return errs.NewIOError("truncate", b.path, err)
	}
	b.readOff = 0
	return nil
}

// Destroy closes and unlinks the backing file. Safe to call once; callers
// must not reuse the bucketFile afterward.
func (b *bucketFile) Destroy() error {
	if b.f == nil {
		return nil
	}
	b.f.Close()
	b.f = nil
	err := os.Remove(b.path)
	if err != nil && !os.IsNotExist(err) {
		return errs.NewIOError("unlink", b.path, err)
	}
	return nil
}
