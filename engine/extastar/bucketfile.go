package extastar

import (
	"io"
	"os"

	"github.com/shunjilin/extsearch/engine/errs"
	"github.com/shunjilin/extsearch/engine/record"
)

// bucketFile is an append-only, sequentially-scanned (f,g) bucket file,
// the same role as ddd's bucketFile but kept package-local since the two
// open lists' file lifecycles (merge/replace vs. truncate-in-place)
// diverge enough to not share an abstraction cleanly.
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

// Next reads the next record at the file's persistent scan cursor, used
// by RemoveMin's sequential consumption of the current (f,g) bucket.
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

func (b *bucketFile) ResetRead() { b.readOff = 0 }

func (b *bucketFile) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, errs.NewIOError("stat", b.path, err)
	}
	return info.Size(), nil
}

// ReadAll loads every record currently in the file, independent of the
// persistent scan cursor.
func (b *bucketFile) ReadAll() ([]*record.State, error) {
	size, err := b.Size()
	if err != nil {
		return nil, err
	}
	stride := int64(record.Stride())
	data := make([]byte, size)
	if _, err := b.f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, errs.NewIOError("read", b.path, err)
	}
	var out []*record.State
	for off := int64(0); off+stride <= int64(len(data)); off += stride {
		out = append(out, record.Unmarshal(data[off:off+stride]))
	}
	return out, nil
}

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
