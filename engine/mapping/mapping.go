// Package mapping implements MappingTable: a parallel array of per-flush
// batch tags (e.g. partition ids) indexed by ptr/batchSize (spec.md §3).
//
// Grounded on friggdb's plain Go-slice indices (friggdb/record.go's
// []*Record, friggdb/backend/appender.go's records slice) generalised
// into a dedicated small type since the core's use (tagging *batches*,
// not individual records) is narrower than a general slice.
package mapping

// Table is a vector of tags, one per flush batch. Entry k holds the tag
// associated with the k-th batch; callers address it with Lookup(ptr),
// which divides by the fixed batch size.
type Table struct {
	tags      []uint32
	batchSize uint64
}

// New creates an empty MappingTable for the given batch size.
func New(batchSize uint64) *Table {
	if batchSize == 0 {
		batchSize = 1
	}
	return &Table{batchSize: batchSize}
}

// Append records the tag for the next flush batch, returning its batch
// index.
func (t *Table) Append(tag uint32) int {
	t.tags = append(t.tags, tag)
	return len(t.tags) - 1
}

// Lookup returns the tag associated with the batch that ptr falls into.
func (t *Table) Lookup(ptr uint64) (uint32, bool) {
	batch := ptr / t.batchSize
	if batch >= uint64(len(t.tags)) {
		return 0, false
	}
	return t.tags[batch], true
}

// Len reports how many batches have been recorded.
func (t *Table) Len() int {
	return len(t.tags)
}
