// Package record implements StateRecord: the fixed-width, serialisable
// value every other engine component stores, hashes, and compares.
//
// Layout mirrors the teacher's trace Record (friggdb/record.go,
// friggdb/backend/object.go) generalised from a 16-byte trace id plus
// (start, length) into the wire format spec.md §6 describes: packed
// variable bytes plus identity, parentage, cost and a cached parent hash.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// NoState is the sentinel parent id for the root of a search.
const NoState uint64 = ^uint64(0)

// headerSize is the portion of the wire format after packed_vars:
// state_id(8) + parent_state_id(8) + creating_operator(4) + g(4) + parent_hash(8).
const headerSize = 8 + 8 + 4 + 4 + 8

// fixedSize is set once, by the first State constructed in a run, and
// never changes afterward (spec.md §3, §9 "Global hash / packer state").
var fixedSize struct {
	p       int  // len(packed_vars), 0 until set
	r       int  // stride = p + headerSize
	isSet   bool
}

// Stride reports the fixed serialised size R of a StateRecord in this run.
// It is zero until the first State has been constructed.
func Stride() int {
	return fixedSize.r
}

// PackedLen reports the fixed packed-variable byte width P for this run.
func PackedLen() int {
	return fixedSize.p
}

// State is an immutable value: a single StateRecord. Equality and hashing
// operate on PackedVars only (spec.md §3 invariant) so that two records
// with different ids but identical packed bytes collapse to the same
// logical state for delayed duplicate detection.
type State struct {
	PackedVars      []byte
	StateID         uint64
	ParentStateID   uint64
	CreatingOp      int32
	G               int32
	ParentHash      uint64
}

// New constructs a State, fixing the run-wide packed-variable width P on
// the very first call. Every subsequent call must use the same width;
// mismatches are a programmer error in the caller (the state packer
// schema is established once at startup, per spec.md §9) and panic the
// same way the teacher's code asserts its one-shot globals are set before
// use, rather than silently producing an inconsistent wire format.
func New(packedVars []byte, stateID, parentStateID uint64, creatingOp int32, g int32, parentHash uint64) *State {
	if !fixedSize.isSet {
		fixedSize.p = len(packedVars)
		fixedSize.r = fixedSize.p + headerSize
		fixedSize.isSet = true
	} else if len(packedVars) != fixedSize.p {
		panic(fmt.Sprintf("record: packed_vars width changed mid-run: have %d, want %d", len(packedVars), fixedSize.p))
	}

	if (creatingOp == -1) != (parentStateID == NoState) {
		panic("record: creating_operator == -1 must imply parent_state_id == NoState")
	}

	return &State{
		PackedVars:    packedVars,
		StateID:       stateID,
		ParentStateID: parentStateID,
		CreatingOp:    creatingOp,
		G:             g,
		ParentHash:    parentHash,
	}
}

// Equal compares packed_vars only, per spec.md §3.
func (s *State) Equal(o *State) bool {
	return bytes.Equal(s.PackedVars, o.PackedVars)
}

// Less implements the lexicographic ordering over packed_vars used by the
// external merge sort (spec.md §4.4).
func (s *State) Less(o *State) bool {
	return bytes.Compare(s.PackedVars, o.PackedVars) < 0
}

// Marshal writes the wire-format encoding of s into buf, which must be at
// least Stride() bytes. It returns the number of bytes written.
func (s *State) Marshal(buf []byte) int {
	p := len(s.PackedVars)
	copy(buf, s.PackedVars)

	off := p
	binary.LittleEndian.PutUint64(buf[off:], s.StateID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.ParentStateID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(s.CreatingOp))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(s.G))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], s.ParentHash)
	off += 8

	return off
}

// Unmarshal decodes a State from buf, which must be exactly Stride()
// bytes (or PackedLen()+headerSize, if no State has been built yet in
// this process -- callers normally rely on Stride() being already fixed).
func Unmarshal(buf []byte) *State {
	p := len(buf) - headerSize
	packedVars := make([]byte, p)
	copy(packedVars, buf[:p])

	off := p
	stateID := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	parentStateID := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	creatingOp := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	g := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	parentHash := binary.LittleEndian.Uint64(buf[off:])

	return &State{
		PackedVars:    packedVars,
		StateID:       stateID,
		ParentStateID: parentStateID,
		CreatingOp:    creatingOp,
		G:             g,
		ParentHash:    parentHash,
	}
}

// Sort orders a slice of States lexicographically by PackedVars, the way
// the teacher's recordSorter orders trace ids (friggdb/record.go).
func Sort(states []*State) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Less(states[j])
	})
}

// resetForTest clears the one-shot width globals. Only the test package in
// this directory may call it (unexported), so production code can never
// un-fix the stride mid-run.
func resetForTest() {
	fixedSize.p = 0
	fixedSize.r = 0
	fixedSize.isSet = false
}
