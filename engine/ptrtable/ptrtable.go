// Package ptrtable implements PointerTable: a bit-packed, open-addressed
// array of N pointers using ceil(log2(N+1)) bits each (spec.md §4.1).
//
// The bit-packing technique has no direct analogue in the teacher
// (friggdb never needed denser-than-a-machine-word indices), so this
// package is grounded on spec.md's own sizing algorithm plus the
// standard-library facilities the rest of the pack reaches for when it
// needs exact-width integer math: math/big.Int.ProbablyPrime implements
// the spec's "Miller-Rabin, 25 rounds" requirement directly, and no
// repository in the retrieval pack carries a dedicated primality-testing
// dependency (see DESIGN.md).
package ptrtable

import (
	"fmt"
	"math/big"

	"github.com/shunjilin/extsearch/engine/errs"
)

// Table is a fixed-capacity, bit-packed pointer array. Empty slots hold
// Invalid (all-ones of width Width()). The table never resizes; exhausting
// capacity is ErrCapacityExceeded.
type Table struct {
	bits    []byte
	n       uint64 // capacity (slots)
	width   uint   // bits per pointer
	invalid uint64
	entries uint64 // occupied slot count
}

// Sizing computes (bits-per-pointer, capacity) for a byte budget M
// following spec.md §4.1's algorithm: find the smallest pointer width
// b_big with b_big * 2^b_big >= 8M, whose capacity is floor(8M/b_big);
// compare it against the next-narrower width b_big-1 with capacity
// 2^(b_big-1) (which can sometimes address *more* slots, because each
// pointer costs one bit less and that many slots still fit the budget),
// cap each at 2^width-1, and return whichever capacity is larger.
func Sizing(budgetBytes uint64, prime bool) (width uint, capacity uint64) {
	bitsBudget := 8 * budgetBytes

	bBig := uint(1)
	for uint64(bBig)<<bBig < bitsBudget {
		bBig++
	}

	nBig := bitsBudget / uint64(bBig)
	candBig := adjustCandidate(bBig, nBig, prime)

	var candSmall uint64
	var bSmall uint
	if bBig > 1 {
		bSmall = bBig - 1
		nSmall := uint64(1) << bSmall
		candSmall = adjustCandidate(bSmall, nSmall, prime)
	}

	if candSmall > candBig {
		return bSmall, candSmall
	}
	return bBig, candBig
}

// adjustCandidate applies step 3 of the sizing algorithm: round down to
// the nearest prime when requested, otherwise just enforce N <= 2^b-1.
func adjustCandidate(width uint, n uint64, prime bool) uint64 {
	ceiling := (uint64(1) << width) - 1
	if n > ceiling {
		n = ceiling
	}
	if !prime {
		return n
	}
	return largestPrimeAtMost(n)
}

// largestPrimeAtMost returns the largest prime <= n using 25 rounds of
// Miller-Rabin via math/big, or 0 if n < 2.
func largestPrimeAtMost(n uint64) uint64 {
	if n < 2 {
		return 0
	}
	candidate := new(big.Int).SetUint64(n)
	one := big.NewInt(1)
	for candidate.Cmp(big.NewInt(2)) >= 0 {
		if candidate.ProbablyPrime(25) {
			return candidate.Uint64()
		}
		candidate.Sub(candidate, one)
	}
	return 0
}

// New allocates a Table sized from a byte budget.
func New(budgetBytes uint64, prime bool) (*Table, error) {
	width, n := Sizing(budgetBytes, prime)
	if n == 0 {
		return nil, fmt.Errorf("%w: budget %d bytes too small for any slots", errs.ErrInvalidConfig, budgetBytes)
	}
	return newWithSize(width, n), nil
}

// newWithSize builds a table with an explicit (width, capacity), used
// directly by tests that want to exercise a known-small table without
// going through Sizing.
func newWithSize(width uint, n uint64) *Table {
	invalid := (uint64(1) << width) - 1
	totalBits := n * uint64(width)
	totalBytes := (totalBits + 7) / 8

	t := &Table{
		bits:    make([]byte, totalBytes),
		n:       n,
		width:   width,
		invalid: invalid,
	}
	t.fillInvalid()
	return t
}

func (t *Table) fillInvalid() {
	for i := uint64(0); i < t.n; i++ {
		t.writeRaw(i, t.invalid)
	}
}

// Capacity returns N, the number of addressable slots.
func (t *Table) Capacity() uint64 { return t.n }

// Width returns the number of bits used per pointer.
func (t *Table) Width() uint { return t.width }

// Invalid returns the sentinel value denoting an empty slot.
func (t *Table) Invalid() uint64 { return t.invalid }

// Len returns the number of occupied (non-Invalid) slots.
func (t *Table) Len() uint64 { return t.entries }

func (t *Table) checkIndex(index uint64) {
	if index >= t.n {
		panic(fmt.Sprintf("ptrtable: index %d out of range [0,%d)", index, t.n))
	}
}

// readRaw reads the width-bit value at slot index without bookkeeping.
func (t *Table) readRaw(index uint64) uint64 {
	bitOff := index * uint64(t.width)
	var v uint64
	for i := uint(0); i < t.width; i++ {
		bit := bitOff + uint64(i)
		byteIdx := bit / 8
		bitIdx := bit % 8
		if t.bits[byteIdx]&(1<<bitIdx) != 0 {
			v |= 1 << i
		}
	}
	return v
}

// writeRaw writes the width-bit value v at slot index without bookkeeping.
func (t *Table) writeRaw(index uint64, v uint64) {
	bitOff := index * uint64(t.width)
	for i := uint(0); i < t.width; i++ {
		bit := bitOff + uint64(i)
		byteIdx := bit / 8
		bitIdx := bit % 8
		if v&(1<<i) != 0 {
			t.bits[byteIdx] |= 1 << bitIdx
		} else {
			t.bits[byteIdx] &^= 1 << bitIdx
		}
	}
}

// Find reads the pointer stored at index (spec.md §4.1, find).
func (t *Table) Find(index uint64) uint64 {
	t.checkIndex(index)
	return t.readRaw(index)
}

// Insert writes ptr at index directly. The slot must currently be
// Invalid; callers that route through Insert rather than HashInsert are
// expected to have already located the slot (e.g. via HashFind).
func (t *Table) Insert(ptr uint64, index uint64) error {
	t.checkIndex(index)
	if t.readRaw(index) != t.invalid {
		return fmt.Errorf("ptrtable: slot %d is not empty", index)
	}
	t.writeRaw(index, ptr)
	t.entries++
	return nil
}

// Clear resets a slot back to Invalid, decrementing the entry counter if
// the slot was occupied.
func (t *Table) Clear(index uint64) {
	t.checkIndex(index)
	if t.readRaw(index) != t.invalid {
		t.entries--
	}
	t.writeRaw(index, t.invalid)
}

// HashInsert probes starting at h mod N, advancing by step (wrapping)
// until it finds an Invalid slot, then writes ptr there (spec.md §4.1).
// It returns ErrCapacityExceeded rather than looping forever once every
// slot has been visited.
func (t *Table) HashInsert(ptr uint64, h uint64, step uint64) error {
	cur := h % t.n
	s := step % t.n
	if s == 0 {
		s = 1
	}

	for attempts := uint64(0); attempts < t.n; attempts++ {
		if t.readRaw(cur) == t.invalid {
			t.writeRaw(cur, ptr)
			t.entries++
			return nil
		}
		cur = (cur + s) % t.n
	}

	return errs.ErrCapacityExceeded
}

// Cursor is the stateful probe handle described by spec.md §4.1's
// hash_find: the caller advances it and reads Ptr() until Ptr() ==
// Invalid, comparing keys externally at each step.
type Cursor struct {
	t    *Table
	pos  uint64
	step uint64
}

// StartProbe begins a probe sequence at h mod N with the given step
// (spec.md's "first=true" case).
func (t *Table) StartProbe(h uint64, step uint64) *Cursor {
	s := step % t.n
	if s == 0 {
		s = 1
	}
	return &Cursor{t: t, pos: h % t.n, step: s}
}

// Index returns the current probe slot.
func (c *Cursor) Index() uint64 { return c.pos }

// Ptr returns the pointer currently stored at the probe cursor.
func (c *Cursor) Ptr() uint64 { return c.t.readRaw(c.pos) }

// Advance moves the cursor forward by its step, wrapping modulo N
// (spec.md's "first=false" case).
func (c *Cursor) Advance() {
	c.pos = (c.pos + c.step) % c.t.n
}

// LinearStep is the step value for simple linear probing.
func LinearStep() uint64 { return 1 }

// DoubleStep computes the double-hashing step 1 + (h mod (N-1)), correct
// only when N is prime (Cormen et al.), per spec.md §4.1.
func DoubleStep(h uint64, n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 + (h % (n - 1))
}
