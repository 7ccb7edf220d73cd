// Package zobrist implements a twisted-tabulation Zobrist hasher over
// packed state-variable values (spec.md §4.5).
//
// The table and its seed stream are process-wide, one-shot state: the
// first Init call in a run fixes them, exactly the way the
// teacher treats its globally-initialised constants (spec.md §9, "Global
// hash / packer state"). No repository in the retrieval pack carries a
// Mersenne-Twister or similarly-named PRNG package, so this is one of the
// few places SPEC_FULL.md falls back to the standard library: math/rand's
// seeded Source is used as the "seed stream" generator spec.md calls for
// (see DESIGN.md).
package zobrist

import "math/rand"

// Mode selects standard or twisted-tabulation mixing.
type Mode int

const (
	// Standard XORs every T[i][v[i]] together.
	Standard Mode = iota
	// Twisted folds the last variable's value through the accumulator
	// before the final table lookup (the default per spec.md §4.5).
	Twisted
)

var global struct {
	table  [][]uint64
	domain []int
	isSet  bool
}

// Init seeds the process-wide Zobrist table from masterSeed for the given
// per-variable domain sizes. Only the first call in a process has any
// effect; later calls with a different domain are a programmer error and
// panic, mirroring the "first touch wins" rule spec.md §5 lays out for
// shared resources in a single-threaded engine.
func Init(masterSeed int64, domainSizes []int) {
	if global.isSet {
		if len(domainSizes) != len(global.domain) {
			panic("zobrist: domain schema changed after first Init")
		}
		for i, d := range domainSizes {
			if d != global.domain[i] {
				panic("zobrist: domain schema changed after first Init")
			}
		}
		return
	}

	src := rand.New(rand.NewSource(masterSeed))
	table := make([][]uint64, len(domainSizes))
	for i, d := range domainSizes {
		row := make([]uint64, d)
		for v := range row {
			row[v] = src.Uint64()
		}
		table[i] = row
	}

	global.table = table
	global.domain = append([]int(nil), domainSizes...)
	global.isSet = true
}

// Initialized reports whether the process-wide table has been seeded.
func Initialized() bool {
	return global.isSet
}

// Hasher computes hashes over packed-variable views using the process-wide
// table. It carries no mutable state of its own; Mode only picks the
// mixing function.
type Hasher struct {
	mode Mode
}

// New returns a Hasher in the given mode. Init must have been called
// already; New panics otherwise, since a Hasher with no table is a
// construction-order bug, not a runtime condition to recover from.
func New(mode Mode) *Hasher {
	if !global.isSet {
		panic("zobrist: New called before Init")
	}
	return &Hasher{mode: mode}
}

// Hash computes the hash of a packed-variable view v, where v[i] is the
// value assigned to variable i.
func (h *Hasher) Hash(v []int) uint64 {
	switch h.mode {
	case Twisted:
		return h.twisted(v)
	default:
		return h.standard(v)
	}
}

func (h *Hasher) standard(v []int) uint64 {
	var acc uint64
	for i, val := range v {
		acc ^= global.table[i][val]
	}
	return acc
}

func (h *Hasher) twisted(v []int) uint64 {
	if len(v) == 0 {
		return 0
	}

	var acc uint64
	for i := 0; i < len(v)-1; i++ {
		acc ^= global.table[i][v[i]]
	}

	last := len(v) - 1
	row := global.table[last]
	idx := (uint64(v[last]) ^ acc) % uint64(len(row))
	acc ^= row[idx]

	return acc
}

// resetForTest clears the process-wide table. Only used by this package's
// own tests, which must run Init themselves to get a well-defined table
// for the domain under test.
func resetForTest() {
	global.table = nil
	global.domain = nil
	global.isSet = false
}
