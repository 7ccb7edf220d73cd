// Package collab declares the thin collaborator interfaces spec.md §6
// names as out of scope: successor generation, operator application,
// heuristic evaluation, and state-variable packing. The core engine calls
// through these; it never implements them.
//
// Grounded on friggdb's own boundary style -- friggdb.go accepts an
// Evaluator-shaped callback (the block compaction's objectReader) rather
// than importing the tenant-specific decode logic -- generalised here to
// the PDDL/SAS+-front-end boundary spec.md §1 draws.
package collab

import "github.com/shunjilin/extsearch/engine/record"

// SuccessorGen enumerates operator ids applicable to a state, in the
// order the driver should try them.
type SuccessorGen interface {
	Successors(state *record.State) []int32
}

// Apply produces the successor state reached by applying op to state. It
// must be pure: g, parent_hash and ids are derived, never mutated in
// place.
type Apply interface {
	Apply(state *record.State, op int32) *record.State
}

// Evaluator computes a heuristic value for a state. PosInf signals a dead
// end (errs.ErrDeadEnd at the driver).
type Evaluator interface {
	Compute(state *record.State) (h float64, preferred []int32)
}

// PosInf is the heuristic value meaning "dead end, prune this successor".
const PosInf = float64(1<<63 - 1)

// StatePacker exposes the per-variable domain schema and decodes packed
// bytes back into variable values -- the only place the engine looks
// inside packed_vars instead of treating it as an opaque key.
type StatePacker interface {
	DomainSizes() []int
	Get(packedVars []byte, varIdx int) int
}
