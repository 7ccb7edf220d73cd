// Package search implements SearchDriver: the generic best-first loop
// that wires an open list, a closed list (for the lazy variant), a
// successor generator, and an evaluator together (spec.md §4.6).
//
// Grounded on friggdb/pool/pool.go's top-level orchestration style (a
// small driver loop pulling work items and dispatching to injected
// collaborators) rather than on any single friggdb file, since spec.md
// §1 draws SearchDriver's own collaborators (successor gen, apply,
// evaluator) out of scope -- the driver's job here is purely the wiring
// loop, like pool.Pool's dispatch loop around injected readers/writers.
package search

import (
	"errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/shunjilin/extsearch/engine/collab"
	"github.com/shunjilin/extsearch/engine/errs"
	"github.com/shunjilin/extsearch/engine/record"
)

// OpenList is the capability set spec.md §9 calls for: insert, remove_min,
// is_dead_end, clear, trace_path. Both HashDDDOpenList and
// ExternalAStarOpenList satisfy it directly.
type OpenList interface {
	Insert(entry *record.State) error
	RemoveMin() (*record.State, error)
	IsDeadEnd() bool
	TracePath(goal *record.State) ([]int32, error)
	Clear() error
}

// ClosedList is the capability set for the lazy variant, satisfied by
// CompressClosedList.
type ClosedList interface {
	FindInsert(entry *record.State) (found bool, reopened bool, err error)
	TracePath(goal *record.State) ([]int32, error)
	Clear() error
}

// Driver runs the canonical best-first loop of spec.md §4.6. Closed may
// be nil for the DDD/external-A* variants, which track closedness inside
// the open list itself and reconstruct paths from it directly.
type Driver struct {
	Open      OpenList
	Closed    ClosedList
	Gen       collab.SuccessorGen
	Applier   collab.Apply
	Evaluator collab.Evaluator
	Logger    log.Logger
}

// Result is what Run returns on success.
type Result struct {
	Goal *record.State
	Plan []int32
}

// IsGoal is supplied by the caller (out of scope per spec.md §1's PDDL/
// SAS+ front end boundary): the driver only knows how to expand, not how
// to recognise termination.
type IsGoal func(*record.State) bool

// Run drives the loop described in spec.md §4.6 until a goal is found or
// the open list signals ErrOpenListEmpty ("unsolvable").
func (d *Driver) Run(root *record.State, isGoal IsGoal) (*Result, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	if err := d.Open.Insert(root); err != nil {
		return nil, err
	}

	for {
		s, err := d.Open.RemoveMin()
		if err != nil {
			if errors.Is(err, errs.ErrOpenListEmpty) {
				level.Info(logger).Log("msg", "search exhausted, no solution")
				return nil, err
			}
			return nil, err
		}

		if isGoal(s) {
			var plan []int32
			if d.Closed != nil {
				plan, err = d.Closed.TracePath(s)
			} else {
				plan, err = d.Open.TracePath(s)
			}
			if err != nil {
				return nil, err
			}
			return &Result{Goal: s, Plan: plan}, nil
		}

		if d.Closed != nil {
			found, reopened, err := d.Closed.FindInsert(s)
			if err != nil {
				return nil, err
			}
			if found && !reopened {
				continue
			}
		}

		for _, op := range d.Gen.Successors(s) {
			succ := d.Applier.Apply(s, op)
			h, _ := d.Evaluator.Compute(succ)
			if h == collab.PosInf {
				continue // dead end, errs.ErrDeadEnd is local to the driver
			}
			if err := d.Open.Insert(succ); err != nil {
				return nil, err
			}
		}
	}
}
