// Package errs collects the error taxonomy shared by every engine component.
package errs

import "fmt"

// ErrOpenListEmpty is returned by OpenList.RemoveMin when no candidate
// remains after a full duplicate-removal pass. Callers treat it as "no
// solution", never as a fault.
var ErrOpenListEmpty = fmt.Errorf("open list empty")

// ErrCapacityExceeded is returned when a PointerTable cannot find a free
// slot during hash_insert, or when a CompressClosedList's external phase
// cannot admit another state. Fatal: the caller should unwind to the
// driver and abort the search.
var ErrCapacityExceeded = fmt.Errorf("capacity exceeded")

// ErrDeadEnd marks a successor whose evaluator returned an infinite
// heuristic. Local to the driver: the successor is simply discarded.
var ErrDeadEnd = fmt.Errorf("dead end")

// ErrInvalidConfig is returned at construction time: by config.Validate
// for a negative internal_closed_gb or a non-positive shard count, and by
// ptrtable.New for a byte budget too small for any slot. No component
// checks for non-unit action costs.
var ErrInvalidConfig = fmt.Errorf("invalid config")

// ErrTraceBroken signals a violated invariant during path reconstruction:
// a parent could not be found on any shard or bucket it should have been
// routed to.
var ErrTraceBroken = fmt.Errorf("path reconstruction: parent not found")

// IOError wraps a failure from opening, mapping, or performing I/O against
// a bucket file. Every bucket-file operation in the engine returns one of
// these rather than a bare *os.PathError so callers can log the path
// alongside the syscall error, mirroring how the teacher's wal/backend
// layers annotate os errors with the file involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError builds an *IOError, returning nil if err is nil so callers can
// write `return errs.NewIOError(...)` unconditionally after an os call.
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
