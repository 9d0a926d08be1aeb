package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jacentio/prism/docpath"
	"github.com/jacentio/prism/driver"
)

// Re-exported sentinels so callers matching errors only need this package.
var (
	// ErrNotFound is returned when a mirror primary, an update target, or a
	// cursor document does not exist.
	ErrNotFound = driver.ErrNotFound

	// ErrInvalidPath is returned when a document or collection path is
	// malformed. Paths are validated eagerly, before any backend call.
	ErrInvalidPath = docpath.ErrInvalid

	// ErrConflict is returned when a transaction could not commit because of
	// concurrent modification.
	ErrConflict = driver.ErrConflict

	// ErrUnsupported is returned when the backend cannot express a sentinel
	// or query operator.
	ErrUnsupported = driver.ErrUnsupported
)

// ErrReadAfterWrite is returned when a transactional read is attempted after
// the transaction has staged its first write. Reads must come first.
var ErrReadAfterWrite = errors.New("prism: transaction read after write")

// PathFailure records one failed path inside a parallel batch operation.
type PathFailure struct {
	Path string
	Err  error
}

// PartialError reports that some, possibly all, of the paths in a parallel
// batch operation (Mirror without a transaction, MultiUpdate) failed.
// Successful sibling writes are not rolled back.
type PartialError struct {
	// Op is the aggregate operation that partially failed.
	Op string

	// Failures lists every failed path with its cause, in input order.
	Failures []PathFailure
}

func (e *PartialError) Error() string {
	paths := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		paths[i] = f.Path
	}
	return fmt.Sprintf("prism: %s failed for %d path(s): %s",
		e.Op, len(e.Failures), strings.Join(paths, ", "))
}

// Unwrap exposes the per-path causes to errors.Is and errors.As.
func (e *PartialError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// FailedPaths returns the paths that failed, in input order.
func (e *PartialError) FailedPaths() []string {
	paths := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		paths[i] = f.Path
	}
	return paths
}
