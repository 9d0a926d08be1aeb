package driver

import "errors"

var (
	// ErrNotFound is returned by Update (and surfaced by the facade) when
	// the target document does not exist.
	ErrNotFound = errors.New("prism: document not found")

	// ErrConflict is returned when a transaction could not commit because of
	// concurrent modification, after the driver's own retries are exhausted.
	ErrConflict = errors.New("prism: transaction conflict")

	// ErrUnsupported is returned when a sentinel or query operator is
	// outside the backend's capability set.
	ErrUnsupported = errors.New("prism: operation not supported by backend")
)
