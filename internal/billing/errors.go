package billing

import "errors"

// Sentinel errors returned by the billing service. Callers branch with
// errors.Is; wrapped messages carry the offending detail.
var (
	// ErrValidation covers malformed or out-of-domain input.
	ErrValidation = errors.New("billing: validation failed")

	// ErrStateConflict covers operations forbidden by the document's
	// current lifecycle or payment state.
	ErrStateConflict = errors.New("billing: state conflict")

	// ErrExerciseClosed blocks any transition into VALIDATED when the
	// target fiscal exercise is not open.
	ErrExerciseClosed = errors.New("billing: fiscal exercise closed")

	// ErrConcurrency signals a retryable serialization or uniqueness
	// collision between concurrent transactions.
	ErrConcurrency = errors.New("billing: concurrent conflict, retry")

	// ErrNotFound signals a missing document, line or counterpart.
	ErrNotFound = errors.New("billing: not found")
)
