package persist

import "errors"

// Domain errors for the persist package.
//
// Every error returned by this package wraps exactly one of these sentinels,
// so callers can branch with errors.Is():
//
//	if errors.Is(err, persist.ErrNoResult) {
//	    // handle empty result
//	}
//
// Driver failures are wrapped with ErrPersistence and keep the original
// driver error in the chain, so errors.Is/errors.As reach both.
var (
	// ErrInvalidArgument is returned for malformed statement text or a parameter index below 1.
	ErrInvalidArgument = errors.New("persist: invalid argument")

	// ErrNullValue is returned when a required input (statement, parameter value,
	// data source, decoder) is nil.
	ErrNullValue = errors.New("persist: null value")

	// ErrIllegalState is returned when an operation is invoked out of order
	// (begin twice, commit without begin, persist without begin, results before execute).
	ErrIllegalState = errors.New("persist: illegal state")

	// ErrWrongStatementKind is returned when a read statement is used where a write
	// is expected, or vice versa.
	ErrWrongStatementKind = errors.New("persist: incorrect statement kind")

	// ErrNoResult is returned when a read statement produced zero rows.
	ErrNoResult = errors.New("persist: query did not return any results")

	// ErrNonUniqueResult is returned when a single result was requested but more
	// than one row was buffered.
	ErrNonUniqueResult = errors.New("persist: query returned more than one result")

	// ErrPersistence wraps any lower-level driver failure or entity decoding failure.
	ErrPersistence = errors.New("persist: persistence failure")

	// ErrUnsupported is returned for features that are intentionally not implemented.
	ErrUnsupported = errors.New("persist: unsupported operation")
)
