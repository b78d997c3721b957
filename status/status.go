// Package status defines the error kinds shared by the timer engine, the event
// loop and the client, plus the integer status encoding used at the edges where
// callers expect "negative on failure, non-negative on success".
package status

import "errors"

var (
	// ErrDuplicateRegistration is returned when a socket name or address is already bound.
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrResourceExhausted is returned when storage or OS resources cannot be obtained,
	// including when no free sequence number remains.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrNotFound is returned by lookups of an unknown or no longer live sequence or name.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for a zero server port, a nil callback or an
	// otherwise unusable parameter.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIOFailure is returned when the underlying send or receive fails.
	ErrIOFailure = errors.New("i/o failure")

	// ErrTimeout is returned by a client receive that saw no data before its deadline.
	ErrTimeout = errors.New("timeout")
)

// Integer status codes. Timeout is deliberately zero so that a timed out receive
// is distinguishable from a failure while still not being a positive byte count.
const (
	CodeOK                    = 0
	CodeTimeout               = 0
	CodeDuplicateRegistration = -1
	CodeResourceExhausted     = -2
	CodeNotFound              = -3
	CodeInvalidArgument       = -4
	CodeIOFailure             = -5
	CodeUnknown               = -99
)

// Code maps err onto the integer status encoding.
//
// Parameters:
//   - err: The error to classify; nil maps to CodeOK
//
// Returns:
//   - CodeOK or CodeTimeout (both 0), or a negative code for every other failure
func Code(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrDuplicateRegistration):
		return CodeDuplicateRegistration
	case errors.Is(err, ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrIOFailure):
		return CodeIOFailure
	default:
		return CodeUnknown
	}
}
