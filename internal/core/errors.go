package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is the only error that fails a run outright.
	ErrUserNotFound = errors.New("user not found")

	ErrExternalFetch = errors.New("external fetch failed")
	ErrGeneration    = errors.New("reply generation failed")
	ErrPublish       = errors.New("reply publish failed")

	// ErrQuotaExceeded marks rate-limit responses from Google APIs. It is the
	// only retryable class.
	ErrQuotaExceeded = errors.New("quota exceeded")

	ErrInvalidSettings = errors.New("invalid settings")
	ErrRunInProgress   = errors.New("automation run already in progress")
)

// Error attaches a failure kind and the operation that failed to an
// underlying error. errors.Is matches both the kind and anything wrapped.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsQuotaExceeded reports whether err should be retried with backoff.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// ValidationError lists every problem found in a settings payload.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidSettings, e.Problems)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidSettings
}
