package tracker

import "errors"

// Error kinds are stable sentinels so callers can branch with errors.Is.
// Every failure path in this package wraps exactly one of them.
var (
	// ErrInvalidArgument marks malformed or missing required input. Always
	// detected before any store mutation is attempted.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a session or settings reference that resolves to
	// nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an illegal lifecycle transition. The session is
	// left unchanged.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict marks a uniqueness violation (duplicate screenshot
	// content id).
	ErrConflict = errors.New("conflict")

	// ErrStorageFailure marks a durable-store or object-store call that
	// failed or timed out. Not retried here; retry policy belongs to the
	// caller.
	ErrStorageFailure = errors.New("storage failure")
)
