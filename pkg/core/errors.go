// Package core provides the shared data model, configuration and errors for
// profile change detection, plus the data-source contract the monitor
// consumes.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrFetchFailed indicates that the data source could not retrieve the
	// subject's data. The run is skipped; persisted state stays untouched.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrLoginRequired indicates that the requested data is login-gated and
	// no authenticated session was available. Surfaced distinctly so callers
	// can report reduced functionality instead of failure.
	ErrLoginRequired = errors.New("login required")

	// ErrSchemaMismatch indicates a persisted record from an incompatible
	// schema version. Readers recover by best-effort field extraction.
	ErrSchemaMismatch = errors.New("schema version mismatch")

	// ErrQueueIntegrity indicates a queue lifecycle violation: a duplicate
	// username detected at load time (the loader merges duplicates and
	// keeps the higher-priority entry), or a completion reported for an
	// entry that was never selected for processing.
	ErrQueueIntegrity = errors.New("queue integrity violation")

	// ErrIncompleteFriends indicates a friends snapshot whose fetch did not
	// succeed; the analyzer refuses to treat it as "everyone left".
	ErrIncompleteFriends = errors.New("incomplete friends snapshot")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("not found")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")
)

// MonitorError wraps errors with operation context.
//
// It records which operation failed so error messages carry enough context
// for debugging a stateless invocation after the fact.
type MonitorError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "profilewatch: <Op>: <Err>"
func (e *MonitorError) Error() string {
	return fmt.Sprintf("profilewatch: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with MonitorError.
func (e *MonitorError) Unwrap() error {
	return e.Err
}

// NewMonitorError creates a new MonitorError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMonitorError("Run", err)
//	}
func NewMonitorError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MonitorError{
		Op:  op,
		Err: err,
	}
}
