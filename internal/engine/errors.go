package engine

import (
	"errors"
	"fmt"
)

// NotOpenError indicates an operation referenced a handle name that is not
// currently open in this facade.
type NotOpenError struct {
	Name string
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("handle %q is not open", e.Name)
}

// AlreadyOpenError indicates Open was called twice for a live handle name.
type AlreadyOpenError struct {
	Name string
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("handle %q is already open", e.Name)
}

// EngineError wraps a failure surfaced by the underlying SQLite driver.
// The core treats it as opaque and propagates it as-is.
type EngineError struct {
	Op     string // "open", "exec", "attach", ...
	Handle string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s on %q: %v", e.Op, e.Handle, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsNotOpen returns true if the error is a NotOpenError.
// Uses errors.As to handle wrapped errors.
func IsNotOpen(err error) bool {
	var ne *NotOpenError
	return errors.As(err, &ne)
}

// IsAlreadyOpen returns true if the error is an AlreadyOpenError.
func IsAlreadyOpen(err error) bool {
	var ae *AlreadyOpenError
	return errors.As(err, &ae)
}

// newEngineError wraps a driver error with operation context.
func newEngineError(op, handle string, err error) *EngineError {
	return &EngineError{Op: op, Handle: handle, Err: err}
}
