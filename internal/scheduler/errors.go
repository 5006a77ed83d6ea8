package scheduler

import (
	"errors"
	"fmt"
)

// UnknownHandleError indicates an operation referenced a handle name with no
// registered scheduling state.
type UnknownHandleError struct {
	Name string
}

func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("unknown handle %q: no scheduling state registered", e.Name)
}

// AlreadyRegisteredError indicates Register was called twice for a live name.
type AlreadyRegisteredError struct {
	Name string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("handle %q is already registered", e.Name)
}

// HandleBusyError indicates Unregister was refused because the handle still
// has a transaction in progress or entries queued.
type HandleBusyError struct {
	Name    string
	Pending int // queued entries, not counting the one in progress
}

func (e *HandleBusyError) Error() string {
	return fmt.Sprintf("handle %q is busy: %d pending transaction(s)", e.Name, e.Pending)
}

// TransactionFinalizedError indicates execute was called on a transaction
// context after it committed or rolled back. Finalization is one-way: a
// context never leaves its terminal state.
type TransactionFinalizedError struct {
	Handle string
	Token  string
	State  State
}

func (e *TransactionFinalizedError) Error() string {
	return fmt.Sprintf("transaction %s on %q is finalized (%s): no further statements allowed", e.Token, e.Handle, e.State)
}

// IsUnknownHandle returns true if the error is an UnknownHandleError.
// Uses errors.As to handle wrapped errors.
func IsUnknownHandle(err error) bool {
	var ue *UnknownHandleError
	return errors.As(err, &ue)
}

// IsAlreadyRegistered returns true if the error is an AlreadyRegisteredError.
func IsAlreadyRegistered(err error) bool {
	var ae *AlreadyRegisteredError
	return errors.As(err, &ae)
}

// IsHandleBusy returns true if the error is a HandleBusyError.
func IsHandleBusy(err error) bool {
	var be *HandleBusyError
	return errors.As(err, &be)
}

// IsFinalized returns true if the error is a TransactionFinalizedError.
func IsFinalized(err error) bool {
	var fe *TransactionFinalizedError
	return errors.As(err, &fe)
}
