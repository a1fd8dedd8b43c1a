package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed or incomplete input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when the actor may not act on the request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a request or employee does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when the request status forbids the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrRoutingDeadEnd marks a routing rule whose required role has no holder.
	// The engine logs it and approves the request terminally instead of failing.
	ErrRoutingDeadEnd = errors.New("routing dead end")

	// ErrConcurrentModification is returned when another transition committed first.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// UnauthorizedError records who tried to act and who was expected to.
type UnauthorizedError struct {
	ActorID  string
	Expected string
	Reason   string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unauthorized: %s: %s", e.ActorID, e.Reason)
	}
	return fmt.Sprintf("unauthorized: %s is not the current approver (expected %q)", e.ActorID, e.Expected)
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

// InvalidStateError reports the status that blocked an operation.
type InvalidStateError struct {
	Status    RequestStatus
	Operation string
	Message   string
}

func (e *InvalidStateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid state: %s", e.Message)
	}
	return fmt.Sprintf("invalid state: cannot %s a request in status %s", e.Operation, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// IsClientError returns true if the error is caused by the caller's input or timing.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the operation may succeed when repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
