package errors

import (
	"errors"
	"fmt"
)

var (
	// Payment intent errors
	ErrPaymentIntentNotFound  = errors.New("payment intent not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConcurrentAccess means the provider confirmed a capture but the local
	// record moved underneath us. Requires manual reconciliation.
	ErrConcurrentAccess = errors.New("payment intent concurrent access")

	// Provider errors
	ErrProviderNotFound = errors.New("payment provider not found")
	ErrProviderRejected = errors.New("payment rejected by provider")
	ErrProviderTimeout  = errors.New("provider request timeout")

	// Worker pool errors
	ErrPoolSaturated = errors.New("worker pool saturated")
	ErrPoolShutDown  = errors.New("worker pool shut down")
	ErrTaskCancelled = errors.New("task cancelled before start")

	// Lock errors
	ErrLockNotHeld = errors.New("lock not held")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsFatal reports whether err is a structural inconsistency that must reach
// the process boundary instead of being recovered locally.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConcurrentAccess)
}
