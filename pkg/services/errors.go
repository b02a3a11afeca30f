// Package services provides the operations exposed to API clients: definition
// authoring and publishing, execution inspection and dead letter resolution.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrInvalidStatus     = errors.New("invalid status filter")
	ErrEmptyWorkspaceID  = errors.New("workspace ID cannot be empty")

	// Business Logic Conflicts (409 Conflict).
	ErrExecutionFinished  = errors.New("execution already finished")
	ErrDeadLetterResolved = errors.New("dead letter already resolved")
	ErrNotReplayable      = errors.New("dead letter cannot be replayed")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyWorkspaceID)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionFinished) ||
		errors.Is(err, ErrDeadLetterResolved) ||
		errors.Is(err, ErrNotReplayable)
}

// IsNotFoundError checks if an error reports a missing record and should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsDefinitionNotFound(err) ||
		persistence.IsVersionNotFound(err) ||
		persistence.IsExecutionNotFound(err) ||
		persistence.IsDeadLetterNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
