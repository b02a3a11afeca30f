// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found by the given identifier.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrVersionNotFound indicates no snapshot exists for the requested definition version.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionConflict indicates the execution was modified since it was read.
	ErrExecutionConflict = errors.New("execution was modified concurrently")

	// ErrStepNotFound indicates no step exists for the execution, node and branch.
	ErrStepNotFound = errors.New("execution step not found")

	// ErrStepConflict indicates the step left the status a transition expected.
	ErrStepConflict = errors.New("execution step was modified concurrently")

	// ErrSubscriptionNotFound indicates an event subscription was not found.
	ErrSubscriptionNotFound = errors.New("event subscription not found")

	// ErrDeadLetterNotFound indicates a dead letter was not found.
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	// ErrDeadLetterExists indicates the execution already has a dead letter.
	ErrDeadLetterExists = errors.New("dead letter already exists for execution")
)

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op           string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	DefinitionID string // Definition ID if applicable
	Version      int    // Snapshot version if applicable
	Err          error  // Underlying error
}

func (e *DefinitionError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for definition %s version %d: %v", e.Op, e.DefinitionID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for definition errors.
func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, definitionID string, err error) *DefinitionError {
	return &DefinitionError{
		Op:           op,
		DefinitionID: definitionID,
		Err:          err,
	}
}

// NewVersionError creates a new definition error for snapshot operations.
func NewVersionError(op, definitionID string, version int, err error) *DefinitionError {
	return &DefinitionError{
		Op:           op,
		DefinitionID: definitionID,
		Version:      version,
		Err:          err,
	}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed
	ExecutionID string // Execution ID
	NodeID      string // Node ID for step operations
	Err         error  // Underlying error
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s operation failed for node %s in execution %s: %v", e.Op, e.NodeID, e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// NewStepError creates a new execution error for step operations.
func NewStepError(op, executionID, nodeID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Err:         err,
	}
}

// RecordError wraps subscription and dead letter errors.
type RecordError struct {
	Op       string // Operation being performed
	Record   string // Record kind, "subscription" or "dead letter"
	RecordID string // Record ID or execution ID
	Err      error  // Underlying error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Record, e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewSubscriptionError(op, id string, err error) *RecordError {
	return &RecordError{Op: op, Record: "subscription", RecordID: id, Err: err}
}

func NewDeadLetterError(op, id string, err error) *RecordError {
	return &RecordError{Op: op, Record: "dead letter", RecordID: id, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsVersionNotFound checks if an error indicates a definition snapshot was not found.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsExecutionConflict checks if an error indicates a lost optimistic update.
func IsExecutionConflict(err error) bool {
	return errors.Is(err, ErrExecutionConflict)
}

func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

// IsStepConflict checks if an error indicates a lost conditional step transition.
func IsStepConflict(err error) bool {
	return errors.Is(err, ErrStepConflict)
}

func IsSubscriptionNotFound(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound)
}

func IsDeadLetterNotFound(err error) bool {
	return errors.Is(err, ErrDeadLetterNotFound)
}

func IsDeadLetterExists(err error) bool {
	return errors.Is(err, ErrDeadLetterExists)
}
