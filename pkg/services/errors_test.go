package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestServiceError(t *testing.T) {
	err := NewValidationError("Save", "INVALID_DEFINITION", "name is required", ErrInvalidDefinition)

	assert.Equal(t, "Save: name is required", err.Error())
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	var serviceErr *ServiceError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &serviceErr))
	assert.Equal(t, "INVALID_DEFINITION", serviceErr.Code)

	bare := &ServiceError{Op: "Cancel", Err: ErrExecutionFinished}
	assert.Equal(t, "Cancel: execution already finished", bare.Error())
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		conflict   bool
		notFound   bool
	}{
		{name: "empty workspace", err: ErrEmptyWorkspaceID, validation: true},
		{name: "invalid status", err: NewValidationError("List", "INVALID_STATUS", "bad", ErrInvalidStatus), validation: true},
		{name: "finished", err: NewConflictError("Cancel", "EXECUTION_FINISHED", "done", ErrExecutionFinished), conflict: true},
		{name: "resolved", err: ErrDeadLetterResolved, conflict: true},
		{name: "not replayable", err: ErrNotReplayable, conflict: true},
		{name: "definition missing", err: persistence.NewDefinitionError("GetByID", "d-1", persistence.ErrDefinitionNotFound), notFound: true},
		{name: "execution missing", err: persistence.NewExecutionError("GetByID", "e-1", persistence.ErrExecutionNotFound), notFound: true},
		{name: "other", err: errors.New("disk full")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidationError(tt.err))
			assert.Equal(t, tt.conflict, IsConflictError(tt.err))
			assert.Equal(t, tt.notFound, IsNotFoundError(tt.err))
		})
	}
}
