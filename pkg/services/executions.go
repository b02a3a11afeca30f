package services

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/workflow"
)

type Executions struct {
	persistence persistence.Persistence
	executor    *workflow.Executor
}

func NewExecutions(persistence persistence.Persistence, executor *workflow.Executor) *Executions {
	return &Executions{
		persistence: persistence,
		executor:    executor,
	}
}

// ListExecutionsRequest contains options for listing executions.
type ListExecutionsRequest struct {
	WorkspaceID  string
	DefinitionID string
	Status       models.ExecutionStatus
	Limit        int
}

func (e *Executions) List(ctx context.Context, req ListExecutionsRequest) ([]*models.WorkflowExecution, error) {
	if req.WorkspaceID == "" {
		return nil, ErrEmptyWorkspaceID
	}

	if req.Status != "" && !slices.Contains([]models.ExecutionStatus{
		models.ExecutionStatusPending, models.ExecutionStatusRunning, models.ExecutionStatusPaused,
		models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusCancelled,
	}, req.Status) {
		return nil, NewValidationError("List", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", req.Status), ErrInvalidStatus)
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 50
	}

	return e.persistence.ExecutionRepository().List(ctx, persistence.ExecutionListOptions{
		WorkspaceID:  req.WorkspaceID,
		DefinitionID: req.DefinitionID,
		Status:       req.Status,
		Limit:        req.Limit,
	})
}

func (e *Executions) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, id)
}

// Steps returns the audit trail of an execution in creation order.
func (e *Executions) Steps(ctx context.Context, id string) ([]*models.WorkflowExecutionStep, error) {
	if _, err := e.persistence.ExecutionRepository().GetByID(ctx, id); err != nil {
		return nil, err
	}

	return e.persistence.StepRepository().ListByExecution(ctx, id)
}

func (e *Executions) Cancel(ctx context.Context, id, reason string) (*models.WorkflowExecution, error) {
	execution, err := e.executor.Cancel(ctx, id, reason)
	if errors.Is(err, workflow.ErrExecutionFinished) {
		return nil, NewConflictError("Cancel", "EXECUTION_FINISHED",
			fmt.Sprintf("execution is already %s", execution.Status), ErrExecutionFinished)
	}

	return execution, err
}
