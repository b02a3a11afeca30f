package file

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// StepRepository stores steps under steps/{execution}/{node}@{branch}.json.
type StepRepository struct {
	fp *Persistence
}

func (sr *StepRepository) file(executionID, nodeID, branchID string) (string, error) {
	for _, id := range []string{executionID, nodeID, branchID} {
		if err := validateID(id); err != nil {
			return "", err
		}
	}

	return sr.fp.path("steps", executionID, nodeID+"@"+branchID+".json"), nil
}

// Save inserts or replaces the step of (execution, node, branch).
func (sr *StepRepository) Save(_ context.Context, step *models.WorkflowExecutionStep) error {
	path, err := sr.file(step.ExecutionID, step.NodeID, step.BranchID)
	if err != nil {
		return persistence.NewStepError("Save", step.ExecutionID, step.NodeID, err)
	}

	sr.fp.mu.Lock()
	defer sr.fp.mu.Unlock()

	now := time.Now().UTC()
	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}

	step.UpdatedAt = now

	if err := writeRecord(path, step); err != nil {
		return persistence.NewStepError("Save", step.ExecutionID, step.NodeID, err)
	}

	return nil
}

// Transition replaces the stored step only while it is still in status from.
func (sr *StepRepository) Transition(_ context.Context, step *models.WorkflowExecutionStep, from models.StepStatus) error {
	path, err := sr.file(step.ExecutionID, step.NodeID, step.BranchID)
	if err != nil {
		return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, err)
	}

	sr.fp.mu.Lock()
	defer sr.fp.mu.Unlock()

	stored, err := readRecord[models.WorkflowExecutionStep](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, persistence.ErrStepConflict)
		}

		return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, err)
	}

	if stored.Status != from {
		return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, persistence.ErrStepConflict)
	}

	step.CreatedAt = stored.CreatedAt
	step.UpdatedAt = time.Now().UTC()

	if err := writeRecord(path, step); err != nil {
		return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, err)
	}

	return nil
}

func (sr *StepRepository) Get(_ context.Context, executionID, nodeID, branchID string) (*models.WorkflowExecutionStep, error) {
	path, err := sr.file(executionID, nodeID, branchID)
	if err != nil {
		return nil, persistence.NewStepError("Get", executionID, nodeID, err)
	}

	step, err := readRecord[models.WorkflowExecutionStep](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewStepError("Get", executionID, nodeID, persistence.ErrStepNotFound)
		}

		return nil, persistence.NewStepError("Get", executionID, nodeID, err)
	}

	return step, nil
}

func (sr *StepRepository) ListByExecution(_ context.Context, executionID string) ([]*models.WorkflowExecutionStep, error) {
	if err := validateID(executionID); err != nil {
		return nil, persistence.NewExecutionError("ListSteps", executionID, err)
	}

	steps, err := readRecords[models.WorkflowExecutionStep](sr.fp.path("steps", executionID))
	if err != nil {
		return nil, persistence.NewExecutionError("ListSteps", executionID, err)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].CreatedAt.Equal(steps[j].CreatedAt) {
			return steps[i].ID < steps[j].ID
		}

		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})

	return steps, nil
}
