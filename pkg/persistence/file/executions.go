package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	fp *Persistence
}

func (er *ExecutionRepository) file(id string) string {
	return er.fp.path("executions", id+".json")
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	er.fp.mu.Lock()
	defer er.fp.mu.Unlock()

	if _, err := readRecord[models.WorkflowExecution](er.file(execution.ID)); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("execution %s already exists", execution.ID))
	}

	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	if err := writeRecord(er.file(execution.ID), execution); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	execution, err := readRecord[models.WorkflowExecution](er.file(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// Update writes execution when the stored revision matches execution.Revision
// and advances the revision on success.
func (er *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	er.fp.mu.Lock()
	defer er.fp.mu.Unlock()

	stored, err := readRecord[models.WorkflowExecution](er.file(execution.ID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if stored.Revision != execution.Revision {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionConflict)
	}

	execution.Revision++
	execution.UpdatedAt = time.Now().UTC()

	if err := writeRecord(er.file(execution.ID), execution); err != nil {
		execution.Revision--

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) FindDue(_ context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	all, err := readRecords[models.WorkflowExecution](er.fp.path("executions"))
	if err != nil {
		return nil, persistence.NewExecutionError("FindDue", "", err)
	}

	due := make([]*models.WorkflowExecution, 0)

	for _, execution := range all {
		if dueAt, ok := persistence.DueAt(execution); ok && !dueAt.After(now) {
			due = append(due, execution)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, _ := persistence.DueAt(due[i])
		b, _ := persistence.DueAt(due[j])

		return a.Before(b)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (er *ExecutionRepository) List(_ context.Context, opts persistence.ExecutionListOptions) ([]*models.WorkflowExecution, error) {
	all, err := readRecords[models.WorkflowExecution](er.fp.path("executions"))
	if err != nil {
		return nil, persistence.NewExecutionError("List", "", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(all))

	for _, execution := range all {
		if opts.WorkspaceID != "" && execution.WorkspaceID != opts.WorkspaceID {
			continue
		}

		if opts.DefinitionID != "" && execution.DefinitionID != opts.DefinitionID {
			continue
		}

		if opts.Status != "" && execution.Status != opts.Status {
			continue
		}

		executions = append(executions, execution)
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if opts.Limit > 0 && len(executions) > opts.Limit {
		executions = executions[:opts.Limit]
	}

	return executions, nil
}
