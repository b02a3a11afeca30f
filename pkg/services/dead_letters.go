package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/workflow"
)

// DeadLetters lets operators resolve permanently failed executions.
type DeadLetters struct {
	persistence persistence.Persistence
	executor    *workflow.Executor
	now         func() time.Time
}

func NewDeadLetters(persistence persistence.Persistence, executor *workflow.Executor) *DeadLetters {
	return &DeadLetters{
		persistence: persistence,
		executor:    executor,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ListDeadLettersRequest contains options for listing dead letters.
type ListDeadLettersRequest struct {
	WorkspaceID string
	Status      models.DeadLetterStatus
	Limit       int
}

func (d *DeadLetters) List(ctx context.Context, req ListDeadLettersRequest) ([]*models.WorkflowDeadLetter, error) {
	if req.WorkspaceID == "" {
		return nil, ErrEmptyWorkspaceID
	}

	switch req.Status {
	case "", models.DeadLetterStatusPending, models.DeadLetterStatusResolved, models.DeadLetterStatusIgnored:
	default:
		return nil, NewValidationError("List", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", req.Status), ErrInvalidStatus)
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 50
	}

	return d.persistence.DeadLetterRepository().List(ctx, persistence.DeadLetterListOptions{
		WorkspaceID: req.WorkspaceID,
		Status:      req.Status,
		Limit:       req.Limit,
	})
}

func (d *DeadLetters) Get(ctx context.Context, id string) (*models.WorkflowDeadLetter, error) {
	return d.persistence.DeadLetterRepository().GetByID(ctx, id)
}

// Retry resolves a pending dead letter by starting a replay execution from
// the failed node. The failed execution stays terminal.
func (d *DeadLetters) Retry(ctx context.Context, id, resolvedBy, notes string) (*models.WorkflowDeadLetter, *models.WorkflowExecution, error) {
	letter, err := d.pending(ctx, "Retry", id)
	if err != nil {
		return nil, nil, err
	}

	replay, err := d.executor.Replay(ctx, letter)
	if err != nil {
		if protocol.KindOf(err) == protocol.KindValidation {
			return nil, nil, NewConflictError("Retry", "NOT_REPLAYABLE", err.Error(), ErrNotReplayable)
		}

		return nil, nil, err
	}

	letter.ReplayExecutionID = replay.ID

	if err := d.resolve(ctx, letter, models.DeadLetterStatusResolved, resolvedBy, notes); err != nil {
		return nil, nil, err
	}

	return letter, replay, nil
}

// Ignore closes a pending dead letter without replaying it.
func (d *DeadLetters) Ignore(ctx context.Context, id, resolvedBy, notes string) (*models.WorkflowDeadLetter, error) {
	letter, err := d.pending(ctx, "Ignore", id)
	if err != nil {
		return nil, err
	}

	if err := d.resolve(ctx, letter, models.DeadLetterStatusIgnored, resolvedBy, notes); err != nil {
		return nil, err
	}

	return letter, nil
}

func (d *DeadLetters) pending(ctx context.Context, op, id string) (*models.WorkflowDeadLetter, error) {
	letter, err := d.persistence.DeadLetterRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if letter.Status != models.DeadLetterStatusPending {
		return nil, NewConflictError(op, "DEAD_LETTER_RESOLVED",
			fmt.Sprintf("dead letter is already %s", letter.Status), ErrDeadLetterResolved)
	}

	return letter, nil
}

func (d *DeadLetters) resolve(ctx context.Context, letter *models.WorkflowDeadLetter, status models.DeadLetterStatus, resolvedBy, notes string) error {
	now := d.now()
	letter.Status = status
	letter.ResolvedAt = &now
	letter.ResolvedBy = resolvedBy
	letter.ResolutionNotes = notes

	if err := d.persistence.DeadLetterRepository().Update(ctx, letter); err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", err)
	}

	return nil
}
