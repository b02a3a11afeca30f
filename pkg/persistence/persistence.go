// Package persistence provides the data storage abstraction for definitions, executions and their audit trail.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// Persistence groups the repositories of a storage backend.
type Persistence interface {
	DefinitionRepository() DefinitionRepository
	ExecutionRepository() ExecutionRepository
	StepRepository() StepRepository
	SubscriptionRepository() SubscriptionRepository
	DeadLetterRepository() DeadLetterRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions and their version snapshots.
type DefinitionRepository interface {
	// Save inserts or replaces the definition.
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// List returns definitions of workspaceID, or of every workspace when it is empty.
	List(ctx context.Context, workspaceID string) ([]*models.WorkflowDefinition, error)
	ListPublished(ctx context.Context, workspaceID string) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error

	SaveVersion(ctx context.Context, version *models.WorkflowVersion) error
	// Versions returns the snapshots of a definition, newest first.
	Versions(ctx context.Context, definitionID string) ([]*models.WorkflowVersion, error)
	GetVersion(ctx context.Context, definitionID string, version int) (*models.WorkflowVersion, error)
	// PruneVersions keeps only the newest keep snapshots.
	PruneVersions(ctx context.Context, definitionID string, keep int) error
}

// ExecutionListOptions filters execution listings.
type ExecutionListOptions struct {
	WorkspaceID  string
	DefinitionID string
	Status       models.ExecutionStatus
	Limit        int
}

// ExecutionRepository stores executions. Update is guarded by the Revision
// field: a stale revision returns ErrExecutionConflict.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	Update(ctx context.Context, execution *models.WorkflowExecution) error
	// FindDue returns pending or running executions whose next_run_at has
	// passed and paused executions whose resume_at has passed.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error)
	List(ctx context.Context, opts ExecutionListOptions) ([]*models.WorkflowExecution, error)
}

// StepRepository stores one step per (execution, node, branch).
type StepRepository interface {
	Save(ctx context.Context, step *models.WorkflowExecutionStep) error
	// Transition saves step only while the stored step is in status from. It
	// returns ErrStepConflict when the step is missing or has moved on.
	Transition(ctx context.Context, step *models.WorkflowExecutionStep, from models.StepStatus) error
	Get(ctx context.Context, executionID, nodeID, branchID string) (*models.WorkflowExecutionStep, error)
	// ListByExecution returns the steps of an execution in creation order.
	ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowExecutionStep, error)
}

// SubscriptionRepository stores event waits.
type SubscriptionRepository interface {
	Create(ctx context.Context, subscription *models.WorkflowEventSubscription) error
	Update(ctx context.Context, subscription *models.WorkflowEventSubscription) error
	GetByID(ctx context.Context, id string) (*models.WorkflowEventSubscription, error)
	FindActiveByEventType(ctx context.Context, workspaceID, eventType string) ([]*models.WorkflowEventSubscription, error)
	FindActiveByExecution(ctx context.Context, executionID string) ([]*models.WorkflowEventSubscription, error)
	// FindExpired returns active subscriptions whose timeout has passed.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowEventSubscription, error)
	DeactivateByExecution(ctx context.Context, executionID string) error
}

// DeadLetterListOptions filters dead letter listings.
type DeadLetterListOptions struct {
	WorkspaceID string
	Status      models.DeadLetterStatus
	Limit       int
}

// DeadLetterRepository stores at most one dead letter per execution.
type DeadLetterRepository interface {
	// Create returns ErrDeadLetterExists when the execution already has one.
	Create(ctx context.Context, deadLetter *models.WorkflowDeadLetter) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDeadLetter, error)
	GetByExecution(ctx context.Context, executionID string) (*models.WorkflowDeadLetter, error)
	Update(ctx context.Context, deadLetter *models.WorkflowDeadLetter) error
	List(ctx context.Context, opts DeadLetterListOptions) ([]*models.WorkflowDeadLetter, error)
}

// DueAt returns when a live execution should next be advanced. Paused
// executions are due at resume_at; pending and running ones at next_run_at.
func DueAt(execution *models.WorkflowExecution) (time.Time, bool) {
	switch execution.Status {
	case models.ExecutionStatusPaused:
		if execution.ResumeAt != nil {
			return *execution.ResumeAt, true
		}
	case models.ExecutionStatusPending, models.ExecutionStatusRunning:
		if execution.NextRunAt != nil {
			return *execution.NextRunAt, true
		}
	}

	return time.Time{}, false
}
