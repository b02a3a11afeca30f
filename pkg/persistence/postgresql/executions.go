package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectExecution = `
	SELECT
		id
	  , workspace_id
	  , definition_id
	  , definition_version
	  , status
	  , current_node_id
	  , next_node_id
	  , context
	  , trigger_data
	  , resume_at
	  , wait_event_type
	  , wait_timeout_at
	  , next_run_at
	  , error
	  , error_node_id
	  , branches
	  , sequence
	  , replay_of
	  , revision
	  , created_at
	  , updated_at
	  , started_at
	  , completed_at
	FROM workflow_executions
`

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution                               models.WorkflowExecution
		executionContext, triggerData, branches []byte
		resumeAt, waitTimeoutAt, nextRunAt      sql.NullTime
		startedAt, completedAt                  sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkspaceID,
		&execution.DefinitionID,
		&execution.DefinitionVersion,
		&execution.Status,
		&execution.CurrentNodeID,
		&execution.NextNodeID,
		&executionContext,
		&triggerData,
		&resumeAt,
		&execution.WaitEventType,
		&waitTimeoutAt,
		&nextRunAt,
		&execution.Error,
		&execution.ErrorNodeID,
		&branches,
		&execution.Sequence,
		&execution.ReplayOf,
		&execution.Revision,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.ResumeAt = timePtr(resumeAt)
	execution.WaitTimeoutAt = timePtr(waitTimeoutAt)
	execution.NextRunAt = timePtr(nextRunAt)
	execution.StartedAt = timePtr(startedAt)
	execution.CompletedAt = timePtr(completedAt)

	if err := fromJSON(executionContext, &execution.Context); err != nil {
		return nil, err
	}

	if err := fromJSON(triggerData, &execution.TriggerData); err != nil {
		return nil, err
	}

	if err := fromJSON(branches, &execution.Branches); err != nil {
		return nil, err
	}

	return &execution, nil
}

func executionColumns(execution *models.WorkflowExecution) ([]any, error) {
	executionContext, err := toJSON(models.CopyMap(execution.Context))
	if err != nil {
		return nil, err
	}

	triggerData, err := toJSON(models.CopyMap(execution.TriggerData))
	if err != nil {
		return nil, err
	}

	branches := execution.Branches
	if branches == nil {
		branches = []*models.Branch{}
	}

	branchData, err := toJSON(branches)
	if err != nil {
		return nil, err
	}

	return []any{
		execution.ID,
		execution.WorkspaceID,
		execution.DefinitionID,
		execution.DefinitionVersion,
		execution.Status,
		execution.CurrentNodeID,
		execution.NextNodeID,
		executionContext,
		triggerData,
		nullTime(execution.ResumeAt),
		execution.WaitEventType,
		nullTime(execution.WaitTimeoutAt),
		nullTime(execution.NextRunAt),
		execution.Error,
		execution.ErrorNodeID,
		branchData,
		execution.Sequence,
		execution.ReplayOf,
		execution.Revision,
		execution.CreatedAt,
		execution.UpdatedAt,
		nullTime(execution.StartedAt),
		nullTime(execution.CompletedAt),
	}, nil
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	args, err := executionColumns(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workspace_id, definition_id, definition_version, status, current_node_id, next_node_id,
			context, trigger_data, resume_at, wait_event_type, wait_timeout_at, next_run_at, error,
			error_node_id, branches, sequence, replay_of, revision, created_at, updated_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx, selectExecution+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// Update writes the execution only if its stored revision still equals execution.Revision.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.UpdatedAt = time.Now().UTC()

	args, err := executionColumns(execution)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	query := `
		UPDATE workflow_executions SET
			workspace_id = $2,
			definition_id = $3,
			definition_version = $4,
			status = $5,
			current_node_id = $6,
			next_node_id = $7,
			context = $8,
			trigger_data = $9,
			resume_at = $10,
			wait_event_type = $11,
			wait_timeout_at = $12,
			next_run_at = $13,
			error = $14,
			error_node_id = $15,
			branches = $16,
			sequence = $17,
			replay_of = $18,
			revision = revision + 1,
			created_at = $20,
			updated_at = $21,
			started_at = $22,
			completed_at = $23
		WHERE id = $1 AND revision = $19
	`

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM workflow_executions WHERE id = $1)", execution.ID).Scan(&exists)
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionConflict)
	}

	execution.Revision++

	return nil
}

func (r *ExecutionRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	query := selectExecution + `
		WHERE (status IN ('pending', 'running') AND next_run_at <= $1)
		   OR (status = 'paused' AND resume_at <= $1)
		ORDER BY COALESCE(CASE WHEN status = 'paused' THEN resume_at ELSE next_run_at END, created_at)
		LIMIT $2
	`

	return r.query(ctx, "FindDue", query, now, limit)
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ExecutionListOptions) ([]*models.WorkflowExecution, error) {
	var (
		conditions []string
		args       []any
	)

	add := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if opts.WorkspaceID != "" {
		add("workspace_id", opts.WorkspaceID)
	}

	if opts.DefinitionID != "" {
		add("definition_id", opts.DefinitionID)
	}

	if opts.Status != "" {
		add("status", string(opts.Status))
	}

	query := selectExecution
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.query(ctx, "List", query, args...)
}

func (r *ExecutionRepository) query(ctx context.Context, op, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewExecutionError(op, "", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewExecutionError(op, "", fmt.Errorf("failed to scan execution: %w", err))
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewExecutionError(op, "", err)
	}

	return executions, nil
}
