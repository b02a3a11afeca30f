package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectStep = `
	SELECT
		id
	  , execution_id
	  , node_id
	  , node_type
	  , branch_id
	  , status
	  , input_data
	  , output_data
	  , condition_result
	  , selected_branch
	  , retry_count
	  , max_retries
	  , next_retry_at
	  , error
	  , duration_ns
	  , started_at
	  , completed_at
	  , created_at
	  , updated_at
	FROM workflow_execution_steps
`

func scanStep(row rowScanner) (*models.WorkflowExecutionStep, error) {
	var (
		step                                models.WorkflowExecutionStep
		inputData, outputData               []byte
		conditionResult                     sql.NullBool
		nextRetryAt, startedAt, completedAt sql.NullTime
		duration                            int64
	)

	err := row.Scan(
		&step.ID,
		&step.ExecutionID,
		&step.NodeID,
		&step.NodeType,
		&step.BranchID,
		&step.Status,
		&inputData,
		&outputData,
		&conditionResult,
		&step.SelectedBranch,
		&step.RetryCount,
		&step.MaxRetries,
		&nextRetryAt,
		&step.Error,
		&duration,
		&startedAt,
		&completedAt,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conditionResult.Valid {
		step.ConditionResult = &conditionResult.Bool
	}

	step.Duration = time.Duration(duration)
	step.NextRetryAt = timePtr(nextRetryAt)
	step.StartedAt = timePtr(startedAt)
	step.CompletedAt = timePtr(completedAt)

	if err := fromJSON(inputData, &step.InputData); err != nil {
		return nil, err
	}

	if err := fromJSON(outputData, &step.OutputData); err != nil {
		return nil, err
	}

	return &step, nil
}

// Save inserts or replaces the step of (execution, node, branch).
func (r *StepRepository) Save(ctx context.Context, step *models.WorkflowExecutionStep) error {
	now := time.Now().UTC()
	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}

	step.UpdatedAt = now

	inputData, err := toJSON(step.InputData)
	if err != nil {
		return persistence.NewStepError("Save", step.ExecutionID, step.NodeID, err)
	}

	outputData, err := toJSON(step.OutputData)
	if err != nil {
		return persistence.NewStepError("Save", step.ExecutionID, step.NodeID, err)
	}

	var conditionResult sql.NullBool
	if step.ConditionResult != nil {
		conditionResult = sql.NullBool{Bool: *step.ConditionResult, Valid: true}
	}

	query := `
		INSERT INTO workflow_execution_steps (
			id, execution_id, node_id, node_type, branch_id, status, input_data, output_data,
			condition_result, selected_branch, retry_count, max_retries, next_retry_at, error,
			duration_ns, started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (execution_id, node_id, branch_id) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			status = EXCLUDED.status,
			input_data = EXCLUDED.input_data,
			output_data = EXCLUDED.output_data,
			condition_result = EXCLUDED.condition_result,
			selected_branch = EXCLUDED.selected_branch,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			next_retry_at = EXCLUDED.next_retry_at,
			error = EXCLUDED.error,
			duration_ns = EXCLUDED.duration_ns,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		step.ID,
		step.ExecutionID,
		step.NodeID,
		step.NodeType,
		step.BranchID,
		step.Status,
		inputData,
		outputData,
		conditionResult,
		step.SelectedBranch,
		step.RetryCount,
		step.MaxRetries,
		nullTime(step.NextRetryAt),
		step.Error,
		int64(step.Duration),
		nullTime(step.StartedAt),
		nullTime(step.CompletedAt),
		step.CreatedAt,
		step.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStepError("Save", step.ExecutionID, step.NodeID, err)
	}

	return nil
}

// Transition updates the step of (execution, node, branch) only while its
// stored status is from.
func (r *StepRepository) Transition(ctx context.Context, step *models.WorkflowExecutionStep, from models.StepStatus) error {
	step.UpdatedAt = time.Now().UTC()

	outputData, err := toJSON(step.OutputData)
	if err != nil {
		return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, err)
	}

	var conditionResult sql.NullBool
	if step.ConditionResult != nil {
		conditionResult = sql.NullBool{Bool: *step.ConditionResult, Valid: true}
	}

	query := `
		UPDATE workflow_execution_steps SET
			status = $4,
			output_data = $5,
			condition_result = $6,
			selected_branch = $7,
			retry_count = $8,
			next_retry_at = $9,
			error = $10,
			duration_ns = $11,
			completed_at = $12,
			updated_at = $13
		WHERE execution_id = $1 AND node_id = $2 AND branch_id = $3 AND status = $14
	`

	result, err := r.db.ExecContext(ctx, query,
		step.ExecutionID,
		step.NodeID,
		step.BranchID,
		step.Status,
		outputData,
		conditionResult,
		step.SelectedBranch,
		step.RetryCount,
		nullTime(step.NextRetryAt),
		step.Error,
		int64(step.Duration),
		nullTime(step.CompletedAt),
		step.UpdatedAt,
		from,
	)
	if err != nil {
		return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, err)
	}

	if affected == 0 {
		return persistence.NewStepError("Transition", step.ExecutionID, step.NodeID, persistence.ErrStepConflict)
	}

	return nil
}

func (r *StepRepository) Get(ctx context.Context, executionID, nodeID, branchID string) (*models.WorkflowExecutionStep, error) {
	row := r.db.QueryRowContext(ctx, selectStep+" WHERE execution_id = $1 AND node_id = $2 AND branch_id = $3", executionID, nodeID, branchID)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStepError("Get", executionID, nodeID, persistence.ErrStepNotFound)
		}

		return nil, persistence.NewStepError("Get", executionID, nodeID, err)
	}

	return step, nil
}

func (r *StepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowExecutionStep, error) {
	rows, err := r.db.QueryContext(ctx, selectStep+" WHERE execution_id = $1 ORDER BY created_at, id", executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("ListSteps", executionID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.WorkflowExecutionStep, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, persistence.NewExecutionError("ListSteps", executionID, err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewExecutionError("ListSteps", executionID, err)
	}

	return steps, nil
}
