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
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code raised by a duplicate execution_id.
const uniqueViolation = "23505"

type DeadLetterRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectDeadLetter = `
	SELECT
		id
	  , workspace_id
	  , execution_id
	  , definition_id
	  , step_id
	  , node_id
	  , node_type
	  , branch_id
	  , error_type
	  , error_message
	  , retry_count
	  , input_data
	  , execution_context
	  , status
	  , resolved_at
	  , resolved_by
	  , resolution_notes
	  , replay_execution_id
	  , created_at
	FROM workflow_dead_letters
`

func scanDeadLetter(row rowScanner) (*models.WorkflowDeadLetter, error) {
	var (
		deadLetter                  models.WorkflowDeadLetter
		inputData, executionContext []byte
		resolvedAt                  sql.NullTime
	)

	err := row.Scan(
		&deadLetter.ID,
		&deadLetter.WorkspaceID,
		&deadLetter.ExecutionID,
		&deadLetter.DefinitionID,
		&deadLetter.StepID,
		&deadLetter.NodeID,
		&deadLetter.NodeType,
		&deadLetter.BranchID,
		&deadLetter.ErrorType,
		&deadLetter.ErrorMessage,
		&deadLetter.RetryCount,
		&inputData,
		&executionContext,
		&deadLetter.Status,
		&resolvedAt,
		&deadLetter.ResolvedBy,
		&deadLetter.ResolutionNotes,
		&deadLetter.ReplayExecutionID,
		&deadLetter.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	deadLetter.ResolvedAt = timePtr(resolvedAt)

	if err := fromJSON(inputData, &deadLetter.InputData); err != nil {
		return nil, err
	}

	if err := fromJSON(executionContext, &deadLetter.ExecutionContext); err != nil {
		return nil, err
	}

	return &deadLetter, nil
}

func (r *DeadLetterRepository) Create(ctx context.Context, deadLetter *models.WorkflowDeadLetter) error {
	if deadLetter.CreatedAt.IsZero() {
		deadLetter.CreatedAt = time.Now().UTC()
	}

	inputData, err := toJSON(deadLetter.InputData)
	if err != nil {
		return persistence.NewDeadLetterError("Create", deadLetter.ID, err)
	}

	executionContext, err := toJSON(deadLetter.ExecutionContext)
	if err != nil {
		return persistence.NewDeadLetterError("Create", deadLetter.ID, err)
	}

	query := `
		INSERT INTO workflow_dead_letters (
			id, workspace_id, execution_id, definition_id, step_id, node_id, node_type, branch_id,
			error_type, error_message, retry_count, input_data, execution_context, status,
			resolved_at, resolved_by, resolution_notes, replay_execution_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = r.db.ExecContext(ctx, query,
		deadLetter.ID,
		deadLetter.WorkspaceID,
		deadLetter.ExecutionID,
		deadLetter.DefinitionID,
		deadLetter.StepID,
		deadLetter.NodeID,
		deadLetter.NodeType,
		deadLetter.BranchID,
		deadLetter.ErrorType,
		deadLetter.ErrorMessage,
		deadLetter.RetryCount,
		inputData,
		executionContext,
		deadLetter.Status,
		nullTime(deadLetter.ResolvedAt),
		deadLetter.ResolvedBy,
		deadLetter.ResolutionNotes,
		deadLetter.ReplayExecutionID,
		deadLetter.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && strings.Contains(pqErr.Constraint, "execution_id") {
			return persistence.NewDeadLetterError("Create", deadLetter.ExecutionID, persistence.ErrDeadLetterExists)
		}

		return persistence.NewDeadLetterError("Create", deadLetter.ID, err)
	}

	return nil
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDeadLetter, error) {
	return r.get(ctx, "GetByID", "id", id)
}

func (r *DeadLetterRepository) GetByExecution(ctx context.Context, executionID string) (*models.WorkflowDeadLetter, error) {
	return r.get(ctx, "GetByExecution", "execution_id", executionID)
}

func (r *DeadLetterRepository) get(ctx context.Context, op, column, value string) (*models.WorkflowDeadLetter, error) {
	deadLetter, err := scanDeadLetter(r.db.QueryRowContext(ctx, selectDeadLetter+" WHERE "+column+" = $1", value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDeadLetterError(op, value, persistence.ErrDeadLetterNotFound)
		}

		return nil, persistence.NewDeadLetterError(op, value, err)
	}

	return deadLetter, nil
}

// Update writes the resolution fields of a dead letter.
func (r *DeadLetterRepository) Update(ctx context.Context, deadLetter *models.WorkflowDeadLetter) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_dead_letters
		SET status = $2, resolved_at = $3, resolved_by = $4, resolution_notes = $5, replay_execution_id = $6
		WHERE id = $1
	`,
		deadLetter.ID,
		deadLetter.Status,
		nullTime(deadLetter.ResolvedAt),
		deadLetter.ResolvedBy,
		deadLetter.ResolutionNotes,
		deadLetter.ReplayExecutionID,
	)
	if err != nil {
		return persistence.NewDeadLetterError("Update", deadLetter.ID, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return persistence.NewDeadLetterError("Update", deadLetter.ID, persistence.ErrDeadLetterNotFound)
	}

	return nil
}

func (r *DeadLetterRepository) List(ctx context.Context, opts persistence.DeadLetterListOptions) ([]*models.WorkflowDeadLetter, error) {
	var (
		conditions []string
		args       []any
	)

	if opts.WorkspaceID != "" {
		args = append(args, opts.WorkspaceID)
		conditions = append(conditions, fmt.Sprintf("workspace_id = $%d", len(args)))
	}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := selectDeadLetter
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewDeadLetterError("List", opts.WorkspaceID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	deadLetters := make([]*models.WorkflowDeadLetter, 0)

	for rows.Next() {
		deadLetter, err := scanDeadLetter(rows)
		if err != nil {
			return nil, persistence.NewDeadLetterError("List", opts.WorkspaceID, err)
		}

		deadLetters = append(deadLetters, deadLetter)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewDeadLetterError("List", opts.WorkspaceID, err)
	}

	return deadLetters, nil
}
