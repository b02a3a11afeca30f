package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/google/uuid"
)

// DefinitionRepository handles definition-related database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectDefinition = `
	SELECT
		id
	  , workspace_id
	  , name
	  , description
	  , nodes
	  , edges
	  , execution_order
	  , version
	  , is_published
	  , published_at
	  , retry_config
	  , notify_on_failure
	  , notify_recipients
	  , created_at
	  , updated_at
	FROM workflow_definitions
`

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition                                         models.WorkflowDefinition
		nodes, edges, order, retryConfig, notifyRecipients []byte
		publishedAt                                        sql.NullTime
	)

	err := row.Scan(
		&definition.ID,
		&definition.WorkspaceID,
		&definition.Name,
		&definition.Description,
		&nodes,
		&edges,
		&order,
		&definition.Version,
		&definition.IsPublished,
		&publishedAt,
		&retryConfig,
		&definition.NotifyOnFailure,
		&notifyRecipients,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	definition.PublishedAt = timePtr(publishedAt)

	for _, column := range []struct {
		data   []byte
		target any
	}{
		{nodes, &definition.Nodes},
		{edges, &definition.Edges},
		{order, &definition.ExecutionOrder},
		{retryConfig, &definition.RetryConfig},
		{notifyRecipients, &definition.NotifyRecipients},
	} {
		if err := fromJSON(column.data, column.target); err != nil {
			return nil, err
		}
	}

	return &definition, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	var columns [5][]byte

	for i, value := range []any{definition.Nodes, definition.Edges, definition.ExecutionOrder, definition.RetryConfig, definition.NotifyRecipients} {
		data, err := toJSON(value)
		if err != nil {
			return persistence.NewDefinitionError("Save", definition.ID, err)
		}

		columns[i] = data
	}

	query := `
		INSERT INTO workflow_definitions (
			id, workspace_id, name, description, nodes, edges, execution_order, version,
			is_published, published_at, retry_config, notify_on_failure, notify_recipients, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			execution_order = EXCLUDED.execution_order,
			version = EXCLUDED.version,
			is_published = EXCLUDED.is_published,
			published_at = EXCLUDED.published_at,
			retry_config = EXCLUDED.retry_config,
			notify_on_failure = EXCLUDED.notify_on_failure,
			notify_recipients = EXCLUDED.notify_recipients,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		definition.ID,
		definition.WorkspaceID,
		definition.Name,
		definition.Description,
		columns[0],
		columns[1],
		columns[2],
		definition.Version,
		definition.IsPublished,
		nullTime(definition.PublishedAt),
		columns[3],
		definition.NotifyOnFailure,
		columns[4],
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := scanDefinition(r.db.QueryRowContext(ctx, selectDefinition+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	return definition, nil
}

func (r *DefinitionRepository) List(ctx context.Context, workspaceID string) ([]*models.WorkflowDefinition, error) {
	return r.query(ctx, selectDefinition+" WHERE ($1 = '' OR workspace_id = $1) ORDER BY created_at, id", workspaceID)
}

func (r *DefinitionRepository) ListPublished(ctx context.Context, workspaceID string) ([]*models.WorkflowDefinition, error) {
	return r.query(ctx, selectDefinition+" WHERE is_published AND ($1 = '' OR workspace_id = $1) ORDER BY created_at, id", workspaceID)
}

func (r *DefinitionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow definitions: %w", err)
	}

	return definitions, nil
}

// Delete removes a definition; its snapshots cascade.
func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = $1", id)
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	return nil
}

func (r *DefinitionRepository) SaveVersion(ctx context.Context, version *models.WorkflowVersion) error {
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	definition, err := toJSON(version.Definition)
	if err != nil {
		return persistence.NewVersionError("SaveVersion", version.DefinitionID, version.Version, err)
	}

	query := `
		INSERT INTO workflow_versions (id, definition_id, version, definition, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (definition_id, version) DO UPDATE SET definition = EXCLUDED.definition
	`

	_, err = r.db.ExecContext(ctx, query, version.ID, version.DefinitionID, version.Version, definition, version.CreatedAt)
	if err != nil {
		return persistence.NewVersionError("SaveVersion", version.DefinitionID, version.Version, err)
	}

	return nil
}

func scanVersion(row rowScanner) (*models.WorkflowVersion, error) {
	var (
		version    models.WorkflowVersion
		definition []byte
	)

	if err := row.Scan(&version.ID, &version.DefinitionID, &version.Version, &definition, &version.CreatedAt); err != nil {
		return nil, err
	}

	if err := fromJSON(definition, &version.Definition); err != nil {
		return nil, err
	}

	return &version, nil
}

func (r *DefinitionRepository) Versions(ctx context.Context, definitionID string) ([]*models.WorkflowVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, definition_id, version, definition, created_at
		FROM workflow_versions
		WHERE definition_id = $1
		ORDER BY version DESC
	`, definitionID)
	if err != nil {
		return nil, persistence.NewDefinitionError("Versions", definitionID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, persistence.NewDefinitionError("Versions", definitionID, err)
		}

		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewDefinitionError("Versions", definitionID, err)
	}

	return versions, nil
}

func (r *DefinitionRepository) GetVersion(ctx context.Context, definitionID string, version int) (*models.WorkflowVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, definition_id, version, definition, created_at
		FROM workflow_versions
		WHERE definition_id = $1 AND version = $2
	`, definitionID, version)

	snapshot, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewVersionError("GetVersion", definitionID, version, persistence.ErrVersionNotFound)
		}

		return nil, persistence.NewVersionError("GetVersion", definitionID, version, err)
	}

	return snapshot, nil
}

func (r *DefinitionRepository) PruneVersions(ctx context.Context, definitionID string, keep int) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM workflow_versions
		WHERE definition_id = $1 AND version NOT IN (
			SELECT version FROM workflow_versions WHERE definition_id = $1 ORDER BY version DESC LIMIT $2
		)
	`, definitionID, keep)
	if err != nil {
		return persistence.NewDefinitionError("PruneVersions", definitionID, err)
	}

	return nil
}
