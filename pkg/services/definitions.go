package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/dag"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Definitions stores workflow definitions, snapshots superseded versions and
// decides what may be published.
type Definitions struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	validator   *validator.Validate
	now         func() time.Time
}

func NewDefinitions(logger *slog.Logger, persistence persistence.Persistence, registry *registry.Registry) *Definitions {
	return &Definitions{
		logger:      logger.With("module", "definitions"),
		persistence: persistence,
		registry:    registry,
		validator:   validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (d *Definitions) HealthCheck(ctx context.Context) (string, bool) {
	if d.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := d.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Save creates or replaces a definition. Replacing snapshots the previous
// state as a version and bumps the version number; only the newest
// models.MaxWorkflowVersions snapshots are kept. A draft may contain a cycle,
// a published definition must stay publishable.
func (d *Definitions) Save(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, NewValidationError("Save", "INVALID_REQUEST", "definition cannot be nil", ErrInvalidRequest)
	}

	if definition.ID == "" {
		definition.ID = uuid.New().String()
	}

	if err := d.validator.Struct(definition); err != nil {
		return nil, NewValidationError("Save", "INVALID_DEFINITION", formatValidation(err), ErrInvalidDefinition)
	}

	if definition.RetryConfig.IsZero() {
		definition.RetryConfig = models.DefaultRetryConfig()
	}

	order, err := dag.TopologicalOrder(definition.Nodes, definition.Edges)
	if err != nil {
		order = nil
	}

	definition.ExecutionOrder = order

	definitions := d.persistence.DefinitionRepository()
	now := d.now()

	existing, err := definitions.GetByID(ctx, definition.ID)

	switch {
	case err == nil:
		if existing.WorkspaceID != definition.WorkspaceID {
			return nil, NewValidationError("Save", "WORKSPACE_MISMATCH", "definition belongs to another workspace", ErrInvalidRequest)
		}

		definition.Version = existing.Version + 1
		definition.IsPublished = existing.IsPublished
		definition.PublishedAt = existing.PublishedAt
		definition.CreatedAt = existing.CreatedAt

		if definition.IsPublished {
			if err := d.Validate(ctx, definition); err != nil {
				return nil, err
			}
		}

		version := &models.WorkflowVersion{
			ID:           uuid.New().String(),
			DefinitionID: existing.ID,
			Version:      existing.Version,
			Definition:   existing,
			CreatedAt:    now,
		}

		if err := definitions.SaveVersion(ctx, version); err != nil {
			return nil, fmt.Errorf("failed to snapshot definition: %w", err)
		}
	case persistence.IsDefinitionNotFound(err):
		definition.Version = 1
		definition.IsPublished = false
		definition.PublishedAt = nil
		definition.CreatedAt = now
	default:
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}

	definition.UpdatedAt = now

	if err := definitions.Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	if definition.Version > 1 {
		if err := definitions.PruneVersions(ctx, definition.ID, models.MaxWorkflowVersions); err != nil {
			d.logger.WarnContext(ctx, "Failed to prune definition versions", "definition_id", definition.ID, "error", err)
		}
	}

	d.logger.InfoContext(ctx, "Definition saved", "definition_id", definition.ID, "version", definition.Version)

	return definition, nil
}

// Publish makes a definition eligible for trigger matching after validating it.
func (d *Definitions) Publish(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := d.Validate(ctx, definition); err != nil {
		return nil, err
	}

	now := d.now()
	definition.IsPublished = true
	definition.PublishedAt = &now
	definition.UpdatedAt = now

	if err := d.persistence.DefinitionRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to publish definition: %w", err)
	}

	d.logger.InfoContext(ctx, "Definition published", "definition_id", id, "version", definition.Version)

	return definition, nil
}

// Unpublish stops new executions. Running executions continue on their pinned version.
func (d *Definitions) Unpublish(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	definition.IsPublished = false
	definition.UpdatedAt = d.now()

	if err := d.persistence.DefinitionRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to unpublish definition: %w", err)
	}

	return definition, nil
}

func (d *Definitions) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return d.persistence.DefinitionRepository().GetByID(ctx, id)
}

func (d *Definitions) List(ctx context.Context, workspaceID string) ([]*models.WorkflowDefinition, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, ErrEmptyWorkspaceID
	}

	return d.persistence.DefinitionRepository().List(ctx, workspaceID)
}

// Versions returns the snapshots of a definition, newest first.
func (d *Definitions) Versions(ctx context.Context, id string) ([]*models.WorkflowVersion, error) {
	if _, err := d.persistence.DefinitionRepository().GetByID(ctx, id); err != nil {
		return nil, err
	}

	return d.persistence.DefinitionRepository().Versions(ctx, id)
}

func (d *Definitions) Delete(ctx context.Context, id string) error {
	if _, err := d.persistence.DefinitionRepository().GetByID(ctx, id); err != nil {
		return err
	}

	if err := d.persistence.DefinitionRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	return nil
}

// Validate reports every reason the definition cannot be published.
func (d *Definitions) Validate(ctx context.Context, definition *models.WorkflowDefinition) error {
	var problems []string

	if err := d.validator.Struct(definition); err != nil {
		problems = append(problems, formatValidation(err))
	}

	if len(definition.Nodes) == 0 {
		problems = append(problems, "workflow must have at least one node")
	}

	if _, err := dag.TopologicalOrder(definition.Nodes, definition.Edges); err != nil {
		problems = append(problems, err.Error())
	}

	problems = append(problems, entryProblems(definition)...)
	problems = append(problems, fanOutProblems(definition)...)

	for _, nodeID := range dag.WaitNodesInParallelRegions(definition) {
		problems = append(problems, fmt.Sprintf("node %s: %v", nodeID, protocol.ErrWaitInParallelRegion))
	}

	for _, node := range definition.Nodes {
		if err := d.registry.Validate(ctx, node); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) == 0 {
		return nil
	}

	message := strings.Join(problems, "; ")

	return NewValidationError("Validate", "INVALID_DEFINITION", message, protocol.NewValidationError(message, ErrInvalidDefinition))
}

func entryProblems(definition *models.WorkflowDefinition) []string {
	var entries, problems []string

	for _, node := range definition.Nodes {
		if node.Type != models.NodeTypeTrigger {
			continue
		}

		if len(definition.IncomingEdges(node.ID)) > 0 {
			problems = append(problems, fmt.Sprintf("trigger node %s cannot have incoming edges", node.ID))

			continue
		}

		entries = append(entries, node.ID)
	}

	switch len(entries) {
	case 0:
		problems = append(problems, "workflow must have a trigger entry node")
	case 1:
	default:
		problems = append(problems, "workflow has multiple trigger entry nodes: "+strings.Join(entries, ", "))
	}

	return problems
}

// fanOutProblems checks that every node but a branch leaves through edges the
// engine can tell apart.
func fanOutProblems(definition *models.WorkflowDefinition) []string {
	var problems []string

	for _, node := range definition.Nodes {
		edges := definition.OutgoingEdges(node.ID)

		switch node.Type {
		case models.NodeTypeBranch:
		case models.NodeTypeCondition:
			seen := map[string]bool{}

			for _, edge := range edges {
				key := edge.BranchKey()
				if key != models.EdgeLabelTrue && key != models.EdgeLabelFalse {
					problems = append(problems, fmt.Sprintf("condition node %s has an edge not labelled true or false", node.ID))

					continue
				}

				if seen[key] {
					problems = append(problems, fmt.Sprintf("condition node %s has several %q edges", node.ID, key))
				}

				seen[key] = true
			}
		default:
			untagged := 0

			for _, edge := range edges {
				if edge.BranchKey() == "" {
					untagged++
				}
			}

			if untagged > 1 {
				problems = append(problems, fmt.Sprintf("node %s has %d untagged outgoing edges, use a branch node to run paths in parallel", node.ID, untagged))
			}
		}
	}

	return problems
}

func formatValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, fmt.Sprintf("field %s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return strings.Join(fields, ", ")
}
