package web

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

// SaveDefinitionRequest is the body for creating or replacing a workflow definition.
type SaveDefinitionRequest struct {
	WorkspaceID      string              `json:"workspace_id"      validate:"required"`
	Name             string              `json:"name"              validate:"required,min=3"`
	Description      string              `json:"description"`
	Nodes            []*models.Node      `json:"nodes"             validate:"dive"`
	Edges            []*models.Edge      `json:"edges"             validate:"dive"`
	RetryConfig      *models.RetryConfig `json:"retry_config,omitempty"`
	NotifyOnFailure  bool                `json:"notify_on_failure"`
	NotifyRecipients []string            `json:"notify_recipients" validate:"dive,email"`
}

// Definition builds the definition to save under id.
func (r SaveDefinitionRequest) Definition(id string) *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		ID:               id,
		WorkspaceID:      r.WorkspaceID,
		Name:             r.Name,
		Description:      r.Description,
		Nodes:            r.Nodes,
		Edges:            r.Edges,
		NotifyOnFailure:  r.NotifyOnFailure,
		NotifyRecipients: r.NotifyRecipients,
	}

	if r.RetryConfig != nil {
		definition.RetryConfig = *r.RetryConfig
	}

	return definition
}

// IngestEventRequest is the body of an inbound domain event.
type IngestEventRequest struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"     validate:"required"`
	WorkspaceID   string         `json:"workspace_id"   validate:"required"`
	EntityContext map[string]any `json:"entity_context"`
	OccurredAt    *time.Time     `json:"occurred_at,omitempty"`
}

type CancelExecutionRequest struct {
	Reason string `json:"reason"`
}

// ResolveDeadLetterRequest is the body for retrying or ignoring a dead letter.
type ResolveDeadLetterRequest struct {
	ResolvedBy string `json:"resolved_by" validate:"required"`
	Notes      string `json:"notes"`
}

// RetryDeadLetterResponse pairs the resolved dead letter with the execution replaying it.
type RetryDeadLetterResponse struct {
	DeadLetter *models.WorkflowDeadLetter `json:"dead_letter"`
	Execution  *models.WorkflowExecution  `json:"execution"`
}

// NodeTypeResponse describes a registered node type to workflow editors.
type NodeTypeResponse struct {
	Type        models.NodeType   `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Subtypes    []string          `json:"subtypes,omitempty"`
	Contract    protocol.Contract `json:"contract"`
	Schema      map[string]any    `json:"schema"`
}

func TransformNodeType(factory protocol.NodeFactory) NodeTypeResponse {
	return NodeTypeResponse{
		Type:        factory.Type(),
		Name:        factory.Name(),
		Description: factory.Description(),
		Subtypes:    factory.Subtypes(),
		Contract:    factory.Contract(),
		Schema:      factory.Schema(),
	}
}
