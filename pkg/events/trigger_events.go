package events

import (
	"time"

	"github.com/google/uuid"
)

// TriggerReceivedEvent is the bus type of inbound domain events.
const TriggerReceivedEvent EventType = "trigger.received"

// TriggerEvent is an external domain event, such as a deal changing stage.
// It starts new executions through trigger matching and resumes executions
// waiting for its event type.
type TriggerEvent struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"    validate:"required"`
	WorkspaceID   string         `json:"workspace_id"  validate:"required"`
	EntityContext map[string]any `json:"entity_context"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func (t TriggerEvent) GetType() EventType {
	return TriggerReceivedEvent
}

// NewTriggerEvent creates a trigger event with a fresh ID.
func NewTriggerEvent(workspaceID, eventType string, entityContext map[string]any) TriggerEvent {
	if entityContext == nil {
		entityContext = map[string]any{}
	}

	return TriggerEvent{
		ID:            uuid.New().String(),
		EventType:     eventType,
		WorkspaceID:   workspaceID,
		EntityContext: entityContext,
		OccurredAt:    time.Now().UTC(),
	}
}

// AsMap returns the event in the shape stored as an execution's trigger data.
func (t TriggerEvent) AsMap() map[string]any {
	return map[string]any{
		"id":             t.ID,
		"event_type":     t.EventType,
		"workspace_id":   t.WorkspaceID,
		"entity_context": t.EntityContext,
		"occurred_at":    t.OccurredAt.Format(time.RFC3339),
	}
}
