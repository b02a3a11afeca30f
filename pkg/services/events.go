package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Events accepts domain events and hands them to the worker through the bus.
type Events struct {
	publisher eventbus.EventPublisher
	validator *validator.Validate
}

func NewEvents(publisher eventbus.EventPublisher) *Events {
	return &Events{
		publisher: publisher,
		validator: validator.New(),
	}
}

// Ingest validates and publishes a trigger event keyed by its workspace.
func (e *Events) Ingest(ctx context.Context, event events.TriggerEvent) (events.TriggerEvent, error) {
	if err := e.validator.Struct(event); err != nil {
		return event, NewValidationError("Ingest", "INVALID_EVENT", formatValidation(err), ErrInvalidRequest)
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if event.EntityContext == nil {
		event.EntityContext = map[string]any{}
	}

	if err := e.publisher.Publish(ctx, event.WorkspaceID, event); err != nil {
		return event, fmt.Errorf("failed to publish event: %w", err)
	}

	return event, nil
}
