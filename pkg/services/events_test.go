package services

import (
	"errors"
	"testing"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEvents_Ingest(t *testing.T) {
	publisher := &recordingPublisher{}
	service := NewEvents(publisher)

	event, err := service.Ingest(t.Context(), events.TriggerEvent{
		EventType:   "stage_changed",
		WorkspaceID: "ws-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.False(t, event.OccurredAt.IsZero())
	assert.NotNil(t, event.EntityContext)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, []string{"ws-1"}, publisher.keys)
	assert.Equal(t, events.TriggerReceivedEvent, publisher.events[0].GetType())
}

func TestEvents_Ingest_KeepsCallerFields(t *testing.T) {
	publisher := &recordingPublisher{}
	original := events.NewTriggerEvent("ws-1", "record_created", map[string]any{"deal_id": "d-1"})

	event, err := NewEvents(publisher).Ingest(t.Context(), original)
	require.NoError(t, err)
	assert.Equal(t, original.ID, event.ID)
	assert.Equal(t, original.OccurredAt, event.OccurredAt)
	assert.Equal(t, "d-1", event.EntityContext["deal_id"])
}

func TestEvents_Ingest_Invalid(t *testing.T) {
	publisher := &recordingPublisher{}

	_, err := NewEvents(publisher).Ingest(t.Context(), events.TriggerEvent{WorkspaceID: "ws-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "EventType")
	assert.Empty(t, publisher.events)
}

func TestEvents_Ingest_PublishFailure(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "ws-1", mock.AnythingOfType("events.TriggerEvent")).Return(errors.New("broker unavailable"))

	_, err := NewEvents(bus).Ingest(t.Context(), events.NewTriggerEvent("ws-1", "record_created", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.False(t, IsValidationError(err))

	bus.AssertExpectations(t)
}
