package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, TriggerTopic, Topic(TriggerReceivedEvent))
	assert.Equal(t, NotificationTopic, Topic(FailureNotificationEvent))
	assert.Equal(t, ExecutionTopic, Topic(ExecutionPausedEvent))
	assert.Equal(t, ExecutionTopic, Topic(NodeRetryScheduledEvent))
}

func TestNewBaseEvent(t *testing.T) {
	execution := &models.WorkflowExecution{ID: "exec-1", WorkspaceID: "ws-1", DefinitionID: "def-1"}

	event := NewBaseEvent(ExecutionStartedEvent, execution)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ExecutionStartedEvent, event.Type)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, "ws-1", event.WorkspaceID)
	assert.Equal(t, "def-1", event.DefinitionID)
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestTriggerEvent(t *testing.T) {
	event := NewTriggerEvent("ws-1", "stage_changed", map[string]any{"deal_id": "d-1", "stage": "won"})

	assert.Equal(t, TriggerReceivedEvent, event.GetType())
	assert.NotEmpty(t, event.ID)

	data := event.AsMap()
	assert.Equal(t, "stage_changed", data["event_type"])
	assert.Equal(t, "won", data["entity_context"].(map[string]any)["stage"])

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"entity_context":{"deal_id":"d-1","stage":"won"}`)

	empty := NewTriggerEvent("ws-1", "manual", nil)
	assert.NotNil(t, empty.EntityContext)
}

func TestNewFailureNotification(t *testing.T) {
	event := NewFailureNotification(models.FailureNotification{
		WorkspaceID:  "ws-1",
		ExecutionID:  "exec-1",
		DefinitionID: "def-1",
		NodeID:       "a1",
		ErrorSummary: "503 service unavailable",
		Recipients:   []string{"ops@example.com"},
	})

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded FailureNotification
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "exec-1", decoded.ExecutionID)
	assert.Equal(t, "ws-1", decoded.WorkspaceID)
	assert.Equal(t, []string{"ops@example.com"}, decoded.Recipients)
	assert.Equal(t, FailureNotificationEvent, decoded.GetType())
}
