package trigger

import (
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_Filter(t *testing.T) {
	node, err := NewNode(&models.Node{
		ID:      "t1",
		Type:    models.NodeTypeTrigger,
		Subtype: "record_created",
		Config:  map[string]any{"filter": map[string]any{"object": "deal"}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"object": "deal"}, node.Filter())

	_, ok := node.Next(time.Now())
	assert.False(t, ok)
}

func TestNewNode_Scheduled(t *testing.T) {
	node, err := NewNode(&models.Node{
		ID:      "t1",
		Type:    models.NodeTypeTrigger,
		Subtype: SubtypeScheduled,
		Config:  map[string]any{"cron": "0 9 * * *"},
	})
	require.NoError(t, err)

	from := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	next, ok := node.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), next)
}

func TestNewNode_InvalidSchedule(t *testing.T) {
	_, err := NewNode(&models.Node{ID: "t1", Subtype: SubtypeScheduled, Config: map[string]any{"cron": "every day"}})
	require.Error(t, err)
	assert.Equal(t, protocol.KindConfiguration, protocol.KindOf(err))

	_, err = NewNode(&models.Node{ID: "t1", Subtype: SubtypeScheduled})
	require.Error(t, err)
	assert.Equal(t, protocol.KindConfiguration, protocol.KindOf(err))
}

func TestNode_Execute(t *testing.T) {
	node, err := NewNode(&models.Node{ID: "t1", Subtype: "manual"})
	require.NoError(t, err)

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	result, err := node.Execute(t.Context(), protocol.Input{Now: now})
	require.NoError(t, err)

	assert.Equal(t, "manual", result.Output["trigger_type"])
	assert.Equal(t, "2025-01-02T03:04:05Z", result.Output["triggered_at"])
}
