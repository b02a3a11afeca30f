package action

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Execute_RendersConfig(t *testing.T) {
	var received protocol.ActionRequest

	executor := protocol.ActionExecutorFunc(func(_ context.Context, request protocol.ActionRequest) (protocol.ActionResult, error) {
		received = request

		return protocol.ActionResult{Output: map[string]any{"message_id": "m-1"}}, nil
	})

	node, err := NewNode(&models.Node{
		ID:      "email",
		Type:    models.NodeTypeAction,
		Subtype: "send_email",
		Config:  map[string]any{"to": "{{ .context.email }}"},
	}, executor)
	require.NoError(t, err)

	result, err := node.Execute(t.Context(), protocol.Input{
		ExecutionID: "exec-1",
		Context:     map[string]any{"email": "lead@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"message_id": "m-1"}, result.Output)
	assert.Equal(t, "send_email", received.Subtype)
	assert.Equal(t, "exec-1", received.ExecutionID)
	assert.Equal(t, "lead@example.com", received.Config["to"])
}

func TestNode_Execute_ResultError(t *testing.T) {
	executor := protocol.ActionExecutorFunc(func(context.Context, protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{Error: "quota exhausted", RetryableHint: "rate_limit"}, nil
	})

	node, err := NewNode(&models.Node{ID: "email", Type: models.NodeTypeAction, Subtype: "send_email"}, executor)
	require.NoError(t, err)

	_, err = node.Execute(t.Context(), protocol.Input{})
	require.Error(t, err)
	assert.Equal(t, protocol.KindNodeExecution, protocol.KindOf(err))
	assert.Equal(t, "rate_limit", protocol.CategoryOf(err))
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestNode_Execute_ExecutorError(t *testing.T) {
	executor := protocol.ActionExecutorFunc(func(context.Context, protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{}, errors.New("503 Service Unavailable")
	})

	node, err := NewNode(&models.Node{ID: "email", Type: models.NodeTypeAction, Subtype: "send_email"}, executor)
	require.NoError(t, err)

	_, err = node.Execute(t.Context(), protocol.Input{})
	require.Error(t, err)
	assert.Equal(t, protocol.KindNodeExecution, protocol.KindOf(err))
	assert.Contains(t, err.Error(), "503 Service Unavailable")
}

func TestNewNode_RequiredContext(t *testing.T) {
	node, err := NewNode(&models.Node{
		ID:      "update",
		Type:    models.NodeTypeAction,
		Subtype: "update_record",
		Config:  map[string]any{"required_context": []any{"record_id"}},
	}, protocol.ActionExecutorFunc(func(context.Context, protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{}, nil
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"record_id"}, node.RequiredContext())
}

func TestNewNode_MissingSubtype(t *testing.T) {
	_, err := NewNode(&models.Node{ID: "a", Type: models.NodeTypeAction}, protocol.ActionExecutorFunc(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrUnsupportedNode)
}
