package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]any
		contains string
	}{
		{
			name:     "nil config",
			config:   nil,
			contains: "Executing action",
		},
		{
			name:     "config without message",
			config:   map[string]any{"to": "ada@example.com"},
			contains: "ada@example.com",
		},
		{
			name:     "config with message",
			config:   map[string]any{"message": "welcome sent"},
			contains: "welcome sent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			executor := NewExecutor(slog.New(slog.NewTextHandler(&buf, nil)))

			result, err := executor.Execute(t.Context(), protocol.ActionRequest{
				ExecutionID: "exec-1",
				NodeID:      "send",
				Type:        models.NodeTypeAction,
				Subtype:     "send_email",
				Config:      tt.config,
			})
			require.NoError(t, err)

			assert.Equal(t, true, result.Output["logged"])
			assert.Equal(t, "send_email", result.Output["subtype"])
			assert.Empty(t, result.Error)
			assert.Contains(t, buf.String(), tt.contains)
			assert.Contains(t, buf.String(), "node_id=send")
			assert.Contains(t, buf.String(), "module=log_action")
		})
	}
}
