package protocol

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
)

// ActionRequest is the call made to an action capability for action and agent nodes.
type ActionRequest struct {
	ExecutionID string
	NodeID      string
	Type        models.NodeType
	Subtype     string
	Config      map[string]any
	Context     map[string]any
}

// ActionResult is treated as opaque by the engine apart from its error fields.
type ActionResult struct {
	Output        map[string]any `json:"output"`
	Error         string         `json:"error,omitempty"`
	RetryableHint string         `json:"retryable_hint,omitempty"`
}

// ActionExecutor performs side effects on behalf of action and agent nodes.
type ActionExecutor interface {
	Execute(ctx context.Context, request ActionRequest) (ActionResult, error)
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, request ActionRequest) (ActionResult, error)

func (f ActionExecutorFunc) Execute(ctx context.Context, request ActionRequest) (ActionResult, error) {
	return f(ctx, request)
}
