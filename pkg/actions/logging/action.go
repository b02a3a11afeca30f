// Package logging provides the default action executor, which records the
// action it was asked to perform and reports success.
package logging

import (
	"context"
	"log/slog"

	"github.com/dukex/autoflow/pkg/protocol"
)

// Executor logs every action request at info level.
type Executor struct {
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger.With("module", "log_action")}
}

func (e *Executor) Execute(ctx context.Context, request protocol.ActionRequest) (protocol.ActionResult, error) {
	logger := e.logger.With(
		"execution_id", request.ExecutionID,
		"node_id", request.NodeID,
		"node_type", request.Type,
		"subtype", request.Subtype,
	)

	if message, ok := request.Config["message"].(string); ok && message != "" {
		logger.InfoContext(ctx, message)
	} else {
		logger.InfoContext(ctx, "Executing action", "config", request.Config)
	}

	return protocol.ActionResult{Output: map[string]any{
		"logged":  true,
		"subtype": request.Subtype,
	}}, nil
}
