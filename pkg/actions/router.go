// Package actions routes action requests to the executor registered for their subtype.
package actions

import (
	"context"
	"log/slog"

	"github.com/dukex/autoflow/pkg/actions/logging"
	"github.com/dukex/autoflow/pkg/actions/webhook"
	"github.com/dukex/autoflow/pkg/protocol"
)

// Router dispatches on ActionRequest.Subtype, falling back to a default executor.
type Router struct {
	routes   map[string]protocol.ActionExecutor
	fallback protocol.ActionExecutor
}

func NewRouter(fallback protocol.ActionExecutor) *Router {
	return &Router{
		routes:   make(map[string]protocol.ActionExecutor),
		fallback: fallback,
	}
}

// NewDefaultRouter sends webhook calls over HTTP and logs every other action.
func NewDefaultRouter(logger *slog.Logger) *Router {
	router := NewRouter(logging.NewExecutor(logger))
	router.Handle(webhook.Subtype, webhook.NewExecutor(logger))

	return router
}

func (r *Router) Handle(subtype string, executor protocol.ActionExecutor) {
	r.routes[subtype] = executor
}

func (r *Router) Execute(ctx context.Context, request protocol.ActionRequest) (protocol.ActionResult, error) {
	if executor, ok := r.routes[request.Subtype]; ok {
		return executor.Execute(ctx, request)
	}

	return r.fallback.Execute(ctx, request)
}
