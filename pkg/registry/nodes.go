package registry

import (
	"github.com/dukex/autoflow/pkg/nodes/action"
	"github.com/dukex/autoflow/pkg/nodes/agent"
	"github.com/dukex/autoflow/pkg/nodes/branch"
	"github.com/dukex/autoflow/pkg/nodes/condition"
	"github.com/dukex/autoflow/pkg/nodes/join"
	"github.com/dukex/autoflow/pkg/nodes/trigger"
	"github.com/dukex/autoflow/pkg/nodes/wait"
	"github.com/dukex/autoflow/pkg/protocol"
)

// RegisterDefaultNodes registers all built-in node factories with the registry.
// Action and agent nodes run through executor.
func (r *Registry) RegisterDefaultNodes(executor protocol.ActionExecutor) {
	r.RegisterNode(trigger.NewFactory())
	r.RegisterNode(action.NewFactory(executor))
	r.RegisterNode(condition.NewFactory())
	r.RegisterNode(wait.NewFactory())
	r.RegisterNode(agent.NewFactory(executor))
	r.RegisterNode(branch.NewFactory())
	r.RegisterNode(join.NewFactory())
}
