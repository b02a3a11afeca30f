// Package agent provides AI agent nodes. They run through the same action capability as action nodes.
package agent

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/nodes/action"
	"github.com/dukex/autoflow/pkg/protocol"
)

var Subtypes = []string{
	"sales_outreach",
	"lead_scoring",
	"email_drafter",
	"data_enrichment",
	"custom",
}

type Factory struct {
	executor protocol.ActionExecutor
}

func NewFactory(executor protocol.ActionExecutor) protocol.NodeFactory {
	return &Factory{executor: executor}
}

func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Node, error) {
	return action.NewNode(node, f.executor)
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeAgent
}

func (f *Factory) Name() string {
	return "AI Agent"
}

func (f *Factory) Description() string {
	return "Runs an AI agent task and stores its output in the execution context."
}

func (f *Factory) Subtypes() []string {
	return Subtypes
}

func (f *Factory) Contract() protocol.Contract {
	return protocol.Contract{Retryable: true}
}

func (f *Factory) Schema() map[string]any {
	schema := action.ConfigSchema()
	properties, _ := schema["properties"].(map[string]any)
	properties["prompt"] = map[string]any{
		"type":        "string",
		"description": "Instructions for the agent, templated against the execution context",
	}

	return schema
}
