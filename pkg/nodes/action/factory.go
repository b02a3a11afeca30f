package action

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

// Subtypes accepted for action nodes.
var Subtypes = []string{
	"update_record",
	"create_record",
	"delete_record",
	"send_email",
	"send_slack",
	"send_sms",
	"create_task",
	"add_to_list",
	"remove_from_list",
	"enroll_in_sequence",
	"unenroll_from_sequence",
	"webhook_call",
	"assign_owner",
}

type Factory struct {
	executor protocol.ActionExecutor
}

func NewFactory(executor protocol.ActionExecutor) protocol.NodeFactory {
	return &Factory{executor: executor}
}

func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Node, error) {
	return NewNode(node, f.executor)
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeAction
}

func (f *Factory) Name() string {
	return "Action"
}

func (f *Factory) Description() string {
	return "Performs a side effect such as sending an email or updating a record."
}

func (f *Factory) Subtypes() []string {
	return Subtypes
}

func (f *Factory) Contract() protocol.Contract {
	return protocol.Contract{Retryable: true}
}

// Schema returns the JSON schema for action node configuration. Remaining
// properties are passed to the action executor after templating.
func (f *Factory) Schema() map[string]any {
	return ConfigSchema()
}

// ConfigSchema is shared with agent nodes.
func ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"required_context": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Context keys that must exist before the action runs",
			},
		},
		"additionalProperties": true,
	}
}
