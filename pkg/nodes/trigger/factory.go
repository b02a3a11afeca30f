package trigger

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

// Subtypes accepted for trigger nodes.
var Subtypes = []string{
	"record_created",
	"record_updated",
	"record_deleted",
	"field_changed",
	"stage_changed",
	SubtypeScheduled,
	"webhook_received",
	"form_submitted",
	"email_received",
	"manual",
}

type Factory struct{}

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Node, error) {
	return NewNode(node)
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeTrigger
}

func (f *Factory) Name() string {
	return "Trigger"
}

func (f *Factory) Description() string {
	return "Starts a workflow when a matching domain event arrives."
}

func (f *Factory) Subtypes() []string {
	return Subtypes
}

func (f *Factory) Contract() protocol.Contract {
	return protocol.Contract{}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filter": map[string]any{
				"type":        "object",
				"description": "Entity context fields that must be equal for the trigger to match",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Five-field cron expression, required for scheduled triggers",
				"examples":    []string{"0 9 * * 1-5", "*/15 * * * *"},
			},
		},
	}
}
