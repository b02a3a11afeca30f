package wait

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

type Factory struct{}

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Node, error) {
	return NewNode(node)
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeWait
}

func (f *Factory) Name() string {
	return "Wait"
}

func (f *Factory) Description() string {
	return "Pauses the execution for a duration, until a datetime, or until a matching event arrives."
}

func (f *Factory) Subtypes() []string {
	return []string{SubtypeDuration, SubtypeDatetime, SubtypeEvent}
}

func (f *Factory) Contract() protocol.Contract {
	return protocol.Contract{CanSuspend: true}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "string",
				"description": "Go duration for duration waits",
				"examples":    []string{"30m", "24h"},
			},
			"seconds": map[string]any{
				"type":    "number",
				"minimum": 0,
			},
			"at": map[string]any{
				"type":        "string",
				"format":      "date-time",
				"description": "RFC3339 target for datetime waits",
			},
			"event_type": map[string]any{
				"type":        "string",
				"description": "Event type awaited by event waits",
			},
			"filter": map[string]any{
				"type":        "object",
				"description": "Event fields that must be equal for the event to match",
			},
			"timeout": map[string]any{
				"type":        "string",
				"description": "Optional Go duration after which the wait follows its timeout edge",
			},
		},
	}
}
