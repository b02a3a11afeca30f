package condition

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
	return models.NodeTypeCondition
}

func (f *Factory) Name() string {
	return "Condition"
}

func (f *Factory) Description() string {
	return "Compares a context field with a literal and follows the edge labelled true or false."
}

func (f *Factory) Subtypes() []string {
	return nil
}

func (f *Factory) Contract() protocol.Contract {
	return protocol.Contract{}
}

func (f *Factory) Schema() map[string]any {
	operators := make([]string, len(Operators))
	for i, operator := range Operators {
		operators[i] = string(operator)
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":        "string",
				"description": "Context field to evaluate, dotted paths address nested values",
				"examples":    []string{"deal_value", "contact.email"},
			},
			"operator": map[string]any{
				"type": "string",
				"enum": operators,
			},
			"value": map[string]any{
				"description": "Literal compared with the field; a list for in and not_in",
			},
		},
		"required": []string{"field", "operator"},
	}
}
