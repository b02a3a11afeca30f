// Package join provides the node that merges parallel continuations.
package join

import (
	"context"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

type Mode string

const (
	ModeAll   Mode = "all"
	ModeAny   Mode = "any"
	ModeCount Mode = "count"
)

// Node carries the fan-in policy. The engine evaluates it when continuations
// arrive; running the node afterwards only records the merge.
type Node struct {
	id    string
	mode  Mode
	count int
}

func NewNode(node *models.Node) (*Node, error) {
	mode := Mode(node.StringConfig("mode"))
	if mode == "" {
		mode = Mode(node.Subtype)
	}

	if mode == "" {
		mode = ModeAll
	}

	n := &Node{id: node.ID, mode: mode}

	switch mode {
	case ModeAll, ModeAny:
	case ModeCount:
		count, ok := toInt(node.Config["count"])
		if !ok || count < 1 {
			return nil, protocol.NewConfigurationError(node.ID, "count join requires a positive 'count'", nil)
		}

		n.count = count
	default:
		return nil, protocol.NewConfigurationError(node.ID, fmt.Sprintf("unknown join mode %q", mode), protocol.ErrUnsupportedNode)
	}

	return n, nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case float64:
		return int(v), v == float64(int(v))
	default:
		return 0, false
	}
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Type() models.NodeType {
	return models.NodeTypeJoin
}

func (n *Node) RequiredContext() []string {
	return nil
}

func (n *Node) Mode() Mode {
	return n.mode
}

// Satisfied reports whether the join may continue given the number of
// arrivals, the number of incoming edges and the continuations still running.
// An all join waits for every sibling continuation, not every edge: two
// continuations may reach the join through the same edge.
func (n *Node) Satisfied(arrived, incoming, live int) bool {
	switch n.mode {
	case ModeAny:
		return arrived >= 1
	case ModeCount:
		return arrived >= n.count || (live == 0 && arrived > 0)
	default:
		return live == 0
	}
}

func (n *Node) Execute(context.Context, protocol.Input) (protocol.Result, error) {
	return protocol.Result{Output: map[string]any{}}, nil
}

type Factory struct{}

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Node, error) {
	return NewNode(node)
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeJoin
}

func (f *Factory) Name() string {
	return "Join"
}

func (f *Factory) Description() string {
	return "Waits for parallel paths (all, any, or a count of them) and merges their context."
}

func (f *Factory) Subtypes() []string {
	return []string{"", string(ModeAll), string(ModeAny), string(ModeCount)}
}

func (f *Factory) Contract() protocol.Contract {
	return protocol.Contract{}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type": "string",
				"enum": []string{string(ModeAll), string(ModeAny), string(ModeCount)},
			},
			"count": map[string]any{
				"type":    "integer",
				"minimum": 1,
			},
		},
	}
}
