// Package branch provides the node that fans out into parallel continuations.
package branch

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

type Node struct {
	id string
}

func NewNode(node *models.Node) (*Node, error) {
	return &Node{id: node.ID}, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Type() models.NodeType {
	return models.NodeTypeBranch
}

func (n *Node) RequiredContext() []string {
	return nil
}

// Execute requests a fork; the engine activates every outgoing edge.
func (n *Node) Execute(context.Context, protocol.Input) (protocol.Result, error) {
	return protocol.Result{Fork: true, Output: map[string]any{}}, nil
}

type Factory struct{}

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, node *models.Node) (protocol.Node, error) {
	return NewNode(node)
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeBranch
}

func (f *Factory) Name() string {
	return "Branch"
}

func (f *Factory) Description() string {
	return "Runs every outgoing path in parallel with its own copy of the context."
}

func (f *Factory) Subtypes() []string {
	return nil
}

func (f *Factory) Contract() protocol.Contract {
	return protocol.Contract{CanFork: true}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
