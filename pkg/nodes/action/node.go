// Package action provides nodes that delegate side effects to an action capability.
package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/template"
)

var errActionFailed = errors.New("action failed")

// Node calls the configured ActionExecutor. It is used for both action and agent nodes.
type Node struct {
	id              string
	nodeType        models.NodeType
	subtype         string
	config          map[string]any
	requiredContext []string
	executor        protocol.ActionExecutor
}

func NewNode(node *models.Node, executor protocol.ActionExecutor) (*Node, error) {
	if executor == nil {
		return nil, protocol.NewConfigurationError(node.ID, "no action executor configured", nil)
	}

	if node.Subtype == "" {
		return nil, protocol.NewConfigurationError(node.ID, fmt.Sprintf("%s node requires a subtype", node.Type), protocol.ErrUnsupportedNode)
	}

	n := &Node{
		id:       node.ID,
		nodeType: node.Type,
		subtype:  node.Subtype,
		config:   node.Config,
		executor: executor,
	}

	if required, ok := node.Config["required_context"].([]any); ok {
		for _, key := range required {
			if s, ok := key.(string); ok {
				n.requiredContext = append(n.requiredContext, s)
			}
		}
	}

	return n, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Type() models.NodeType {
	return n.nodeType
}

func (n *Node) RequiredContext() []string {
	return n.requiredContext
}

func (n *Node) Execute(ctx context.Context, input protocol.Input) (protocol.Result, error) {
	config, err := template.RenderConfig(n.config, input.Context, input.TriggerData)
	if err != nil {
		return protocol.Result{}, protocol.NewConfigurationError(n.id, "failed to render config", err)
	}

	result, err := n.executor.Execute(ctx, protocol.ActionRequest{
		ExecutionID: input.ExecutionID,
		NodeID:      n.id,
		Type:        n.nodeType,
		Subtype:     n.subtype,
		Config:      config,
		Context:     input.Context,
	})
	if err != nil {
		var werr *protocol.Error
		if errors.As(err, &werr) {
			return protocol.Result{}, err
		}

		return protocol.Result{}, protocol.NewNodeExecutionError(n.id, result.RetryableHint, "", err)
	}

	if result.Error != "" {
		return protocol.Result{}, protocol.NewNodeExecutionError(n.id, result.RetryableHint, result.Error, errActionFailed)
	}

	output := result.Output
	if output == nil {
		output = map[string]any{}
	}

	return protocol.Result{Output: output}, nil
}
