// Package registry maps node types to their factories and validates node configuration.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger    *slog.Logger
	factories map[models.NodeType]protocol.NodeFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log,
		factories: make(map[models.NodeType]protocol.NodeFactory),
	}
}

func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	r.logger.Debug("Registering node factory", "type", factory.Type())
	r.factories[factory.Type()] = factory
}

// Factory returns the factory for nodeType or a configuration error wrapping protocol.ErrUnsupportedNode.
func (r *Registry) Factory(nodeType models.NodeType) (protocol.NodeFactory, error) {
	factory, ok := r.factories[nodeType]
	if !ok {
		return nil, protocol.NewConfigurationError("", fmt.Sprintf("node type '%s' not registered", nodeType), protocol.ErrUnsupportedNode)
	}

	return factory, nil
}

// Contract returns the capability contract of nodeType.
func (r *Registry) Contract(nodeType models.NodeType) (protocol.Contract, error) {
	factory, err := r.Factory(nodeType)
	if err != nil {
		return protocol.Contract{}, err
	}

	return factory.Contract(), nil
}

// Create builds an executable node. Unknown types and subtypes are configuration errors.
func (r *Registry) Create(ctx context.Context, node *models.Node) (protocol.Node, error) {
	factory, err := r.Factory(node.Type)
	if err != nil {
		return nil, protocol.NewConfigurationError(node.ID, fmt.Sprintf("node type '%s' not registered", node.Type), protocol.ErrUnsupportedNode)
	}

	if subtypes := factory.Subtypes(); subtypes != nil && !slices.Contains(subtypes, node.Subtype) {
		return nil, protocol.NewConfigurationError(node.ID, fmt.Sprintf("subtype '%s' not supported by %s nodes", node.Subtype, node.Type), protocol.ErrUnsupportedNode)
	}

	instance, err := factory.Create(ctx, node)
	if err != nil {
		if protocol.KindOf(err) == protocol.KindConfiguration {
			return nil, err
		}

		return nil, protocol.NewConfigurationError(node.ID, "invalid node configuration", err)
	}

	return instance, nil
}

// Validate checks node configuration against the factory schema and builds the node once.
func (r *Registry) Validate(ctx context.Context, node *models.Node) error {
	factory, err := r.Factory(node.Type)
	if err != nil {
		return protocol.NewConfigurationError(node.ID, fmt.Sprintf("node type '%s' not registered", node.Type), protocol.ErrUnsupportedNode)
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(factory.Schema()), gojsonschema.NewGoLoader(config))
	if err != nil {
		return protocol.NewConfigurationError(node.ID, "failed to validate node configuration", err)
	}

	if !result.Valid() {
		var violations []string
		for _, violation := range result.Errors() {
			violations = append(violations, violation.String())
		}

		return protocol.NewConfigurationError(node.ID, "JSON schema validation failed: "+strings.Join(violations, "; "), nil)
	}

	_, err = r.Create(ctx, node)

	return err
}

// Factories returns the registered factories ordered by type.
func (r *Registry) Factories() []protocol.NodeFactory {
	factories := make([]protocol.NodeFactory, 0, len(r.factories))
	for _, factory := range r.factories {
		factories = append(factories, factory)
	}

	sort.Slice(factories, func(i, j int) bool {
		return factories[i].Type() < factories[j].Type()
	})

	return factories
}

// HealthCheck reports whether every node type has a factory.
func (r *Registry) HealthCheck() (string, bool) {
	var missing []string

	for _, nodeType := range []models.NodeType{
		models.NodeTypeTrigger, models.NodeTypeAction, models.NodeTypeCondition, models.NodeTypeWait,
		models.NodeTypeAgent, models.NodeTypeBranch, models.NodeTypeJoin,
	} {
		if _, ok := r.factories[nodeType]; !ok {
			missing = append(missing, string(nodeType))
		}
	}

	if len(missing) > 0 {
		return "missing node types: " + strings.Join(missing, ", "), false
	}

	return fmt.Sprintf("%d node types registered", len(r.factories)), true
}
