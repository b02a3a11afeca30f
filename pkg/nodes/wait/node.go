// Package wait provides the node that suspends an execution on a clock or an external event.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

const (
	SubtypeDuration = "duration"
	SubtypeDatetime = "datetime"
	SubtypeEvent    = "event"
)

type Node struct {
	id        string
	subtype   string
	duration  time.Duration
	at        time.Time
	eventType string
	filter    map[string]any
	timeout   time.Duration
}

func NewNode(node *models.Node) (*Node, error) {
	n := &Node{id: node.ID, subtype: node.Subtype}

	switch node.Subtype {
	case SubtypeDuration:
		duration, err := parseDuration(node.Config)
		if err != nil {
			return nil, protocol.NewConfigurationError(node.ID, "invalid wait duration", err)
		}

		n.duration = duration
	case SubtypeDatetime:
		at, err := time.Parse(time.RFC3339, node.StringConfig("at"))
		if err != nil {
			return nil, protocol.NewConfigurationError(node.ID, "invalid wait datetime, expected RFC3339 'at'", err)
		}

		n.at = at
	case SubtypeEvent:
		n.eventType = node.StringConfig("event_type")
		if n.eventType == "" {
			return nil, protocol.NewConfigurationError(node.ID, "event wait requires 'event_type'", nil)
		}

		if filter, ok := node.Config["filter"].(map[string]any); ok {
			n.filter = filter
		}

		if raw := node.StringConfig("timeout"); raw != "" {
			timeout, err := time.ParseDuration(raw)
			if err != nil || timeout <= 0 {
				return nil, protocol.NewConfigurationError(node.ID, "invalid event wait timeout", err)
			}

			n.timeout = timeout
		}
	default:
		return nil, protocol.NewConfigurationError(node.ID, fmt.Sprintf("unknown wait subtype %q", node.Subtype), protocol.ErrUnsupportedNode)
	}

	return n, nil
}

func parseDuration(config map[string]any) (time.Duration, error) {
	if raw, ok := config["duration"].(string); ok {
		duration, err := time.ParseDuration(raw)
		if err != nil {
			return 0, err
		}

		if duration < 0 {
			return 0, fmt.Errorf("negative duration %s", raw)
		}

		return duration, nil
	}

	if seconds, ok := config["seconds"].(float64); ok && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second)), nil
	}

	if seconds, ok := config["seconds"].(int); ok && seconds >= 0 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, errors.New("expected 'duration' or 'seconds'")
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Type() models.NodeType {
	return models.NodeTypeWait
}

func (n *Node) RequiredContext() []string {
	return nil
}

func (n *Node) Execute(_ context.Context, input protocol.Input) (protocol.Result, error) {
	switch n.subtype {
	case SubtypeDuration:
		return protocol.Result{Suspend: &protocol.Suspension{
			Kind:     protocol.SuspendUntil,
			ResumeAt: input.Now.Add(n.duration),
		}}, nil
	case SubtypeDatetime:
		return protocol.Result{Suspend: &protocol.Suspension{
			Kind:     protocol.SuspendUntil,
			ResumeAt: n.at,
		}}, nil
	default:
		suspension := &protocol.Suspension{
			Kind:      protocol.SuspendEvent,
			EventType: n.eventType,
			Filter:    n.filter,
		}

		if n.timeout > 0 {
			timeoutAt := input.Now.Add(n.timeout)
			suspension.TimeoutAt = &timeoutAt
		}

		return protocol.Result{Suspend: suspension}, nil
	}
}
