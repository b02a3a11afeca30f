// Package trigger provides the entry node of every workflow.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/robfig/cron/v3"
)

const SubtypeScheduled = "scheduled"

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a five-field cron expression.
func ParseSchedule(expression string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	return schedule, nil
}

// Node marks where an execution starts. Matching against events happens
// before the execution exists, so running it only records what fired.
type Node struct {
	id       string
	subtype  string
	filter   map[string]any
	schedule cron.Schedule
}

func NewNode(node *models.Node) (*Node, error) {
	n := &Node{id: node.ID, subtype: node.Subtype}

	if filter, ok := node.Config["filter"].(map[string]any); ok {
		n.filter = filter
	}

	if node.Subtype == SubtypeScheduled {
		expression := node.StringConfig("cron")
		if expression == "" {
			return nil, protocol.NewConfigurationError(node.ID, "scheduled trigger requires 'cron'", nil)
		}

		schedule, err := ParseSchedule(expression)
		if err != nil {
			return nil, protocol.NewConfigurationError(node.ID, "invalid schedule", err)
		}

		n.schedule = schedule
	}

	return n, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Type() models.NodeType {
	return models.NodeTypeTrigger
}

func (n *Node) RequiredContext() []string {
	return nil
}

// Filter returns the trigger-level equality filter, if any.
func (n *Node) Filter() map[string]any {
	return n.filter
}

// Next returns the next scheduled fire time after t. ok is false for non-scheduled triggers.
func (n *Node) Next(t time.Time) (next time.Time, ok bool) {
	if n.schedule == nil {
		return time.Time{}, false
	}

	return n.schedule.Next(t), true
}

func (n *Node) Execute(_ context.Context, input protocol.Input) (protocol.Result, error) {
	return protocol.Result{
		Output: map[string]any{
			"trigger_type": n.subtype,
			"triggered_at": input.Now.UTC().Format(time.RFC3339),
		},
	}, nil
}
