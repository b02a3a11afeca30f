// Package protocol defines the interfaces and contracts between the engine and node implementations.
package protocol

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// NodeFactory creates node instances and provides metadata about the node type.
type NodeFactory interface {
	// Create creates a new node instance from its definition
	Create(ctx context.Context, node *models.Node) (Node, error)

	// Type returns the node type this factory builds
	Type() models.NodeType

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Subtypes returns the accepted subtypes; nil accepts any subtype
	Subtypes() []string

	// Contract returns the capabilities shared by every node of this type
	Contract() Contract

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}

// Contract describes what the engine may expect from a node type.
type Contract struct {
	CanSuspend bool `json:"can_suspend"`
	Retryable  bool `json:"retryable"`
	CanFork    bool `json:"can_fork"`
}

// Node is an executable node instance.
type Node interface {
	ID() string
	Type() models.NodeType
	// RequiredContext lists context keys that must be present before Execute runs.
	RequiredContext() []string
	Execute(ctx context.Context, input Input) (Result, error)
}

// Input is what a node sees when it runs.
type Input struct {
	ExecutionID string
	WorkspaceID string
	BranchID    string
	Context     map[string]any
	TriggerData map[string]any
	Now         time.Time
}

// Result is the outcome of a node that did not fail.
type Result struct {
	Output          map[string]any
	ConditionResult *bool
	// SelectedBranch picks the outgoing edge by handle or label
	SelectedBranch string
	// Suspend requests the execution to pause on this node
	Suspend *Suspension
	// Fork activates every outgoing edge as an independent continuation
	Fork bool
}

type SuspensionKind string

const (
	SuspendUntil SuspensionKind = "until"
	SuspendEvent SuspensionKind = "event"
)

// Suspension describes how a paused execution is resumed. Exactly one path applies:
// ResumeAt for clock waits, EventType and Filter for event waits.
type Suspension struct {
	Kind      SuspensionKind
	ResumeAt  time.Time
	EventType string
	Filter    map[string]any
	TimeoutAt *time.Time
}
