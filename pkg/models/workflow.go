// Package models provides the core domain models for workflow definitions, executions and their records.
package models

import (
	"encoding/json"
	"time"
)

// MaxWorkflowVersions is the number of superseded definition snapshots kept per definition.
const MaxWorkflowVersions = 20

// Edge labels with a reserved meaning for the engine.
const (
	EdgeLabelTrue    = "true"
	EdgeLabelFalse   = "false"
	EdgeLabelTimeout = "timeout"
)

// WorkflowDefinition is the authored DAG of a workflow together with its retry policy and publish state.
type WorkflowDefinition struct {
	ID               string      `json:"id"                 validate:"required"`
	WorkspaceID      string      `json:"workspace_id"       validate:"required"`
	Name             string      `json:"name"               validate:"required,min=3"`
	Description      string      `json:"description"`
	Nodes            []*Node     `json:"nodes"              validate:"dive"`
	Edges            []*Edge     `json:"edges"              validate:"dive"`
	ExecutionOrder   []string    `json:"execution_order"`
	Version          int         `json:"version"`
	IsPublished      bool        `json:"is_published"`
	PublishedAt      *time.Time  `json:"published_at,omitempty"`
	RetryConfig      RetryConfig `json:"retry_config"`
	NotifyOnFailure  bool        `json:"notify_on_failure"`
	NotifyRecipients []string    `json:"notify_recipients,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Edge connects two nodes. Handle or Label selects the edge for condition and wait nodes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"           validate:"required"`
	Target string `json:"target"           validate:"required"`
	Handle string `json:"handle,omitempty"`
	Label  string `json:"label,omitempty"`
}

// BranchKey returns the key used to select this edge, preferring the handle over the label.
func (e *Edge) BranchKey() string {
	if e.Handle != "" {
		return e.Handle
	}

	return e.Label
}

// RetryConfig controls how failed nodes are retried. Delays are expressed in seconds.
type RetryConfig struct {
	MaxRetries               int      `json:"max_retries"                validate:"gte=0"`
	InitialDelay             float64  `json:"initial_delay"              validate:"gte=0"`
	BackoffMultiplier        float64  `json:"backoff_multiplier"         validate:"gte=0"`
	MaxDelay                 float64  `json:"max_delay"                  validate:"gte=0"`
	RetryableErrorCategories []string `json:"retryable_error_categories"`
	Jitter                   bool     `json:"jitter,omitempty"`
}

// IsZero reports whether no retry policy was configured at all.
func (r RetryConfig) IsZero() bool {
	return r.MaxRetries == 0 && r.InitialDelay == 0 && r.BackoffMultiplier == 0 &&
		r.MaxDelay == 0 && len(r.RetryableErrorCategories) == 0
}

// DefaultRetryConfig returns the policy applied to definitions saved without one.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      60,
		BackoffMultiplier: 2,
		MaxDelay:          3600,
		RetryableErrorCategories: []string{
			"timeout", "rate_limit", "server_error", "connection_error",
		},
	}
}

// NodeByID returns the node with the given id, or nil.
func (w *WorkflowDefinition) NodeByID(id string) *Node {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving nodeID in declaration order.
func (w *WorkflowDefinition) OutgoingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// IncomingEdges returns the edges entering nodeID in declaration order.
func (w *WorkflowDefinition) IncomingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range w.Edges {
		if edge.Target == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// EntryNode returns the first trigger node without incoming edges.
func (w *WorkflowDefinition) EntryNode() *Node {
	for _, node := range w.Nodes {
		if node.Type == NodeTypeTrigger && len(w.IncomingEdges(node.ID)) == 0 {
			return node
		}
	}

	return nil
}

// Clone returns a deep copy of the definition.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	data, err := json.Marshal(w)
	if err != nil {
		return nil
	}

	var clone WorkflowDefinition
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil
	}

	return &clone
}

// WorkflowVersion is a snapshot of a definition as it was before being superseded.
type WorkflowVersion struct {
	ID           string              `json:"id"`
	DefinitionID string              `json:"definition_id"`
	Version      int                 `json:"version"`
	Definition   *WorkflowDefinition `json:"definition"`
	CreatedAt    time.Time           `json:"created_at"`
}
