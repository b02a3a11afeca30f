package models

import (
	"encoding/json"
	"time"
)

// RootBranchID identifies the main continuation of an execution.
const RootBranchID = "root"

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// WorkflowExecution is one run of a definition, created for one triggering event.
type WorkflowExecution struct {
	ID                string          `json:"id"`
	WorkspaceID       string          `json:"workspace_id"`
	DefinitionID      string          `json:"definition_id"`
	DefinitionVersion int             `json:"definition_version"`
	Status            ExecutionStatus `json:"status"`
	CurrentNodeID     string          `json:"current_node_id,omitempty"`
	NextNodeID        string          `json:"next_node_id,omitempty"`
	Context           map[string]any  `json:"context"`
	TriggerData       map[string]any  `json:"trigger_data"`
	ResumeAt          *time.Time      `json:"resume_at,omitempty"`
	WaitEventType     string          `json:"wait_event_type,omitempty"`
	WaitTimeoutAt     *time.Time      `json:"wait_timeout_at,omitempty"`
	NextRunAt         *time.Time      `json:"next_run_at,omitempty"`
	Error             string          `json:"error,omitempty"`
	ErrorNodeID       string          `json:"error_node_id,omitempty"`
	Branches          []*Branch       `json:"branches,omitempty"`
	Sequence          int             `json:"sequence"`
	ReplayOf          string          `json:"replay_of,omitempty"`
	Revision          int64           `json:"revision"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// BranchByID returns the child continuation with the given id, or nil.
func (e *WorkflowExecution) BranchByID(id string) *Branch {
	for _, branch := range e.Branches {
		if branch.ID == id {
			return branch
		}
	}

	return nil
}

// ChildBranches returns the continuations forked from parentID in creation order.
func (e *WorkflowExecution) ChildBranches(parentID string) []*Branch {
	var children []*Branch

	for _, branch := range e.Branches {
		if branch.ParentID == parentID {
			children = append(children, branch)
		}
	}

	return children
}

// NextSequence returns a monotonically increasing counter used to order branch arrivals.
func (e *WorkflowExecution) NextSequence() int {
	e.Sequence++

	return e.Sequence
}

type BranchStatus string

const (
	// BranchStatusActive continuations have a node to run.
	BranchStatusActive    BranchStatus = "active"
	// BranchStatusForked continuations are parked until their own children settle.
	BranchStatusForked    BranchStatus = "forked"
	// BranchStatusArrived continuations are parked at a join node.
	BranchStatusArrived   BranchStatus = "arrived"
	// BranchStatusCompleted continuations reached a terminal node or were merged by a join.
	BranchStatusCompleted BranchStatus = "completed"
	// BranchStatusSkipped continuations were discarded by an any/count join.
	BranchStatusSkipped   BranchStatus = "skipped"
)

// IsLive reports whether the continuation can still produce work or arrive at a join.
func (s BranchStatus) IsLive() bool {
	return s == BranchStatusActive || s == BranchStatusForked
}

// Branch is a parallel continuation created by a branch node. Its context is a
// copy of the parent context at fork time; Delta holds only the keys it wrote.
type Branch struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id"`
	ForkNodeID string         `json:"fork_node_id"`
	NodeID     string         `json:"node_id,omitempty"`
	Status     BranchStatus   `json:"status"`
	Context    map[string]any `json:"context"`
	Delta      map[string]any `json:"delta"`
	JoinNodeID string         `json:"join_node_id,omitempty"`
	FinishedAt int            `json:"finished_at,omitempty"`
}

// CopyMap returns a deep copy of a JSON-compatible map.
func CopyMap(source map[string]any) map[string]any {
	if source == nil {
		return map[string]any{}
	}

	data, err := json.Marshal(source)
	if err != nil {
		copied := make(map[string]any, len(source))
		for k, v := range source {
			copied[k] = v
		}

		return copied
	}

	var copied map[string]any
	if err := json.Unmarshal(data, &copied); err != nil || copied == nil {
		return map[string]any{}
	}

	return copied
}
