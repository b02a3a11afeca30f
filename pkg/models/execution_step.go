package models

import "time"

type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusRunning  StepStatus = "running"
	StepStatusSuccess  StepStatus = "success"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
	StepStatusWaiting  StepStatus = "waiting"
	StepStatusRetrying StepStatus = "retrying"
)

// WorkflowExecutionStep records one node visited by one continuation of an execution.
// Retries mutate the same row.
type WorkflowExecutionStep struct {
	ID              string         `json:"id"`
	ExecutionID     string         `json:"execution_id"`
	NodeID          string         `json:"node_id"`
	NodeType        NodeType       `json:"node_type"`
	BranchID        string         `json:"branch_id"`
	Status          StepStatus     `json:"status"`
	InputData       map[string]any `json:"input_data,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ConditionResult *bool          `json:"condition_result,omitempty"`
	SelectedBranch  string         `json:"selected_branch,omitempty"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	NextRetryAt     *time.Time     `json:"next_retry_at,omitempty"`
	Error           string         `json:"error,omitempty"`
	Duration        time.Duration  `json:"duration"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
