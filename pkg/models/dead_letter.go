package models

import "time"

type DeadLetterStatus string

const (
	DeadLetterStatusPending  DeadLetterStatus = "pending"
	DeadLetterStatusResolved DeadLetterStatus = "resolved"
	DeadLetterStatusIgnored  DeadLetterStatus = "ignored"
)

// WorkflowDeadLetter is the immutable record of a permanently failed execution.
// Only the resolution fields change after creation.
type WorkflowDeadLetter struct {
	ID                string           `json:"id"`
	WorkspaceID       string           `json:"workspace_id"`
	ExecutionID       string           `json:"execution_id"`
	DefinitionID      string           `json:"definition_id"`
	StepID            string           `json:"step_id,omitempty"`
	NodeID            string           `json:"node_id"`
	NodeType          NodeType         `json:"node_type"`
	BranchID          string           `json:"branch_id,omitempty"`
	ErrorType         string           `json:"error_type"`
	ErrorMessage      string           `json:"error_message"`
	RetryCount        int              `json:"retry_count"`
	InputData         map[string]any   `json:"input_data,omitempty"`
	ExecutionContext  map[string]any   `json:"execution_context,omitempty"`
	Status            DeadLetterStatus `json:"status"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy        string           `json:"resolved_by,omitempty"`
	ResolutionNotes   string           `json:"resolution_notes,omitempty"`
	ReplayExecutionID string           `json:"replay_execution_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// FailureNotification is the summary handed to the notification collaborator.
type FailureNotification struct {
	WorkspaceID  string   `json:"workspace_id"`
	ExecutionID  string   `json:"execution_id"`
	DefinitionID string   `json:"definition_id"`
	NodeID       string   `json:"node_id"`
	ErrorSummary string   `json:"error_summary"`
	Recipients   []string `json:"recipients"`
}
