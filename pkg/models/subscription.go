package models

import "time"

// WorkflowEventSubscription links a paused execution to the external event it waits for.
type WorkflowEventSubscription struct {
	ID               string         `json:"id"`
	WorkspaceID      string         `json:"workspace_id"`
	ExecutionID      string         `json:"execution_id"`
	NodeID           string         `json:"node_id"`
	EventType        string         `json:"event_type"`
	EventFilter      map[string]any `json:"event_filter,omitempty"`
	TimeoutAt        *time.Time     `json:"timeout_at,omitempty"`
	IsActive         bool           `json:"is_active"`
	MatchedAt        *time.Time     `json:"matched_at,omitempty"`
	MatchedEventData map[string]any `json:"matched_event_data,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
