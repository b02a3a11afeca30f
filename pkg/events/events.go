// Package events defines the messages exchanged on the event bus: inbound trigger
// events and execution lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const (
	TriggerTopic      = "autoflow.triggers"   // inbound domain events
	ExecutionTopic    = "autoflow.executions" // execution lifecycle
	NotificationTopic = "autoflow.notifications"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Node lifecycle events.
	NodeFinishedEvent       EventType = "node.finished"
	NodeFailedEvent         EventType = "node.failed"
	NodeRetryScheduledEvent EventType = "node.retry_scheduled"

	// FailureNotificationEvent carries the operator notification of a dead-lettered execution.
	FailureNotificationEvent EventType = "execution.failure_notification"
)

// Topic returns the bus topic an event type is published on.
func Topic(eventType EventType) string {
	switch eventType {
	case TriggerReceivedEvent:
		return TriggerTopic
	case FailureNotificationEvent:
		return NotificationTopic
	default:
		return ExecutionTopic
	}
}

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	WorkspaceID  string         `json:"workspace_id"`
	ExecutionID  string         `json:"execution_id"`
	DefinitionID string         `json:"definition_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, execution *models.WorkflowExecution) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		WorkspaceID:  execution.WorkspaceID,
		ExecutionID:  execution.ID,
		DefinitionID: execution.DefinitionID,
		Metadata:     make(map[string]any),
	}
}

type ExecutionStarted struct {
	BaseEvent

	DefinitionVersion int    `json:"definition_version"`
	ReplayOf          string `json:"replay_of,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionPaused struct {
	BaseEvent

	NodeID        string     `json:"node_id"`
	ResumeAt      *time.Time `json:"resume_at,omitempty"`
	WaitEventType string     `json:"wait_event_type,omitempty"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	// Reason is "clock", "event" or "timeout".
	Reason string `json:"reason"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Context  map[string]any `json:"context,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	NodeID       string `json:"node_id"`
	ErrorType    string `json:"error_type"`
	Error        string `json:"error"`
	DeadLetterID string `json:"dead_letter_id"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type NodeFinished struct {
	BaseEvent

	NodeID   string            `json:"node_id"`
	NodeType models.NodeType   `json:"node_type"`
	BranchID string            `json:"branch_id"`
	Status   models.StepStatus `json:"status"`
	Duration time.Duration     `json:"duration"`
}

func (e NodeFinished) GetType() EventType {
	return NodeFinishedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID   string `json:"node_id"`
	BranchID string `json:"branch_id"`
	Error    string `json:"error"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type NodeRetryScheduled struct {
	BaseEvent

	NodeID      string    `json:"node_id"`
	BranchID    string    `json:"branch_id"`
	RetryCount  int       `json:"retry_count"`
	Category    string    `json:"category"`
	NextRetryAt time.Time `json:"next_retry_at"`
}

func (e NodeRetryScheduled) GetType() EventType {
	return NodeRetryScheduledEvent
}

type FailureNotification struct {
	BaseEvent

	NodeID       string   `json:"node_id"`
	ErrorSummary string   `json:"error_summary"`
	Recipients   []string `json:"recipients"`
}

// NewFailureNotification builds the bus message for a failure notification.
func NewFailureNotification(notification models.FailureNotification) FailureNotification {
	base := NewBaseEvent(FailureNotificationEvent, &models.WorkflowExecution{
		ID:           notification.ExecutionID,
		WorkspaceID:  notification.WorkspaceID,
		DefinitionID: notification.DefinitionID,
	})

	return FailureNotification{
		BaseEvent:    base,
		NodeID:       notification.NodeID,
		ErrorSummary: notification.ErrorSummary,
		Recipients:   notification.Recipients,
	}
}

func (e FailureNotification) GetType() EventType {
	return FailureNotificationEvent
}
