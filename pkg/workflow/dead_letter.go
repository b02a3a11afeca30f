package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/retry"
	"github.com/google/uuid"
)

// failure describes the node failure that ends an execution. node and step
// are nil when the execution failed before a node could be resolved.
type failure struct {
	node      *models.Node
	nodeID    string
	branchID  string
	step      *models.WorkflowExecutionStep
	errorType string
	err       error
	context   map[string]any
}

// deadLetter records the failure and moves the execution to FAILED. A dead
// letter already written by a previous attempt of this cycle is reused.
func (e *Executor) deadLetter(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, f failure) error {
	now := e.now()
	letters := e.persistence.DeadLetterRepository()

	letter := &models.WorkflowDeadLetter{
		ID:               uuid.New().String(),
		WorkspaceID:      execution.WorkspaceID,
		ExecutionID:      execution.ID,
		DefinitionID:     execution.DefinitionID,
		NodeID:           f.nodeID,
		BranchID:         f.branchID,
		ErrorType:        f.errorType,
		ErrorMessage:     f.err.Error(),
		ExecutionContext: models.CopyMap(f.context),
		Status:           models.DeadLetterStatusPending,
		CreatedAt:        now,
	}

	if f.node != nil {
		letter.NodeType = f.node.Type
	}

	if f.step != nil {
		letter.StepID = f.step.ID
		letter.RetryCount = f.step.RetryCount
		letter.InputData = f.step.InputData
	}

	if err := letters.Create(ctx, letter); err != nil {
		if !persistence.IsDeadLetterExists(err) {
			return protocol.NewSystemError("failed to create dead letter", err)
		}

		existing, err := letters.GetByExecution(ctx, execution.ID)
		if err != nil {
			return protocol.NewSystemError("failed to load dead letter", err)
		}

		letter = existing
	}

	execution.Status = models.ExecutionStatusFailed
	execution.Error = letter.ErrorMessage
	execution.ErrorNodeID = letter.NodeID
	execution.CompletedAt = &now
	execution.NextRunAt = nil
	execution.ResumeAt = nil
	execution.WaitEventType = ""
	execution.WaitTimeoutAt = nil
	execution.UpdatedAt = now

	if err := e.persistence.ExecutionRepository().Update(ctx, execution); err != nil {
		return protocol.NewSystemError("failed to fail execution", err)
	}

	if err := e.persistence.SubscriptionRepository().DeactivateByExecution(ctx, execution.ID); err != nil {
		e.logger.WarnContext(ctx, "Failed to deactivate subscriptions", "execution_id", execution.ID, "error", err)
	}

	e.metrics.RecordExecutionFinished(execution.DefinitionID, execution.Status, executionDuration(execution, now))
	e.metrics.RecordDeadLetter(execution.DefinitionID, letter.ErrorType)

	if definition != nil && definition.NotifyOnFailure && e.notifier != nil {
		err := e.notifier.NotifyFailure(ctx, models.FailureNotification{
			WorkspaceID:  execution.WorkspaceID,
			ExecutionID:  execution.ID,
			DefinitionID: execution.DefinitionID,
			NodeID:       letter.NodeID,
			ErrorSummary: letter.ErrorMessage,
			Recipients:   definition.NotifyRecipients,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to send failure notification", "execution_id", execution.ID, "error", err)
		}
	}

	e.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:    events.NewBaseEvent(events.ExecutionFailedEvent, execution),
		NodeID:       letter.NodeID,
		ErrorType:    letter.ErrorType,
		Error:        letter.ErrorMessage,
		DeadLetterID: letter.ID,
	})

	e.logger.ErrorContext(ctx, "Execution failed",
		"execution_id", execution.ID,
		"node_id", letter.NodeID,
		"error_type", letter.ErrorType,
		"dead_letter_id", letter.ID,
		"error", letter.ErrorMessage)

	return nil
}

// errorTypeOf recovers the error type of a step that failed in an earlier
// cycle from its stored message.
func errorTypeOf(nodeID, message string) string {
	for _, kind := range []protocol.ErrorKind{protocol.KindValidation, protocol.KindConfiguration, protocol.KindTimeout} {
		if strings.HasPrefix(message, string(kind)) {
			return string(kind)
		}
	}

	return string(retry.ClassifyMessage(failureMessage(nodeID, message)))
}

// failureMessage strips the kind and node prefix of a stored error so the
// node ID cannot decide the retry category.
func failureMessage(nodeID, message string) string {
	kinds := []protocol.ErrorKind{
		protocol.KindNodeExecution,
		protocol.KindSystem,
		protocol.KindTimeout,
		protocol.KindConfiguration,
		protocol.KindValidation,
	}

	for _, kind := range kinds {
		if rest, ok := strings.CutPrefix(message, fmt.Sprintf("%s at node %s: ", kind, nodeID)); ok {
			return rest
		}

		if rest, ok := strings.CutPrefix(message, string(kind)+": "); ok {
			return rest
		}
	}

	return message
}

// Replay starts a new execution of the dead-lettered execution's definition
// from the node that failed, with the context captured when it failed. The
// failed execution itself stays terminal.
func (e *Executor) Replay(ctx context.Context, letter *models.WorkflowDeadLetter) (*models.WorkflowExecution, error) {
	original, err := e.persistence.ExecutionRepository().GetByID(ctx, letter.ExecutionID)
	if err != nil {
		return nil, err
	}

	if letter.NodeID == "" {
		return nil, protocol.NewValidationError("dead letter has no failing node to replay from", nil)
	}

	if letter.BranchID != "" && letter.BranchID != models.RootBranchID {
		return nil, protocol.NewValidationError("cannot replay a failure inside a parallel branch", nil)
	}

	now := e.now()
	execution := &models.WorkflowExecution{
		ID:                uuid.New().String(),
		WorkspaceID:       original.WorkspaceID,
		DefinitionID:      original.DefinitionID,
		DefinitionVersion: original.DefinitionVersion,
		Status:            models.ExecutionStatusPending,
		NextNodeID:        letter.NodeID,
		Context:           models.CopyMap(letter.ExecutionContext),
		TriggerData:       models.CopyMap(original.TriggerData),
		ReplayOf:          original.ID,
		NextRunAt:         &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := e.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, protocol.NewSystemError("failed to create replay execution", err)
	}

	e.logger.InfoContext(ctx, "Replay execution created",
		"execution_id", execution.ID,
		"replay_of", original.ID,
		"node_id", letter.NodeID)

	return execution, nil
}
