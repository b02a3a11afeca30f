package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Reasons reported by ExecutionResumed events.
const (
	ResumeReasonClock   = "clock"
	ResumeReasonEvent   = "event"
	ResumeReasonTimeout = "timeout"
)

// suspend pauses the execution on a wait node. A clock wait only sets
// resume_at; an event wait only registers a subscription.
func (e *Executor) suspend(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, node *models.Node, th *thread, step *models.WorkflowExecutionStep, suspension *protocol.Suspension) error {
	if th.branch != nil {
		return e.handleFailure(ctx, execution, definition, node, th, step,
			protocol.NewConfigurationError(node.ID, "wait nodes cannot run inside a parallel branch", protocol.ErrWaitInParallelRegion))
	}

	now := e.now()
	step.Status = models.StepStatusWaiting
	step.UpdatedAt = now

	if err := e.persistence.StepRepository().Save(ctx, step); err != nil {
		return protocol.NewSystemError("failed to save step", err)
	}

	subscriptions := e.persistence.SubscriptionRepository()

	// a previous attempt may have registered a subscription before failing to pause
	if err := subscriptions.DeactivateByExecution(ctx, execution.ID); err != nil {
		return protocol.NewSystemError("failed to deactivate subscriptions", err)
	}

	execution.Status = models.ExecutionStatusPaused
	execution.CurrentNodeID = node.ID
	execution.NextNodeID = node.ID
	execution.NextRunAt = nil
	execution.ResumeAt = nil
	execution.WaitEventType = ""
	execution.WaitTimeoutAt = nil
	execution.UpdatedAt = now

	paused := events.ExecutionPaused{
		BaseEvent: events.NewBaseEvent(events.ExecutionPausedEvent, execution),
		NodeID:    node.ID,
	}

	switch suspension.Kind {
	case protocol.SuspendUntil:
		resumeAt := suspension.ResumeAt.UTC()
		execution.ResumeAt = &resumeAt
		paused.ResumeAt = &resumeAt
	case protocol.SuspendEvent:
		subscription := &models.WorkflowEventSubscription{
			ID:          uuid.New().String(),
			WorkspaceID: execution.WorkspaceID,
			ExecutionID: execution.ID,
			NodeID:      node.ID,
			EventType:   suspension.EventType,
			EventFilter: suspension.Filter,
			TimeoutAt:   suspension.TimeoutAt,
			IsActive:    true,
			CreatedAt:   now,
		}

		if err := subscriptions.Create(ctx, subscription); err != nil {
			return protocol.NewSystemError("failed to create event subscription", err)
		}

		execution.WaitEventType = suspension.EventType
		execution.WaitTimeoutAt = suspension.TimeoutAt
		paused.WaitEventType = suspension.EventType
	default:
		return e.handleFailure(ctx, execution, definition, node, th, step,
			protocol.NewConfigurationError(node.ID, fmt.Sprintf("unknown suspension kind %q", suspension.Kind), nil))
	}

	if err := e.persistence.ExecutionRepository().Update(ctx, execution); err != nil {
		return protocol.NewSystemError("failed to pause execution", err)
	}

	e.metrics.RecordStep(node.Type, step.Status, step.Duration)
	e.publish(ctx, execution.ID, paused)

	e.logger.InfoContext(ctx, "Execution paused",
		"execution_id", execution.ID,
		"node_id", node.ID,
		"resume_at", execution.ResumeAt,
		"wait_event_type", execution.WaitEventType)

	return nil
}

type resumption struct {
	reason   string
	selected string
	output   map[string]any
}

// resume completes the wait step the execution is paused on and makes the
// execution runnable again. The cursor stays on the wait node: the next
// cycle replays the finished step and follows its edge.
//
// The step only moves out of WAITING once, so when a delivered event and an
// expired timeout race for the same wait exactly one of them picks the edge.
// The loser gets a step conflict.
func (e *Executor) resume(ctx context.Context, execution *models.WorkflowExecution, r resumption) error {
	steps := e.persistence.StepRepository()
	now := e.now()

	step, err := steps.Get(ctx, execution.ID, execution.NextNodeID, models.RootBranchID)

	switch {
	case err == nil && step.Status != models.StepStatusWaiting:
		return e.finishResumption(ctx, execution, step)
	case err != nil && !persistence.IsStepNotFound(err):
		return protocol.NewSystemError("failed to load wait step", err)
	}

	from := models.StepStatusWaiting

	if step == nil {
		from = ""
		step = &models.WorkflowExecutionStep{
			ID:          uuid.New().String(),
			ExecutionID: execution.ID,
			NodeID:      execution.NextNodeID,
			NodeType:    models.NodeTypeWait,
			BranchID:    models.RootBranchID,
			CreatedAt:   now,
		}
	}

	step.Status = models.StepStatusSuccess
	step.OutputData = r.output
	step.SelectedBranch = r.selected
	step.CompletedAt = &now
	step.UpdatedAt = now

	if step.StartedAt != nil {
		step.Duration = now.Sub(*step.StartedAt)
	}

	if from == "" {
		err = steps.Save(ctx, step)
	} else {
		err = steps.Transition(ctx, step, from)
	}

	if err != nil {
		if persistence.IsStepConflict(err) {
			return err
		}

		return protocol.NewSystemError("failed to save wait step", err)
	}

	execution.Status = models.ExecutionStatusRunning
	execution.ResumeAt = nil
	execution.WaitEventType = ""
	execution.WaitTimeoutAt = nil

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	e.metrics.RecordStep(models.NodeTypeWait, step.Status, step.Duration)
	e.publish(ctx, execution.ID, events.ExecutionResumed{
		BaseEvent: events.NewBaseEvent(events.ExecutionResumedEvent, execution),
		NodeID:    step.NodeID,
		Reason:    r.reason,
	})

	e.logger.InfoContext(ctx, "Execution resumed",
		"execution_id", execution.ID,
		"node_id", step.NodeID,
		"reason", r.reason)

	return nil
}

// finishResumption handles a wait step that another resumption already
// completed. If that resumption stopped before making the execution runnable,
// the execution is released so the next cycle follows the stored step. Either
// way the caller lost the wait and gets a step conflict.
func (e *Executor) finishResumption(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowExecutionStep) error {
	lost := persistence.NewStepError("Resume", execution.ID, step.NodeID, persistence.ErrStepConflict)

	if step.Status != models.StepStatusSuccess {
		return lost
	}

	execution.Status = models.ExecutionStatusRunning
	execution.ResumeAt = nil
	execution.WaitEventType = ""
	execution.WaitTimeoutAt = nil

	if err := e.save(ctx, execution); err != nil {
		if persistence.IsExecutionConflict(err) {
			return lost
		}

		return err
	}

	e.logger.InfoContext(ctx, "Released execution from completed wait",
		"execution_id", execution.ID,
		"node_id", step.NodeID,
		"selected_branch", step.SelectedBranch)

	return lost
}

// ResumeDue resumes a clock wait whose resume_at has passed. It never
// resumes before resume_at.
func (e *Executor) ResumeDue(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	if execution.Status != models.ExecutionStatusPaused || execution.ResumeAt == nil {
		return false, nil
	}

	if e.now().Before(*execution.ResumeAt) {
		return false, nil
	}

	if err := e.resume(ctx, execution, resumption{reason: ResumeReasonClock}); err != nil {
		return false, ignoreConflict(err)
	}

	return true, nil
}

// DeliverEvent resumes every execution waiting for event whose subscription
// filter matches the event entity. It returns the ids of resumed executions.
func (e *Executor) DeliverEvent(ctx context.Context, event events.TriggerEvent) ([]string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.event.deliver",
		attribute.String(otelhelper.WorkspaceIDKey, event.WorkspaceID),
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.EventTypeKey, event.EventType),
	)
	defer span.End()

	subscriptions, err := e.persistence.SubscriptionRepository().FindActiveByEventType(ctx, event.WorkspaceID, event.EventType)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, protocol.NewSystemError("failed to find subscriptions", err)
	}

	var (
		resumed []string
		errs    []error
	)

	for _, subscription := range subscriptions {
		if !MatchesFilter(subscription.EventFilter, event.EntityContext) {
			continue
		}

		ok, err := e.deliver(ctx, subscription, event)
		if err != nil {
			if !isConflict(err) {
				errs = append(errs, fmt.Errorf("subscription %s: %w", subscription.ID, err))
			}

			continue
		}

		if ok {
			resumed = append(resumed, subscription.ExecutionID)
		}
	}

	if err := errors.Join(errs...); err != nil {
		otelhelper.SetError(span, err)

		return resumed, err
	}

	return resumed, nil
}

func (e *Executor) deliver(ctx context.Context, subscription *models.WorkflowEventSubscription, event events.TriggerEvent) (bool, error) {
	execution, live, err := e.waitingExecution(ctx, subscription)
	if err != nil || !live {
		return false, err
	}

	data := models.CopyMap(event.EntityContext)

	if err := e.resume(ctx, execution, resumption{reason: ResumeReasonEvent, output: data}); err != nil {
		return false, err
	}

	now := e.now()
	subscription.IsActive = false
	subscription.MatchedAt = &now
	subscription.MatchedEventData = data

	if err := e.persistence.SubscriptionRepository().Update(ctx, subscription); err != nil {
		return true, protocol.NewSystemError("failed to deactivate matched subscription", err)
	}

	return true, nil
}

// Expire handles a subscription whose timeout has passed: the execution
// resumes down the wait node's timeout edge, or fails with a timeout error
// when the node has none. It reports whether the execution was resumed.
func (e *Executor) Expire(ctx context.Context, subscription *models.WorkflowEventSubscription) (bool, error) {
	if subscription.TimeoutAt == nil || e.now().Before(*subscription.TimeoutAt) {
		return false, nil
	}

	execution, live, err := e.waitingExecution(ctx, subscription)
	if err != nil || !live {
		return false, ignoreConflict(err)
	}

	definition, err := e.definitionFor(ctx, execution)
	if err != nil {
		if protocol.KindOf(err) != protocol.KindConfiguration {
			return false, err
		}

		return false, ignoreConflict(e.deadLetter(ctx, execution, nil, failure{
			nodeID:    subscription.NodeID,
			branchID:  models.RootBranchID,
			errorType: string(protocol.KindConfiguration),
			err:       err,
			context:   execution.Context,
		}))
	}

	if edgeByKey(definition.OutgoingEdges(subscription.NodeID), models.EdgeLabelTimeout) != nil {
		err := e.resume(ctx, execution, resumption{reason: ResumeReasonTimeout, selected: models.EdgeLabelTimeout})
		if err != nil {
			return false, ignoreConflict(err)
		}

		return true, e.deactivate(ctx, subscription)
	}

	node := definition.NodeByID(subscription.NodeID)
	if node == nil {
		node = &models.Node{ID: subscription.NodeID, Type: models.NodeTypeWait}
	}

	th := &thread{execution: execution}

	step, err := e.persistence.StepRepository().Get(ctx, execution.ID, subscription.NodeID, models.RootBranchID)
	if err != nil {
		if !persistence.IsStepNotFound(err) {
			return false, protocol.NewSystemError("failed to load wait step", err)
		}

		step = e.newStep(execution, definition, node, th)
	}

	timeoutErr := protocol.NewTimeoutError(node.ID,
		fmt.Sprintf("no %s event matched before %s", subscription.EventType, subscription.TimeoutAt.Format(time.RFC3339)))

	switch step.Status {
	case models.StepStatusSuccess:
		return false, ignoreConflict(e.finishResumption(ctx, execution, step))
	case models.StepStatusWaiting:
		// claim the wait before failing it so a concurrent delivery cannot also resume it
		claimed := *step
		claimed.Status = models.StepStatusFailed
		claimed.Error = timeoutErr.Error()

		if err := e.persistence.StepRepository().Transition(ctx, &claimed, models.StepStatusWaiting); err != nil {
			if persistence.IsStepConflict(err) {
				return false, nil
			}

			return false, protocol.NewSystemError("failed to claim wait step", err)
		}
	}

	return false, ignoreConflict(e.failStep(ctx, execution, definition, node, th, step, string(protocol.KindTimeout), timeoutErr))
}

// waitingExecution loads the execution of subscription. Subscriptions whose
// execution no longer waits on them are deactivated and reported as not live.
func (e *Executor) waitingExecution(ctx context.Context, subscription *models.WorkflowEventSubscription) (*models.WorkflowExecution, bool, error) {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, subscription.ExecutionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, false, e.deactivate(ctx, subscription)
		}

		return nil, false, protocol.NewSystemError("failed to load execution", err)
	}

	if execution.Status != models.ExecutionStatusPaused ||
		execution.NextNodeID != subscription.NodeID ||
		execution.WaitEventType != subscription.EventType {
		return nil, false, e.deactivate(ctx, subscription)
	}

	return execution, true, nil
}

func (e *Executor) deactivate(ctx context.Context, subscription *models.WorkflowEventSubscription) error {
	subscription.IsActive = false

	if err := e.persistence.SubscriptionRepository().Update(ctx, subscription); err != nil {
		return protocol.NewSystemError("failed to deactivate subscription", err)
	}

	return nil
}
