// Package workflow runs workflow executions: it matches trigger events, steps
// executions through their DAG, suspends and resumes them on waits, and
// dead-letters them when they fail for good.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/notify"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStepBudget is the number of steps Advance runs before handing the execution back to the scheduler.
const DefaultStepBudget = 100

// ErrExecutionFinished is returned when cancelling an execution that already reached a terminal status.
var ErrExecutionFinished = errors.New("execution already finished")

// Executor advances executions. It keeps no per-execution state between
// calls: every cycle rehydrates the execution from persistence.
type Executor struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	notifier    notify.Notifier
	metrics     metrics.Collector
	tracer      trace.Tracer
	now         func() time.Time
	stepBudget  int
}

type Option func(*Executor)

// WithPublisher publishes lifecycle events on the bus.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithNotifier(notifier notify.Notifier) Option {
	return func(e *Executor) {
		e.notifier = notifier
	}
}

func WithMetrics(collector metrics.Collector) Option {
	return func(e *Executor) {
		e.metrics = collector
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func WithStepBudget(budget int) Option {
	return func(e *Executor) {
		if budget > 0 {
			e.stepBudget = budget
		}
	}
}

func NewExecutor(logger *slog.Logger, persistence persistence.Persistence, registry *registry.Registry, opts ...Option) *Executor {
	e := &Executor{
		logger:      logger.With("module", "workflow_executor"),
		persistence: persistence,
		registry:    registry,
		metrics:     metrics.Nop{},
		tracer:      otelhelper.NoopTracer(),
		now:         func() time.Time { return time.Now().UTC() },
		stepBudget:  DefaultStepBudget,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Advance runs steps of the execution until it pauses, waits for a retry,
// reaches a terminal status or exhausts the step budget. Losing a revision
// race to another worker is not an error.
func (e *Executor) Advance(ctx context.Context, executionID string) error {
	for range e.stepBudget {
		// a cancelled context stops between steps, never inside one
		if err := ctx.Err(); err != nil {
			return err
		}

		execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
		if err != nil {
			return protocol.NewSystemError("failed to load execution", err)
		}

		if execution.Status.IsTerminal() {
			return nil
		}

		if execution.Status == models.ExecutionStatusPaused {
			resumed, err := e.ResumeDue(ctx, execution)
			if err != nil || !resumed {
				return ignoreConflict(err)
			}

			continue
		}

		definition, err := e.definitionFor(ctx, execution)
		if err != nil {
			if protocol.KindOf(err) != protocol.KindConfiguration {
				return err
			}

			return ignoreConflict(e.deadLetter(ctx, execution, nil, failure{
				nodeID:    execution.NextNodeID,
				branchID:  models.RootBranchID,
				errorType: string(protocol.KindConfiguration),
				err:       err,
				context:   execution.Context,
			}))
		}

		if execution.Status == models.ExecutionStatusPending {
			if err := e.start(ctx, execution); err != nil {
				return ignoreConflict(err)
			}
		}

		progressed, err := e.cycle(ctx, execution, definition)
		if err != nil {
			return ignoreConflict(err)
		}

		if !progressed {
			return nil
		}
	}

	e.logger.DebugContext(ctx, "Step budget exhausted", "execution_id", executionID)

	return nil
}

// isConflict reports a lost race with another worker: a stale execution
// revision or a step that already left the status this worker expected.
func isConflict(err error) bool {
	return persistence.IsExecutionConflict(err) || persistence.IsStepConflict(err)
}

func ignoreConflict(err error) error {
	if isConflict(err) {
		return nil
	}

	return err
}

// definitionFor returns the definition version the execution was created against.
func (e *Executor) definitionFor(ctx context.Context, execution *models.WorkflowExecution) (*models.WorkflowDefinition, error) {
	definitions := e.persistence.DefinitionRepository()

	definition, err := definitions.GetByID(ctx, execution.DefinitionID)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return nil, protocol.NewConfigurationError("", "workflow definition no longer exists", err)
		}

		return nil, protocol.NewSystemError("failed to load workflow definition", err)
	}

	if definition.Version == execution.DefinitionVersion {
		return definition, nil
	}

	version, err := definitions.GetVersion(ctx, execution.DefinitionID, execution.DefinitionVersion)
	if err != nil {
		if persistence.IsVersionNotFound(err) {
			return nil, protocol.NewConfigurationError("", "pinned definition version is no longer available", err)
		}

		return nil, protocol.NewSystemError("failed to load workflow definition version", err)
	}

	return version.Definition, nil
}

func (e *Executor) start(ctx context.Context, execution *models.WorkflowExecution) error {
	now := e.now()
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &now

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	e.metrics.RecordExecutionStarted(execution.DefinitionID)
	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:         events.NewBaseEvent(events.ExecutionStartedEvent, execution),
		DefinitionVersion: execution.DefinitionVersion,
		ReplayOf:          execution.ReplayOf,
	})

	e.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID,
		"definition_id", execution.DefinitionID,
		"definition_version", execution.DefinitionVersion)

	return nil
}

// cycle runs one step of one continuation. It reports false when nothing
// is runnable right now.
func (e *Executor) cycle(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition) (bool, error) {
	th, step, earliest, err := e.nextThread(ctx, execution)
	if err != nil {
		return false, err
	}

	if th == nil {
		if !hasPendingWork(execution) {
			return false, e.complete(ctx, execution)
		}

		if earliest == nil {
			e.logger.ErrorContext(ctx, "Execution has pending work but nothing runnable", "execution_id", execution.ID)

			return false, nil
		}

		execution.NextRunAt = earliest
		execution.UpdatedAt = e.now()

		if err := e.persistence.ExecutionRepository().Update(ctx, execution); err != nil {
			return false, protocol.NewSystemError("failed to schedule retry", err)
		}

		return false, nil
	}

	return true, e.runThread(ctx, execution, definition, th, step)
}

// nextThread picks the first runnable continuation: forked branches first,
// then the root. Continuations waiting for a retry are skipped and the
// earliest retry time is returned instead.
func (e *Executor) nextThread(ctx context.Context, execution *models.WorkflowExecution) (*thread, *models.WorkflowExecutionStep, *time.Time, error) {
	now := e.now()

	var (
		candidates []*thread
		earliest   *time.Time
	)

	for _, branch := range execution.Branches {
		if branch.Status == models.BranchStatusActive && branch.NodeID != "" {
			candidates = append(candidates, &thread{execution: execution, branch: branch})
		}
	}

	if execution.NextNodeID != "" {
		candidates = append(candidates, &thread{execution: execution})
	}

	for _, th := range candidates {
		step, err := e.persistence.StepRepository().Get(ctx, execution.ID, th.nodeID(), th.id())
		if err != nil {
			if persistence.IsStepNotFound(err) {
				return th, nil, nil, nil
			}

			return nil, nil, nil, protocol.NewSystemError("failed to load step", err)
		}

		if step.Status == models.StepStatusRetrying && step.NextRetryAt != nil && step.NextRetryAt.After(now) {
			if earliest == nil || step.NextRetryAt.Before(*earliest) {
				retryAt := *step.NextRetryAt
				earliest = &retryAt
			}

			continue
		}

		return th, step, nil, nil
	}

	return nil, nil, earliest, nil
}

func hasPendingWork(execution *models.WorkflowExecution) bool {
	if execution.NextNodeID != "" {
		return true
	}

	for _, branch := range execution.Branches {
		if branch.Status.IsLive() || branch.Status == models.BranchStatusArrived {
			return true
		}
	}

	return false
}

func (e *Executor) runThread(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, th *thread, step *models.WorkflowExecutionStep) error {
	node := definition.NodeByID(th.nodeID())
	if node == nil {
		return e.deadLetter(ctx, execution, definition, failure{
			nodeID:    th.nodeID(),
			branchID:  th.id(),
			errorType: string(protocol.KindConfiguration),
			err:       protocol.NewConfigurationError(th.nodeID(), "node not found in definition", nil),
			context:   th.context(),
		})
	}

	// a branch resumed by its own children's join runs the join like any node
	if th.branch != nil && node.Type == models.NodeTypeJoin && th.branch.JoinNodeID != node.ID {
		if err := e.arrive(ctx, execution, definition, th, node); err != nil {
			return err
		}

		return e.save(ctx, execution)
	}

	if step == nil {
		step = e.newStep(execution, definition, node, th)
	}

	switch step.Status {
	case models.StepStatusSuccess:
		// already ran; its stored output is applied again below
	case models.StepStatusFailed:
		return e.failStep(ctx, execution, definition, node, th, step, errorTypeOf(node.ID, step.Error), errors.New(step.Error))
	default:
		result, err := e.execute(ctx, execution, node, th, step)
		if err != nil {
			return e.handleFailure(ctx, execution, definition, node, th, step, err)
		}

		if result.Suspend != nil {
			return e.suspend(ctx, execution, definition, node, th, step, result.Suspend)
		}

		if err := e.recordSuccess(ctx, execution, node, th, step, result); err != nil {
			return err
		}
	}

	th.merge(step.OutputData)

	if th.branch == nil {
		execution.CurrentNodeID = node.ID
	}

	if node.Type == models.NodeTypeBranch {
		if err := e.fork(ctx, execution, definition, node, th); err != nil {
			return err
		}
	} else if edge := selectEdge(definition, node, step); edge != nil {
		th.setNode(edge.Target)
	} else if err := e.endThread(ctx, execution, definition, th); err != nil {
		return err
	}

	return e.save(ctx, execution)
}

func (e *Executor) newStep(execution *models.WorkflowExecution, definition *models.WorkflowDefinition, node *models.Node, th *thread) *models.WorkflowExecutionStep {
	now := e.now()

	return &models.WorkflowExecutionStep{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		BranchID:    th.id(),
		Status:      models.StepStatusPending,
		MaxRetries:  definition.RetryConfig.MaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e *Executor) execute(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, th *thread, step *models.WorkflowExecutionStep) (protocol.Result, error) {
	instance, err := e.registry.Create(ctx, node)
	if err != nil {
		return protocol.Result{}, err
	}

	values := th.context()

	for _, key := range instance.RequiredContext() {
		if _, ok := lookup(values, key); !ok {
			return protocol.Result{}, protocol.NewConfigurationError(node.ID, "required context field '"+key+"' is absent", protocol.ErrMissingContext)
		}
	}

	now := e.now()
	step.Status = models.StepStatusRunning
	step.StartedAt = &now
	step.InputData = models.CopyMap(node.Config)
	step.UpdatedAt = now

	if err := e.persistence.StepRepository().Save(ctx, step); err != nil {
		return protocol.Result{}, protocol.NewSystemError("failed to save step", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node.execute",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.DefinitionIDKey, execution.DefinitionID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
		attribute.String(otelhelper.BranchIDKey, th.id()),
	)
	defer span.End()

	started := time.Now()
	result, err := instance.Execute(ctx, protocol.Input{
		ExecutionID: execution.ID,
		WorkspaceID: execution.WorkspaceID,
		BranchID:    th.id(),
		Context:     models.CopyMap(values),
		TriggerData: execution.TriggerData,
		Now:         now,
	})
	step.Duration = time.Since(started)

	if err != nil {
		otelhelper.SetError(span, err)

		return protocol.Result{}, err
	}

	return result, nil
}

func (e *Executor) recordSuccess(ctx context.Context, execution *models.WorkflowExecution, node *models.Node, th *thread, step *models.WorkflowExecutionStep, result protocol.Result) error {
	now := e.now()
	step.Status = models.StepStatusSuccess
	step.OutputData = result.Output
	step.ConditionResult = result.ConditionResult
	step.SelectedBranch = result.SelectedBranch
	step.NextRetryAt = nil
	step.Error = ""
	step.CompletedAt = &now
	step.UpdatedAt = now

	if err := e.persistence.StepRepository().Save(ctx, step); err != nil {
		return protocol.NewSystemError("failed to save step", err)
	}

	e.metrics.RecordStep(node.Type, step.Status, step.Duration)
	e.publish(ctx, execution.ID, events.NodeFinished{
		BaseEvent: events.NewBaseEvent(events.NodeFinishedEvent, execution),
		NodeID:    node.ID,
		NodeType:  node.Type,
		BranchID:  th.id(),
		Status:    step.Status,
		Duration:  step.Duration,
	})

	return nil
}

// handleFailure routes a node error: system errors are returned for a
// re-poll, fatal errors dead-letter, node errors retry while the policy allows.
func (e *Executor) handleFailure(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, node *models.Node, th *thread, step *models.WorkflowExecutionStep, err error) error {
	kind := protocol.KindOf(err)

	switch {
	case kind == protocol.KindSystem:
		return err
	case protocol.IsFatal(err):
		return e.failStep(ctx, execution, definition, node, th, step, string(kind), err)
	}

	category := retry.Classify(err)
	decision := retry.Decision{Category: category}

	if contract, contractErr := e.registry.Contract(node.Type); contractErr == nil && contract.Retryable {
		decision = retry.NewPolicy(definition.RetryConfig).Decide(category, step.RetryCount)
	}

	if !decision.Retry {
		return e.failStep(ctx, execution, definition, node, th, step, string(category), err)
	}

	now := e.now()
	nextRetryAt := now.Add(decision.Delay)
	step.RetryCount++
	step.Status = models.StepStatusRetrying
	step.NextRetryAt = &nextRetryAt
	step.Error = err.Error()
	step.UpdatedAt = now

	if err := e.persistence.StepRepository().Save(ctx, step); err != nil {
		return protocol.NewSystemError("failed to save step", err)
	}

	e.metrics.RecordStep(node.Type, step.Status, step.Duration)
	e.metrics.RecordRetryScheduled(node.Type, string(category))
	e.publish(ctx, execution.ID, events.NodeRetryScheduled{
		BaseEvent:   events.NewBaseEvent(events.NodeRetryScheduledEvent, execution),
		NodeID:      node.ID,
		BranchID:    th.id(),
		RetryCount:  step.RetryCount,
		Category:    string(category),
		NextRetryAt: nextRetryAt,
	})

	e.logger.WarnContext(ctx, "Node failed, retry scheduled",
		"execution_id", execution.ID,
		"node_id", node.ID,
		"category", category,
		"retry_count", step.RetryCount,
		"next_retry_at", nextRetryAt,
		"error", err)

	return nil
}

// failStep marks the step FAILED and dead-letters the execution.
func (e *Executor) failStep(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, node *models.Node, th *thread, step *models.WorkflowExecutionStep, errorType string, err error) error {
	now := e.now()
	step.Status = models.StepStatusFailed
	step.Error = err.Error()
	step.NextRetryAt = nil
	step.CompletedAt = &now
	step.UpdatedAt = now

	if err := e.persistence.StepRepository().Save(ctx, step); err != nil {
		return protocol.NewSystemError("failed to save step", err)
	}

	e.metrics.RecordStep(node.Type, step.Status, step.Duration)
	e.publish(ctx, execution.ID, events.NodeFailed{
		BaseEvent: events.NewBaseEvent(events.NodeFailedEvent, execution),
		NodeID:    node.ID,
		BranchID:  th.id(),
		Error:     step.Error,
	})

	return e.deadLetter(ctx, execution, definition, failure{
		node:      node,
		nodeID:    node.ID,
		branchID:  th.id(),
		step:      step,
		errorType: errorType,
		err:       err,
		context:   th.context(),
	})
}

// selectEdge returns the outgoing edge a finished step continues on, or nil
// when the continuation ends at node.
func selectEdge(definition *models.WorkflowDefinition, node *models.Node, step *models.WorkflowExecutionStep) *models.Edge {
	edges := definition.OutgoingEdges(node.ID)

	switch node.Type {
	case models.NodeTypeCondition:
		return edgeByKey(edges, step.SelectedBranch)
	case models.NodeTypeWait:
		if step.SelectedBranch == models.EdgeLabelTimeout {
			return edgeByKey(edges, models.EdgeLabelTimeout)
		}

		for _, edge := range edges {
			if edge.BranchKey() != models.EdgeLabelTimeout {
				return edge
			}
		}

		return nil
	default:
		if step.SelectedBranch != "" {
			if edge := edgeByKey(edges, step.SelectedBranch); edge != nil {
				return edge
			}
		}

		if len(edges) == 0 {
			return nil
		}

		return edges[0]
	}
}

func edgeByKey(edges []*models.Edge, key string) *models.Edge {
	for _, edge := range edges {
		if edge.BranchKey() == key {
			return edge
		}
	}

	return nil
}

// save persists the execution and keeps it due for the next cycle.
func (e *Executor) save(ctx context.Context, execution *models.WorkflowExecution) error {
	now := e.now()
	execution.NextRunAt = &now
	execution.UpdatedAt = now

	if err := e.persistence.ExecutionRepository().Update(ctx, execution); err != nil {
		return protocol.NewSystemError("failed to save execution", err)
	}

	return nil
}

func (e *Executor) complete(ctx context.Context, execution *models.WorkflowExecution) error {
	now := e.now()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now
	execution.NextRunAt = nil
	execution.UpdatedAt = now

	if err := e.persistence.ExecutionRepository().Update(ctx, execution); err != nil {
		return protocol.NewSystemError("failed to complete execution", err)
	}

	duration := executionDuration(execution, now)

	e.metrics.RecordExecutionFinished(execution.DefinitionID, execution.Status, duration)
	e.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, execution),
		Context:   execution.Context,
		Duration:  duration,
	})

	e.logger.InfoContext(ctx, "Execution completed", "execution_id", execution.ID, "duration", duration)

	return nil
}

func executionDuration(execution *models.WorkflowExecution, now time.Time) time.Duration {
	if execution.StartedAt != nil {
		return now.Sub(*execution.StartedAt)
	}

	return now.Sub(execution.CreatedAt)
}

// Cancel moves a live execution to CANCELLED, dropping its pending retries
// and event subscriptions.
func (e *Executor) Cancel(ctx context.Context, executionID string, reason string) (*models.WorkflowExecution, error) {
	executions := e.persistence.ExecutionRepository()

	var execution *models.WorkflowExecution

	for {
		current, err := executions.GetByID(ctx, executionID)
		if err != nil {
			return nil, err
		}

		if current.Status.IsTerminal() {
			return current, ErrExecutionFinished
		}

		now := e.now()
		current.Status = models.ExecutionStatusCancelled
		current.Error = reason
		current.CompletedAt = &now
		current.ResumeAt = nil
		current.WaitEventType = ""
		current.WaitTimeoutAt = nil
		current.NextRunAt = nil
		current.UpdatedAt = now

		err = executions.Update(ctx, current)
		if err == nil {
			execution = current

			break
		}

		if !persistence.IsExecutionConflict(err) {
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if err := e.persistence.SubscriptionRepository().DeactivateByExecution(ctx, executionID); err != nil {
		return execution, protocol.NewSystemError("failed to deactivate subscriptions", err)
	}

	if err := e.skipOpenSteps(ctx, executionID); err != nil {
		return execution, err
	}

	e.metrics.RecordExecutionFinished(execution.DefinitionID, execution.Status, executionDuration(execution, e.now()))
	e.publish(ctx, execution.ID, events.ExecutionCancelled{
		BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, execution),
		Reason:    reason,
	})

	e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID, "reason", reason)

	return execution, nil
}

func (e *Executor) skipOpenSteps(ctx context.Context, executionID string) error {
	steps, err := e.persistence.StepRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return protocol.NewSystemError("failed to list steps", err)
	}

	now := e.now()

	for _, step := range steps {
		switch step.Status {
		case models.StepStatusPending, models.StepStatusRunning, models.StepStatusRetrying, models.StepStatusWaiting:
			step.Status = models.StepStatusSkipped
			step.NextRetryAt = nil
			step.CompletedAt = &now
			step.UpdatedAt = now

			if err := e.persistence.StepRepository().Save(ctx, step); err != nil {
				return protocol.NewSystemError("failed to skip step", err)
			}
		}
	}

	return nil
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
	}
}
