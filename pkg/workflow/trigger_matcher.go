package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/nodes/trigger"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TriggerMatcher starts executions of the published definitions whose entry
// trigger matches an incoming event.
type TriggerMatcher struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	tracer      trace.Tracer
	now         func() time.Time
}

type MatcherOption func(*TriggerMatcher)

func WithMatcherTracer(tracer trace.Tracer) MatcherOption {
	return func(m *TriggerMatcher) {
		m.tracer = tracer
	}
}

func WithMatcherClock(now func() time.Time) MatcherOption {
	return func(m *TriggerMatcher) {
		m.now = now
	}
}

func NewTriggerMatcher(logger *slog.Logger, persistence persistence.Persistence, opts ...MatcherOption) *TriggerMatcher {
	m := &TriggerMatcher{
		logger:      logger.With("module", "trigger_matcher"),
		persistence: persistence,
		tracer:      otelhelper.NoopTracer(),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Match creates one PENDING execution per published definition of the
// event's workspace whose entry trigger subtype equals the event type and
// whose trigger filter matches the entity context. Identical events are not
// de-duplicated. Scheduled triggers never match events.
func (m *TriggerMatcher) Match(ctx context.Context, event events.TriggerEvent) ([]*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "workflow.trigger.match",
		attribute.String(otelhelper.WorkspaceIDKey, event.WorkspaceID),
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.EventTypeKey, event.EventType),
	)
	defer span.End()

	definitions, err := m.persistence.DefinitionRepository().ListPublished(ctx, event.WorkspaceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to list published definitions: %w", err)
	}

	var (
		executions []*models.WorkflowExecution
		errs       []error
	)

	for _, definition := range definitions {
		if !Matches(definition, event) {
			continue
		}

		execution, err := m.StartExecution(ctx, definition, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("definition %s: %w", definition.ID, err))

			continue
		}

		executions = append(executions, execution)
	}

	span.SetAttributes(attribute.Int("autoflow.matched_count", len(executions)))

	if err := errors.Join(errs...); err != nil {
		otelhelper.SetError(span, err)

		return executions, err
	}

	m.logger.DebugContext(ctx, "Trigger event matched",
		"event_id", event.ID,
		"event_type", event.EventType,
		"workspace_id", event.WorkspaceID,
		"executions", len(executions))

	return executions, nil
}

// Matches reports whether event fires the entry trigger of definition.
func Matches(definition *models.WorkflowDefinition, event events.TriggerEvent) bool {
	if !definition.IsPublished || definition.WorkspaceID != event.WorkspaceID {
		return false
	}

	entry := definition.EntryNode()
	if entry == nil || entry.Subtype == trigger.SubtypeScheduled || entry.Subtype != event.EventType {
		return false
	}

	filter, _ := entry.Config["filter"].(map[string]any)

	return MatchesFilter(filter, event.EntityContext)
}

// StartExecution creates a PENDING execution of definition at its entry node,
// pinned to the definition's current version.
func (m *TriggerMatcher) StartExecution(ctx context.Context, definition *models.WorkflowDefinition, event events.TriggerEvent) (*models.WorkflowExecution, error) {
	entry := definition.EntryNode()
	if entry == nil {
		return nil, protocol.NewConfigurationError("", "definition has no entry trigger", nil)
	}

	now := m.now()
	execution := &models.WorkflowExecution{
		ID:                uuid.New().String(),
		WorkspaceID:       definition.WorkspaceID,
		DefinitionID:      definition.ID,
		DefinitionVersion: definition.Version,
		Status:            models.ExecutionStatusPending,
		NextNodeID:        entry.ID,
		Context:           models.CopyMap(event.EntityContext),
		TriggerData:       event.AsMap(),
		NextRunAt:         &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := m.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	m.logger.InfoContext(ctx, "Execution created",
		"execution_id", execution.ID,
		"definition_id", definition.ID,
		"definition_version", definition.Version,
		"event_type", event.EventType)

	return execution, nil
}
