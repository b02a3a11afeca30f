package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t           *testing.T
	store       persistence.Persistence
	definitions *Definitions
	executions  *Executions
	deadLetters *DeadLetters
	executor    *workflow.Executor
	matcher     *workflow.TriggerMatcher
}

// newFixture wires the services over a file store. failing names action
// nodes whose executor returns a configuration error.
func newFixture(t *testing.T, failing ...string) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := file.NewPersistence(t.TempDir())
	clock := func() time.Time { return testNow }

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(protocol.ActionExecutorFunc(func(_ context.Context, request protocol.ActionRequest) (protocol.ActionResult, error) {
		for _, nodeID := range failing {
			if request.NodeID == nodeID {
				return protocol.ActionResult{}, protocol.NewConfigurationError(nodeID, "mailbox not configured", nil)
			}
		}

		return protocol.ActionResult{Output: map[string]any{request.NodeID + "_done": true}}, nil
	}))

	executor := workflow.NewExecutor(logger, store, reg, workflow.WithClock(clock))
	definitions := NewDefinitions(logger, store, reg)
	definitions.now = clock

	deadLetters := NewDeadLetters(store, executor)
	deadLetters.now = clock

	return &fixture{
		t:           t,
		store:       store,
		definitions: definitions,
		executions:  NewExecutions(store, executor),
		deadLetters: deadLetters,
		executor:    executor,
		matcher:     workflow.NewTriggerMatcher(logger, store, workflow.WithMatcherClock(clock)),
	}
}

// publish saves and publishes definition.
func (f *fixture) publish(definition *models.WorkflowDefinition) *models.WorkflowDefinition {
	f.t.Helper()

	saved, err := f.definitions.Save(f.t.Context(), definition)
	require.NoError(f.t, err)

	published, err := f.definitions.Publish(f.t.Context(), saved.ID)
	require.NoError(f.t, err)

	return published
}

// run triggers eventType and advances the single execution it starts.
func (f *fixture) run(eventType string) *models.WorkflowExecution {
	f.t.Helper()

	event := newWelcomeEvent()
	event.EventType = eventType

	started, err := f.matcher.Match(f.t.Context(), event)
	require.NoError(f.t, err)
	require.Len(f.t, started, 1)

	require.NoError(f.t, f.executor.Advance(f.t.Context(), started[0].ID))

	execution, err := f.store.ExecutionRepository().GetByID(f.t.Context(), started[0].ID)
	require.NoError(f.t, err)

	return execution
}

func newWelcomeEvent() events.TriggerEvent {
	return events.NewTriggerEvent("ws-1", "record_created", map[string]any{"email": "ana@example.com"})
}

func welcomeDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          "welcome",
		WorkspaceID: "ws-1",
		Name:        "Welcome email",
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeTrigger, Subtype: "record_created"},
			{ID: "send", Type: models.NodeTypeAction, Subtype: "send_email", Config: map[string]any{"to": "{{ .context.email }}"}},
		},
		Edges: []*models.Edge{{ID: "e1", Source: "start", Target: "send"}},
	}
}

type recordingPublisher struct {
	keys   []string
	events []eventbus.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event eventbus.Event) error {
	if p.err != nil {
		return p.err
	}

	p.keys = append(p.keys, key)
	p.events = append(p.events, event)

	return nil
}
