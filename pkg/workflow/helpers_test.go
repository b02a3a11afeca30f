package workflow

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

// recordingActions answers action requests with a per-node handler and counts calls.
type recordingActions struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(protocol.ActionRequest) (protocol.ActionResult, error)
}

func newRecordingActions() *recordingActions {
	return &recordingActions{
		calls:    map[string]int{},
		handlers: map[string]func(protocol.ActionRequest) (protocol.ActionResult, error){},
	}
}

func (a *recordingActions) on(nodeID string, handler func(protocol.ActionRequest) (protocol.ActionResult, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.handlers[nodeID] = handler
}

func (a *recordingActions) count(nodeID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.calls[nodeID]
}

func (a *recordingActions) Execute(_ context.Context, request protocol.ActionRequest) (protocol.ActionResult, error) {
	a.mu.Lock()
	a.calls[request.NodeID]++
	handler := a.handlers[request.NodeID]
	a.mu.Unlock()

	if handler == nil {
		return protocol.ActionResult{Output: map[string]any{request.NodeID + "_done": true}}, nil
	}

	return handler(request)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type recordingMetrics struct {
	metrics.Nop

	mu          sync.Mutex
	retries     []string
	deadLetters []string
}

func (m *recordingMetrics) RecordRetryScheduled(_ models.NodeType, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retries = append(m.retries, category)
}

func (m *recordingMetrics) RecordDeadLetter(_ string, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deadLetters = append(m.deadLetters, errorType)
}

type harness struct {
	t         *testing.T
	logger    *slog.Logger
	store     persistence.Persistence
	registry  *registry.Registry
	clock     *fakeClock
	actions   *recordingActions
	publisher *recordingPublisher
	executor  *Executor
	matcher   *TriggerMatcher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := &fakeClock{now: testStart}
	actions := newRecordingActions()
	publisher := &recordingPublisher{}
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(actions)

	opts = append([]Option{WithClock(clock.Now), WithPublisher(publisher)}, opts...)

	return &harness{
		t:         t,
		logger:    logger,
		store:     store,
		registry:  reg,
		clock:     clock,
		actions:   actions,
		publisher: publisher,
		executor:  NewExecutor(logger, store, reg, opts...),
		matcher:   NewTriggerMatcher(logger, store, WithMatcherClock(clock.Now)),
	}
}

func (h *harness) publish(definition *models.WorkflowDefinition) *models.WorkflowDefinition {
	h.t.Helper()

	if definition.WorkspaceID == "" {
		definition.WorkspaceID = "ws-1"
	}

	if definition.Name == "" {
		definition.Name = definition.ID
	}

	if definition.Version == 0 {
		definition.Version = 1
	}

	if definition.RetryConfig.IsZero() {
		definition.RetryConfig = models.DefaultRetryConfig()
	}

	definition.IsPublished = true

	require.NoError(h.t, h.store.DefinitionRepository().Save(h.t.Context(), definition))

	return definition
}

// trigger matches an event and returns the single execution it created.
func (h *harness) trigger(eventType string, entity map[string]any) *models.WorkflowExecution {
	h.t.Helper()

	executions, err := h.matcher.Match(h.t.Context(), events.NewTriggerEvent("ws-1", eventType, entity))
	require.NoError(h.t, err)
	require.Len(h.t, executions, 1)

	return executions[0]
}

func (h *harness) advance(executionID string) *models.WorkflowExecution {
	h.t.Helper()

	require.NoError(h.t, h.executor.Advance(h.t.Context(), executionID))

	return h.execution(executionID)
}

func (h *harness) execution(executionID string) *models.WorkflowExecution {
	h.t.Helper()

	execution, err := h.store.ExecutionRepository().GetByID(h.t.Context(), executionID)
	require.NoError(h.t, err)

	return execution
}

func (h *harness) step(executionID, nodeID, branchID string) *models.WorkflowExecutionStep {
	h.t.Helper()

	step, err := h.store.StepRepository().Get(h.t.Context(), executionID, nodeID, branchID)
	require.NoError(h.t, err)

	return step
}

func (h *harness) deadLetter(executionID string) *models.WorkflowDeadLetter {
	h.t.Helper()

	letter, err := h.store.DeadLetterRepository().GetByExecution(h.t.Context(), executionID)
	require.NoError(h.t, err)

	return letter
}

func node(id string, nodeType models.NodeType, subtype string, config map[string]any) *models.Node {
	return &models.Node{ID: id, Type: nodeType, Subtype: subtype, Config: config}
}

func edge(source, target, handle string) *models.Edge {
	return &models.Edge{ID: source + "-" + target, Source: source, Target: target, Handle: handle}
}
