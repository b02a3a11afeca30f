package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendEmailDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID: "welcome",
		Nodes: []*models.Node{
			node("start", models.NodeTypeTrigger, "record_created", nil),
			node("send", models.NodeTypeAction, "send_email", map[string]any{"to": "{{ .context.email }}"}),
		},
		Edges: []*models.Edge{edge("start", "send", "")},
	}
}

func TestExecutor_Advance_CompletesLinearWorkflow(t *testing.T) {
	h := newHarness(t)
	h.publish(sendEmailDefinition())

	var rendered map[string]any
	h.actions.on("send", func(request protocol.ActionRequest) (protocol.ActionResult, error) {
		rendered = request.Config

		return protocol.ActionResult{Output: map[string]any{"message_id": "m-1"}}, nil
	})

	execution := h.trigger("record_created", map[string]any{"email": "ana@example.com"})
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, 1, execution.DefinitionVersion)

	execution = h.advance(execution.ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, "send", execution.CurrentNodeID)
	assert.Empty(t, execution.NextNodeID)
	assert.Nil(t, execution.NextRunAt)
	assert.Equal(t, "m-1", execution.Context["message_id"])
	assert.Equal(t, "record_created", execution.Context["trigger_type"])
	assert.Equal(t, "ana@example.com", rendered["to"])

	step := h.step(execution.ID, "send", models.RootBranchID)
	assert.Equal(t, models.StepStatusSuccess, step.Status)
	assert.Equal(t, "{{ .context.email }}", step.InputData["to"])

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.NodeFinishedEvent,
		events.NodeFinishedEvent,
		events.ExecutionCompletedEvent,
	}, h.publisher.types())
}

func TestExecutor_Advance_RetriesThenDeadLetters(t *testing.T) {
	collector := &recordingMetrics{}
	h := newHarness(t, WithMetrics(collector))
	h.publish(sendEmailDefinition())

	h.actions.on("send", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{}, errors.New("503 Service Unavailable")
	})

	execution := h.trigger("record_created", map[string]any{"email": "ana@example.com"})
	execution = h.advance(execution.ID)

	expected := []time.Duration{60 * time.Second, 180 * time.Second, 420 * time.Second}

	for i, offset := range expected {
		step := h.step(execution.ID, "send", models.RootBranchID)
		require.Equal(t, models.StepStatusRetrying, step.Status)
		assert.Equal(t, i+1, step.RetryCount)
		require.NotNil(t, step.NextRetryAt)
		assert.Equal(t, testStart.Add(offset), *step.NextRetryAt)

		assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
		require.NotNil(t, execution.NextRunAt)
		assert.Equal(t, testStart.Add(offset), *execution.NextRunAt)

		// nothing runs before the retry is due
		h.clock.Set(testStart.Add(offset - time.Second))
		h.advance(execution.ID)
		assert.Equal(t, i+1, h.actions.count("send"))

		h.clock.Set(testStart.Add(offset))
		execution = h.advance(execution.ID)
	}

	assert.Equal(t, 4, h.actions.count("send"))
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "send", execution.ErrorNodeID)
	assert.Contains(t, execution.Error, "503 Service Unavailable")
	assert.Nil(t, execution.NextRunAt)

	letter := h.deadLetter(execution.ID)
	assert.Equal(t, string(retry.CategoryServerError), letter.ErrorType)
	assert.Equal(t, 3, letter.RetryCount)
	assert.Equal(t, models.NodeTypeAction, letter.NodeType)
	assert.Equal(t, models.DeadLetterStatusPending, letter.Status)
	assert.Equal(t, "ana@example.com", letter.ExecutionContext["email"])

	assert.Equal(t, models.StepStatusFailed, h.step(execution.ID, "send", models.RootBranchID).Status)

	assert.Equal(t, []string{"server_error", "server_error", "server_error"}, collector.retries)
	assert.Equal(t, []string{"server_error"}, collector.deadLetters)

	// terminal executions are left alone
	h.clock.Advance(time.Hour)
	h.advance(execution.ID)
	assert.Equal(t, 4, h.actions.count("send"))
}

func TestExecutor_Advance_NonRetryableCategoryFailsImmediately(t *testing.T) {
	h := newHarness(t)
	h.publish(sendEmailDefinition())

	h.actions.on("send", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{Error: "mailbox does not exist"}, nil
	})

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, h.actions.count("send"))
	assert.Equal(t, string(retry.CategoryUnknown), h.deadLetter(execution.ID).ErrorType)
}

func TestExecutor_Advance_NodeIDDoesNotDecideCategory(t *testing.T) {
	collector := &recordingMetrics{}
	h := newHarness(t, WithMetrics(collector))
	h.publish(&models.WorkflowDefinition{
		ID: "renewal",
		Nodes: []*models.Node{
			node("start", models.NodeTypeTrigger, "record_created", nil),
			node("timeout_reminder", models.NodeTypeAction, "send_email", nil),
		},
		Edges: []*models.Edge{edge("start", "timeout_reminder", "")},
	})

	h.actions.on("timeout_reminder", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{Error: "invalid recipient"}, nil
	})

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, h.actions.count("timeout_reminder"))

	step := h.step(execution.ID, "timeout_reminder", models.RootBranchID)
	assert.Equal(t, models.StepStatusFailed, step.Status)
	assert.Zero(t, step.RetryCount)

	letter := h.deadLetter(execution.ID)
	assert.Equal(t, "timeout_reminder", letter.NodeID)
	assert.Equal(t, string(retry.CategoryUnknown), letter.ErrorType)
	assert.Empty(t, collector.retries)
}

func TestExecutor_Advance_RetryableHintWins(t *testing.T) {
	h := newHarness(t)
	h.publish(sendEmailDefinition())

	h.actions.on("send", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{Error: "provider refused", RetryableHint: string(retry.CategoryRateLimit)}, nil
	})

	execution := h.advance(h.trigger("record_created", nil).ID)

	step := h.step(execution.ID, "send", models.RootBranchID)
	assert.Equal(t, models.StepStatusRetrying, step.Status)
	assert.Equal(t, 1, step.RetryCount)
}

func conditionDefinition(value any) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID: "big-deal",
		Nodes: []*models.Node{
			node("start", models.NodeTypeTrigger, "stage_changed", nil),
			node("check", models.NodeTypeCondition, "", map[string]any{"field": "deal_value", "operator": "gt", "value": value}),
			node("vip", models.NodeTypeAction, "send_slack", nil),
			node("regular", models.NodeTypeAction, "create_task", nil),
		},
		Edges: []*models.Edge{
			edge("start", "check", ""),
			edge("check", "vip", models.EdgeLabelTrue),
			edge("check", "regular", models.EdgeLabelFalse),
		},
	}
}

func TestExecutor_Advance_ConditionSelectsEdge(t *testing.T) {
	h := newHarness(t)
	h.publish(conditionDefinition(10000))

	execution := h.advance(h.trigger("stage_changed", map[string]any{"deal_value": 25000}).ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, h.actions.count("vip"))
	assert.Equal(t, 0, h.actions.count("regular"))

	step := h.step(execution.ID, "check", models.RootBranchID)
	require.NotNil(t, step.ConditionResult)
	assert.True(t, *step.ConditionResult)
	assert.Equal(t, models.EdgeLabelTrue, step.SelectedBranch)
}

func TestExecutor_Advance_NonNumericComparisonIsConfigurationError(t *testing.T) {
	h := newHarness(t)
	h.publish(conditionDefinition(10000))

	execution := h.advance(h.trigger("stage_changed", map[string]any{"deal_value": "lots"}).ID)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "check", execution.ErrorNodeID)
	assert.Equal(t, string(protocol.KindConfiguration), h.deadLetter(execution.ID).ErrorType)
	assert.Zero(t, h.step(execution.ID, "check", models.RootBranchID).RetryCount)
}

func TestExecutor_Advance_MissingRequiredContext(t *testing.T) {
	h := newHarness(t)

	definition := sendEmailDefinition()
	definition.Nodes[1].Config = map[string]any{"required_context": []any{"contact.email"}}
	h.publish(definition)

	execution := h.advance(h.trigger("record_created", map[string]any{"contact": map[string]any{"name": "Ana"}}).ID)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 0, h.actions.count("send"))
	assert.Equal(t, string(protocol.KindConfiguration), h.deadLetter(execution.ID).ErrorType)
}

func TestExecutor_Advance_SuccessfulStepIsNotRunAgain(t *testing.T) {
	h := newHarness(t)
	h.publish(sendEmailDefinition())

	execution := h.trigger("record_created", nil)

	// a previous worker finished the step but lost the execution update
	require.NoError(t, h.store.StepRepository().Save(t.Context(), &models.WorkflowExecutionStep{
		ID:          "step-send",
		ExecutionID: execution.ID,
		NodeID:      "send",
		NodeType:    models.NodeTypeAction,
		BranchID:    models.RootBranchID,
		Status:      models.StepStatusSuccess,
		OutputData:  map[string]any{"message_id": "m-earlier"},
	}))

	execution = h.advance(execution.ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 0, h.actions.count("send"))
	assert.Equal(t, "m-earlier", execution.Context["message_id"])
}

func TestExecutor_Advance_StepBudget(t *testing.T) {
	h := newHarness(t, WithStepBudget(1))
	h.publish(sendEmailDefinition())

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, "send", execution.NextNodeID)
	require.NotNil(t, execution.NextRunAt)

	execution = h.advance(execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)

	execution = h.advance(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestExecutor_Advance_StopsWhenContextIsCancelled(t *testing.T) {
	h := newHarness(t)
	h.publish(sendEmailDefinition())

	execution := h.trigger("record_created", nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.ErrorIs(t, h.executor.Advance(ctx, execution.ID), context.Canceled)
	assert.Equal(t, 0, h.actions.count("send"))
	assert.Equal(t, models.ExecutionStatusPending, h.execution(execution.ID).Status)
}

func TestExecutor_Advance_UsesPinnedVersion(t *testing.T) {
	h := newHarness(t)
	h.publish(sendEmailDefinition())

	execution := h.trigger("record_created", nil)

	// version 2 replaces the action, version 1 stays available as a snapshot
	v1, err := h.store.DefinitionRepository().GetByID(t.Context(), "welcome")
	require.NoError(t, err)
	require.NoError(t, h.store.DefinitionRepository().SaveVersion(t.Context(), &models.WorkflowVersion{
		ID:           "welcome-v1",
		DefinitionID: "welcome",
		Version:      1,
		Definition:   v1.Clone(),
	}))

	v2 := v1.Clone()
	v2.Version = 2
	v2.Nodes[1] = node("send", models.NodeTypeAction, "send_sms", nil)
	require.NoError(t, h.store.DefinitionRepository().Save(t.Context(), v2))

	var subtype string
	h.actions.on("send", func(request protocol.ActionRequest) (protocol.ActionResult, error) {
		subtype = request.Subtype

		return protocol.ActionResult{}, nil
	})

	execution = h.advance(execution.ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, "send_email", subtype)
}

func TestExecutor_Advance_EvictedVersionIsConfigurationError(t *testing.T) {
	h := newHarness(t)
	definition := h.publish(sendEmailDefinition())

	execution := h.trigger("record_created", nil)

	definition.Version = 2
	require.NoError(t, h.store.DefinitionRepository().Save(t.Context(), definition))

	execution = h.advance(execution.ID)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, string(protocol.KindConfiguration), h.deadLetter(execution.ID).ErrorType)
	assert.Equal(t, 0, h.actions.count("send"))
}

func TestExecutor_Cancel(t *testing.T) {
	h := newHarness(t)
	h.publish(sendEmailDefinition())

	h.actions.on("send", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{}, errors.New("connection refused")
	})

	execution := h.advance(h.trigger("record_created", nil).ID)
	require.Equal(t, models.StepStatusRetrying, h.step(execution.ID, "send", models.RootBranchID).Status)

	cancelled, err := h.executor.Cancel(t.Context(), execution.ID, "contact unsubscribed")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.NextRunAt)
	assert.Equal(t, "contact unsubscribed", cancelled.Error)

	assert.Equal(t, models.StepStatusSkipped, h.step(execution.ID, "send", models.RootBranchID).Status)

	h.clock.Advance(time.Hour)
	execution = h.advance(execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, 1, h.actions.count("send"))

	_, err = h.executor.Cancel(t.Context(), execution.ID, "again")
	require.ErrorIs(t, err, ErrExecutionFinished)

	assert.Contains(t, h.publisher.types(), events.ExecutionCancelledEvent)
}

func TestExecutor_Replay(t *testing.T) {
	h := newHarness(t)
	h.publish(sendEmailDefinition())

	failing := true
	h.actions.on("send", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		if failing {
			return protocol.ActionResult{Error: "invalid recipient"}, nil
		}

		return protocol.ActionResult{Output: map[string]any{"message_id": "m-2"}}, nil
	})

	failed := h.advance(h.trigger("record_created", map[string]any{"email": "ana@example.com"}).ID)
	require.Equal(t, models.ExecutionStatusFailed, failed.Status)

	failing = false

	replay, err := h.executor.Replay(t.Context(), h.deadLetter(failed.ID))
	require.NoError(t, err)
	assert.Equal(t, failed.ID, replay.ReplayOf)
	assert.Equal(t, "send", replay.NextNodeID)
	assert.Equal(t, failed.DefinitionVersion, replay.DefinitionVersion)

	replay = h.advance(replay.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, replay.Status)
	assert.Equal(t, "m-2", replay.Context["message_id"])
	assert.Equal(t, "ana@example.com", replay.Context["email"])

	assert.Equal(t, models.ExecutionStatusFailed, h.execution(failed.ID).Status)
}

func TestErrorTypeOf(t *testing.T) {
	tests := []struct {
		nodeID   string
		message  string
		expected string
	}{
		{"c1", "configuration_error at node c1: cannot evaluate gt", string(protocol.KindConfiguration)},
		{"w1", "timeout_error at node w1: no reply", string(protocol.KindTimeout)},
		{"a1", "node_execution_error at node a1: 429 Too Many Requests", string(retry.CategoryRateLimit)},
		{"timeout_reminder", "node_execution_error at node timeout_reminder: invalid recipient", string(retry.CategoryUnknown)},
		{"a1", "node_execution_error at node a1: 504 Gateway Timeout", string(retry.CategoryServerError)},
		{"a1", "mailbox full", string(retry.CategoryUnknown)},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.expected, errorTypeOf(tt.nodeID, tt.message))
		})
	}
}
