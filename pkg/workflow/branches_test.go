package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parallelDefinition(joinMode string) *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		ID: "parallel",
		Nodes: []*models.Node{
			node("start", models.NodeTypeTrigger, "record_created", nil),
			node("split", models.NodeTypeBranch, "", nil),
			node("enrich", models.NodeTypeAgent, "data_enrichment", nil),
			node("score", models.NodeTypeAgent, "lead_scoring", nil),
		},
		Edges: []*models.Edge{
			edge("start", "split", ""),
			edge("split", "enrich", ""),
			edge("split", "score", ""),
		},
	}

	if joinMode != "" {
		definition.Nodes = append(definition.Nodes,
			node("merge", models.NodeTypeJoin, "", map[string]any{"mode": joinMode}),
			node("notify", models.NodeTypeAction, "send_slack", nil),
		)
		definition.Edges = append(definition.Edges,
			edge("enrich", "merge", ""),
			edge("score", "merge", ""),
			edge("merge", "notify", ""),
		)
	}

	return definition
}

func TestExecutor_Branch_JoinAllMergesLastWriterWins(t *testing.T) {
	h := newHarness(t)
	h.publish(parallelDefinition("all"))

	h.actions.on("enrich", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{Output: map[string]any{"company": "Acme", "owner": "enrich"}}, nil
	})
	h.actions.on("score", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{Output: map[string]any{"score": 87.0, "owner": "score"}}, nil
	})

	var seen map[string]any
	h.actions.on("notify", func(request protocol.ActionRequest) (protocol.ActionResult, error) {
		seen = request.Context

		return protocol.ActionResult{}, nil
	})

	execution := h.advance(h.trigger("record_created", map[string]any{"lead_id": "l-1"}).ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, h.actions.count("notify"))

	assert.Equal(t, "Acme", seen["company"])
	assert.InDelta(t, 87.0, seen["score"], 0)
	assert.Equal(t, "l-1", seen["lead_id"])
	// score arrived at the join last
	assert.Equal(t, "score", seen["owner"])

	require.Len(t, execution.Branches, 2)
	for _, branch := range execution.Branches {
		assert.Equal(t, models.BranchStatusCompleted, branch.Status)
		assert.Equal(t, "merge", branch.JoinNodeID)
	}

	assert.Equal(t, models.StepStatusSuccess, h.step(execution.ID, "enrich", "root:split.0").Status)
	assert.Equal(t, models.StepStatusSuccess, h.step(execution.ID, "score", "root:split.1").Status)
	assert.Equal(t, models.StepStatusSuccess, h.step(execution.ID, "merge", models.RootBranchID).Status)
}

func TestExecutor_Branch_JoinAnySkipsSlowerBranch(t *testing.T) {
	h := newHarness(t)
	h.publish(parallelDefinition("any"))

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, h.actions.count("enrich"))
	assert.Equal(t, 0, h.actions.count("score"))
	assert.Equal(t, 1, h.actions.count("notify"))

	assert.Equal(t, true, execution.Context["enrich_done"])
	assert.NotContains(t, execution.Context, "score_done")

	skipped := h.step(execution.ID, "score", "root:split.1")
	assert.Equal(t, models.StepStatusSkipped, skipped.Status)
	assert.Equal(t, models.NodeTypeAgent, skipped.NodeType)

	branch := execution.BranchByID("root:split.1")
	require.NotNil(t, branch)
	assert.Equal(t, models.BranchStatusSkipped, branch.Status)
}

func quorumDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID: "quorum",
		Nodes: []*models.Node{
			node("start", models.NodeTypeTrigger, "record_created", nil),
			node("split", models.NodeTypeBranch, "", nil),
			node("crm", models.NodeTypeAction, "update_record", nil),
			node("email", models.NodeTypeAction, "send_email", nil),
			node("slack", models.NodeTypeAction, "send_slack", nil),
			node("merge", models.NodeTypeJoin, "", map[string]any{"mode": "count", "count": 2}),
			node("notify", models.NodeTypeAction, "create_task", nil),
		},
		Edges: []*models.Edge{
			edge("start", "split", ""),
			edge("split", "crm", ""),
			edge("split", "email", ""),
			edge("split", "slack", ""),
			edge("crm", "merge", ""),
			edge("email", "merge", ""),
			edge("slack", "merge", ""),
			edge("merge", "notify", ""),
		},
	}
}

func TestExecutor_Branch_JoinCountFiresAfterQuorum(t *testing.T) {
	h := newHarness(t)
	h.publish(quorumDefinition())

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, h.actions.count("crm"))
	assert.Equal(t, 1, h.actions.count("email"))
	assert.Equal(t, 0, h.actions.count("slack"))
	assert.Equal(t, 1, h.actions.count("notify"))

	assert.Equal(t, true, execution.Context["crm_done"])
	assert.Equal(t, true, execution.Context["email_done"])
	assert.NotContains(t, execution.Context, "slack_done")

	require.Len(t, execution.Branches, 3)
	assert.Equal(t, models.BranchStatusCompleted, execution.BranchByID("root:split.0").Status)
	assert.Equal(t, models.BranchStatusCompleted, execution.BranchByID("root:split.1").Status)
	assert.Equal(t, models.BranchStatusSkipped, execution.BranchByID("root:split.2").Status)

	skipped := h.step(execution.ID, "slack", "root:split.2")
	assert.Equal(t, models.StepStatusSkipped, skipped.Status)
	assert.Equal(t, models.NodeTypeAction, skipped.NodeType)

	assert.Equal(t, models.StepStatusSuccess, h.step(execution.ID, "merge", models.RootBranchID).Status)
}

func TestExecutor_Branch_JoinCountSkipsRetryingBranch(t *testing.T) {
	h := newHarness(t)
	h.publish(quorumDefinition())

	h.actions.on("crm", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{}, errors.New("503 Service Unavailable")
	})

	execution := h.advance(h.trigger("record_created", nil).ID)

	// email and slack reach the quorum while crm waits for its retry
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, h.actions.count("crm"))
	assert.Equal(t, 1, h.actions.count("email"))
	assert.Equal(t, 1, h.actions.count("slack"))
	assert.Equal(t, 1, h.actions.count("notify"))
	assert.NotContains(t, execution.Context, "crm_done")

	assert.Equal(t, models.BranchStatusSkipped, execution.BranchByID("root:split.0").Status)

	step := h.step(execution.ID, "crm", "root:split.0")
	assert.Equal(t, models.StepStatusSkipped, step.Status)
	assert.Equal(t, 1, step.RetryCount)
	assert.Nil(t, step.NextRetryAt)

	// the pending retry never fires
	h.clock.Advance(time.Hour)
	h.advance(execution.ID)
	assert.Equal(t, 1, h.actions.count("crm"))
}

func TestExecutor_Branch_JoinAllWaitsForRetryingSibling(t *testing.T) {
	h := newHarness(t)
	h.publish(parallelDefinition("all"))

	h.actions.on("enrich", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		if h.actions.count("enrich") == 1 {
			return protocol.ActionResult{}, errors.New("503 Service Unavailable")
		}

		return protocol.ActionResult{Output: map[string]any{"company": "Acme"}}, nil
	})

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, 1, h.actions.count("score"))
	assert.Equal(t, 0, h.actions.count("notify"))
	require.NotNil(t, execution.NextRunAt)
	assert.Equal(t, testStart.Add(60*time.Second), *execution.NextRunAt)

	assert.Equal(t, models.BranchStatusActive, execution.BranchByID("root:split.0").Status)
	assert.Equal(t, models.BranchStatusArrived, execution.BranchByID("root:split.1").Status)

	retrying := h.step(execution.ID, "enrich", "root:split.0")
	assert.Equal(t, models.StepStatusRetrying, retrying.Status)
	assert.Equal(t, 1, retrying.RetryCount)

	// a cycle before the retry is due leaves the join closed
	h.clock.Set(testStart.Add(59 * time.Second))
	execution = h.advance(execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, 1, h.actions.count("enrich"))
	assert.Equal(t, 0, h.actions.count("notify"))

	h.clock.Set(testStart.Add(60 * time.Second))
	execution = h.advance(execution.ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 2, h.actions.count("enrich"))
	assert.Equal(t, 1, h.actions.count("score"))
	assert.Equal(t, 1, h.actions.count("notify"))
	assert.Equal(t, "Acme", execution.Context["company"])
	assert.Equal(t, true, execution.Context["score_done"])

	for _, branch := range execution.Branches {
		assert.Equal(t, models.BranchStatusCompleted, branch.Status)
	}

	assert.Equal(t, models.StepStatusSuccess, h.step(execution.ID, "enrich", "root:split.0").Status)
}

func TestExecutor_Branch_WithoutJoinEndsWhenAllBranchesEnd(t *testing.T) {
	h := newHarness(t)
	h.publish(parallelDefinition(""))

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, true, execution.Context["enrich_done"])
	assert.Equal(t, true, execution.Context["score_done"])
}

func TestExecutor_Branch_FailureInsideBranchDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.publish(parallelDefinition("all"))

	h.actions.on("score", func(protocol.ActionRequest) (protocol.ActionResult, error) {
		return protocol.ActionResult{Error: "model refused the request"}, nil
	})

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 0, h.actions.count("notify"))

	letter := h.deadLetter(execution.ID)
	assert.Equal(t, "score", letter.NodeID)
	assert.Equal(t, "root:split.1", letter.BranchID)

	_, err := h.executor.Replay(t.Context(), letter)
	assert.Equal(t, protocol.KindValidation, protocol.KindOf(err))
}

func TestExecutor_Branch_WaitInsideBranchIsConfigurationError(t *testing.T) {
	h := newHarness(t)

	definition := parallelDefinition("all")
	definition.Nodes[3] = node("score", models.NodeTypeWait, "duration", map[string]any{"duration": "1h"})
	h.publish(definition)

	execution := h.advance(h.trigger("record_created", nil).ID)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Nil(t, execution.ResumeAt)

	letter := h.deadLetter(execution.ID)
	assert.Equal(t, string(protocol.KindConfiguration), letter.ErrorType)
	assert.Contains(t, letter.ErrorMessage, protocol.ErrWaitInParallelRegion.Error())
}
