package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/google/uuid"
)

// thread is one continuation of an execution: the root, or a branch forked from it.
type thread struct {
	execution *models.WorkflowExecution
	branch    *models.Branch
}

func (t *thread) id() string {
	if t.branch == nil {
		return models.RootBranchID
	}

	return t.branch.ID
}

func (t *thread) nodeID() string {
	if t.branch == nil {
		return t.execution.NextNodeID
	}

	return t.branch.NodeID
}

func (t *thread) setNode(nodeID string) {
	if t.branch == nil {
		t.execution.NextNodeID = nodeID

		return
	}

	t.branch.NodeID = nodeID
}

func (t *thread) context() map[string]any {
	if t.branch == nil {
		if t.execution.Context == nil {
			t.execution.Context = map[string]any{}
		}

		return t.execution.Context
	}

	if t.branch.Context == nil {
		t.branch.Context = map[string]any{}
	}

	return t.branch.Context
}

// merge writes values into the continuation context. Branches also record
// them in their delta so a join can replay only what the branch changed.
func (t *thread) merge(values map[string]any) {
	target := t.context()

	for key, value := range values {
		target[key] = value
	}

	if t.branch == nil || len(values) == 0 {
		return
	}

	if t.branch.Delta == nil {
		t.branch.Delta = map[string]any{}
	}

	for key, value := range values {
		t.branch.Delta[key] = value
	}
}

// parentThread returns the continuation a branch was forked from.
func parentThread(execution *models.WorkflowExecution, branch *models.Branch) *thread {
	if branch.ParentID == models.RootBranchID {
		return &thread{execution: execution}
	}

	return &thread{execution: execution, branch: execution.BranchByID(branch.ParentID)}
}

// fork parks th and starts one branch per outgoing edge of node, each with
// its own copy of the context.
func (e *Executor) fork(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, node *models.Node, th *thread) error {
	edges := definition.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		return e.endThread(ctx, execution, definition, th)
	}

	for i, edge := range edges {
		execution.Branches = append(execution.Branches, &models.Branch{
			ID:         fmt.Sprintf("%s:%s.%d", th.id(), node.ID, i),
			ParentID:   th.id(),
			ForkNodeID: node.ID,
			NodeID:     edge.Target,
			Status:     models.BranchStatusActive,
			Context:    models.CopyMap(th.context()),
			Delta:      map[string]any{},
		})
	}

	th.setNode("")

	if th.branch != nil {
		th.branch.Status = models.BranchStatusForked
	}

	e.logger.DebugContext(ctx, "Forked continuations",
		"execution_id", execution.ID,
		"node_id", node.ID,
		"branch_id", th.id(),
		"count", len(edges))

	return nil
}

// arrive parks a branch at a join node and settles its fork.
func (e *Executor) arrive(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, th *thread, node *models.Node) error {
	th.branch.Status = models.BranchStatusArrived
	th.branch.JoinNodeID = node.ID
	th.branch.NodeID = ""
	th.branch.FinishedAt = execution.NextSequence()

	return e.settleFork(ctx, execution, definition, th.branch)
}

// endThread finishes a continuation that has no outgoing edge left.
func (e *Executor) endThread(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, th *thread) error {
	th.setNode("")

	if th.branch == nil {
		return nil
	}

	th.branch.Status = models.BranchStatusCompleted
	th.branch.FinishedAt = execution.NextSequence()

	return e.settleFork(ctx, execution, definition, th.branch)
}

// settleFork decides whether the siblings of branch let their parent go on,
// either through a satisfied join or because every sibling has ended.
func (e *Executor) settleFork(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, branch *models.Branch) error {
	var siblings, arrived, live []*models.Branch

	for _, sibling := range execution.ChildBranches(branch.ParentID) {
		if sibling.ForkNodeID != branch.ForkNodeID {
			continue
		}

		siblings = append(siblings, sibling)

		switch {
		case sibling.Status == models.BranchStatusArrived:
			arrived = append(arrived, sibling)
		case sibling.Status.IsLive():
			live = append(live, sibling)
		}
	}

	parent := parentThread(execution, branch)
	if parent.branch == nil && branch.ParentID != models.RootBranchID {
		return protocol.NewSystemError(fmt.Sprintf("parent continuation %s not found", branch.ParentID), nil)
	}

	if len(arrived) > 0 {
		return e.settleJoin(ctx, execution, definition, parent, siblings, arrived, live)
	}

	if len(live) > 0 {
		return nil
	}

	// no join: the fork region ends with the last branch
	mergeBranches(parent, siblings, models.BranchStatusCompleted)

	if parent.branch == nil {
		return nil
	}

	parent.branch.Status = models.BranchStatusCompleted
	parent.branch.FinishedAt = execution.NextSequence()

	return e.settleFork(ctx, execution, definition, parent.branch)
}

func (e *Executor) settleJoin(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, parent *thread, siblings, arrived, live []*models.Branch) error {
	sortByFinish(arrived)

	joinNodeID := arrived[0].JoinNodeID

	var atJoin, elsewhere []*models.Branch

	for _, branch := range arrived {
		if branch.JoinNodeID == joinNodeID {
			atJoin = append(atJoin, branch)
		} else {
			elsewhere = append(elsewhere, branch)
		}
	}

	node := definition.NodeByID(joinNodeID)

	instance, err := e.registry.Create(ctx, node)
	if err != nil {
		return err
	}

	join, ok := instance.(fanIn)
	if !ok {
		return protocol.NewConfigurationError(joinNodeID, "join node does not declare a fan-in policy", protocol.ErrUnsupportedNode)
	}

	if !join.Satisfied(len(atJoin), len(definition.IncomingEdges(joinNodeID)), len(live)) {
		return nil
	}

	for _, branch := range append(live, elsewhere...) {
		if err := e.skipBranch(ctx, execution, definition, branch); err != nil {
			return err
		}
	}

	for _, branch := range atJoin {
		branch.Status = models.BranchStatusCompleted
	}

	mergeBranches(parent, siblings, models.BranchStatusCompleted)

	parent.setNode(joinNodeID)

	if parent.branch != nil {
		parent.branch.Status = models.BranchStatusActive
		parent.branch.JoinNodeID = joinNodeID
	}

	e.logger.DebugContext(ctx, "Join satisfied",
		"execution_id", execution.ID,
		"node_id", joinNodeID,
		"arrived", len(atJoin),
		"skipped", len(live)+len(elsewhere))

	return nil
}

type fanIn interface {
	Satisfied(arrived, incoming, live int) bool
}

// mergeBranches applies the deltas of the branches in the given status to
// parent in completion order, so the last branch to finish wins a key.
func mergeBranches(parent *thread, branches []*models.Branch, status models.BranchStatus) {
	var finished []*models.Branch

	for _, branch := range branches {
		if branch.Status == status {
			finished = append(finished, branch)
		}
	}

	sortByFinish(finished)

	for _, branch := range finished {
		parent.merge(branch.Delta)
	}
}

func sortByFinish(branches []*models.Branch) {
	sort.SliceStable(branches, func(i, j int) bool {
		return branches[i].FinishedAt < branches[j].FinishedAt
	})
}

// skipBranch discards a branch and everything forked from it, marking the
// node each one was about to run as SKIPPED.
func (e *Executor) skipBranch(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, branch *models.Branch) error {
	for _, child := range execution.ChildBranches(branch.ID) {
		if child.Status.IsLive() || child.Status == models.BranchStatusArrived {
			if err := e.skipBranch(ctx, execution, definition, child); err != nil {
				return err
			}
		}
	}

	if branch.NodeID != "" {
		if err := e.skipStep(ctx, execution, definition, branch); err != nil {
			return err
		}
	}

	branch.Status = models.BranchStatusSkipped
	branch.NodeID = ""

	return nil
}

func (e *Executor) skipStep(ctx context.Context, execution *models.WorkflowExecution, definition *models.WorkflowDefinition, branch *models.Branch) error {
	steps := e.persistence.StepRepository()
	now := e.now()

	step, err := steps.Get(ctx, execution.ID, branch.NodeID, branch.ID)
	if err != nil {
		if !persistence.IsStepNotFound(err) {
			return protocol.NewSystemError("failed to load step", err)
		}

		step = &models.WorkflowExecutionStep{
			ID:          uuid.New().String(),
			ExecutionID: execution.ID,
			NodeID:      branch.NodeID,
			BranchID:    branch.ID,
			CreatedAt:   now,
		}

		if node := definition.NodeByID(branch.NodeID); node != nil {
			step.NodeType = node.Type
		}
	}

	if step.Status == models.StepStatusSuccess {
		return nil
	}

	step.Status = models.StepStatusSkipped
	step.NextRetryAt = nil
	step.CompletedAt = &now
	step.UpdatedAt = now

	if err := steps.Save(ctx, step); err != nil {
		return protocol.NewSystemError("failed to skip step", err)
	}

	e.metrics.RecordStep(step.NodeType, step.Status, 0)

	return nil
}
