package file

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", p.(*Persistence).root)

	p = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", p.(*Persistence).root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	require.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	require.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
	require.NoError(t, NewPersistence(t.TempDir()).Close(t.Context()))
}

func TestDefinitionRepository_SaveAndList(t *testing.T) {
	testDir := t.TempDir()
	repo := NewPersistence(testDir).DefinitionRepository()

	definition := &models.WorkflowDefinition{ID: "def-1", WorkspaceID: "ws-1", Name: "Follow up"}
	require.NoError(t, repo.Save(t.Context(), definition))

	assert.FileExists(t, filepath.Join(testDir, "definitions", "def-1.json"))
	assert.False(t, definition.CreatedAt.IsZero())

	require.NoError(t, repo.Save(t.Context(), &models.WorkflowDefinition{ID: "def-2", WorkspaceID: "ws-2", Name: "Other", IsPublished: true}))

	loaded, err := repo.GetByID(t.Context(), "def-1")
	require.NoError(t, err)
	assert.Equal(t, "Follow up", loaded.Name)

	all, err := repo.List(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := repo.List(t.Context(), "ws-1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "def-1", scoped[0].ID)

	published, err := repo.ListPublished(t.Context(), "ws-1")
	require.NoError(t, err)
	assert.Empty(t, published)

	require.NoError(t, repo.Delete(t.Context(), "def-1"))

	_, err = repo.GetByID(t.Context(), "def-1")
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestDefinitionRepository_RejectsPathTraversal(t *testing.T) {
	repo := NewPersistence(t.TempDir()).DefinitionRepository()

	_, err := repo.GetByID(t.Context(), "../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid characters")
}

func TestDefinitionRepository_Versions(t *testing.T) {
	repo := NewPersistence(t.TempDir()).DefinitionRepository()

	for version := 1; version <= 5; version++ {
		require.NoError(t, repo.SaveVersion(t.Context(), &models.WorkflowVersion{
			ID:           "v" + string(rune('0'+version)),
			DefinitionID: "def-1",
			Version:      version,
			Definition:   &models.WorkflowDefinition{ID: "def-1", Version: version},
		}))
	}

	versions, err := repo.Versions(t.Context(), "def-1")
	require.NoError(t, err)
	require.Len(t, versions, 5)
	assert.Equal(t, 5, versions[0].Version)

	require.NoError(t, repo.PruneVersions(t.Context(), "def-1", 2))

	versions, err = repo.Versions(t.Context(), "def-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, []int{5, 4}, []int{versions[0].Version, versions[1].Version})

	_, err = repo.GetVersion(t.Context(), "def-1", 1)
	assert.True(t, persistence.IsVersionNotFound(err))

	snapshot, err := repo.GetVersion(t.Context(), "def-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, snapshot.Definition.Version)
}

func TestExecutionRepository_OptimisticUpdate(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	execution := &models.WorkflowExecution{ID: "exec-1", Status: models.ExecutionStatusPending}
	require.NoError(t, repo.Create(t.Context(), execution))
	require.Error(t, repo.Create(t.Context(), execution))

	first, err := repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)

	second, err := repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)

	first.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.Update(t.Context(), first))
	assert.Equal(t, int64(1), first.Revision)

	second.Status = models.ExecutionStatusCancelled
	err = repo.Update(t.Context(), second)
	assert.True(t, persistence.IsExecutionConflict(err))

	stored, err := repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)

	err = repo.Update(t.Context(), &models.WorkflowExecution{ID: "missing"})
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_FindDue(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	earlier := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	executions := []*models.WorkflowExecution{
		{ID: "running-due", Status: models.ExecutionStatusRunning, NextRunAt: &past},
		{ID: "paused-due", Status: models.ExecutionStatusPaused, ResumeAt: &earlier},
		{ID: "paused-later", Status: models.ExecutionStatusPaused, ResumeAt: &future},
		{ID: "paused-event", Status: models.ExecutionStatusPaused, WaitEventType: "email_opened"},
		{ID: "completed", Status: models.ExecutionStatusCompleted, NextRunAt: &past},
		{ID: "pending-due", Status: models.ExecutionStatusPending, NextRunAt: &now},
	}

	for _, execution := range executions {
		require.NoError(t, repo.Create(t.Context(), execution))
	}

	due, err := repo.FindDue(t.Context(), now, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, execution := range due {
		ids = append(ids, execution.ID)
	}

	assert.Equal(t, []string{"paused-due", "running-due", "pending-due"}, ids)

	limited, err := repo.FindDue(t.Context(), now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestExecutionRepository_List(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	require.NoError(t, repo.Create(t.Context(), &models.WorkflowExecution{ID: "e1", WorkspaceID: "ws", DefinitionID: "d1", Status: models.ExecutionStatusFailed}))
	require.NoError(t, repo.Create(t.Context(), &models.WorkflowExecution{ID: "e2", WorkspaceID: "ws", DefinitionID: "d2", Status: models.ExecutionStatusCompleted}))
	require.NoError(t, repo.Create(t.Context(), &models.WorkflowExecution{ID: "e3", WorkspaceID: "other", DefinitionID: "d1", Status: models.ExecutionStatusFailed}))

	list, err := repo.List(t.Context(), persistence.ExecutionListOptions{WorkspaceID: "ws", Status: models.ExecutionStatusFailed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e1", list[0].ID)

	list, err = repo.List(t.Context(), persistence.ExecutionListOptions{DefinitionID: "d1"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStepRepository(t *testing.T) {
	repo := NewPersistence(t.TempDir()).StepRepository()

	_, err := repo.Get(t.Context(), "exec-1", "n1", models.RootBranchID)
	assert.True(t, persistence.IsStepNotFound(err))

	step := &models.WorkflowExecutionStep{ID: "s1", ExecutionID: "exec-1", NodeID: "n1", BranchID: models.RootBranchID, Status: models.StepStatusRunning}
	require.NoError(t, repo.Save(t.Context(), step))

	step.Status = models.StepStatusSuccess
	step.OutputData = map[string]any{"task_id": "t-1"}
	require.NoError(t, repo.Save(t.Context(), step))

	require.NoError(t, repo.Save(t.Context(), &models.WorkflowExecutionStep{ID: "s2", ExecutionID: "exec-1", NodeID: "n1", BranchID: "b1"}))

	loaded, err := repo.Get(t.Context(), "exec-1", "n1", models.RootBranchID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusSuccess, loaded.Status)
	assert.Equal(t, "t-1", loaded.OutputData["task_id"])

	steps, err := repo.ListByExecution(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestStepRepository_Transition(t *testing.T) {
	repo := NewPersistence(t.TempDir()).StepRepository()

	missing := &models.WorkflowExecutionStep{ID: "s0", ExecutionID: "exec-1", NodeID: "w0", BranchID: models.RootBranchID, Status: models.StepStatusSuccess}
	assert.True(t, persistence.IsStepConflict(repo.Transition(t.Context(), missing, models.StepStatusWaiting)))

	waiting := &models.WorkflowExecutionStep{ID: "s1", ExecutionID: "exec-1", NodeID: "w1", BranchID: models.RootBranchID, Status: models.StepStatusWaiting}
	require.NoError(t, repo.Save(t.Context(), waiting))

	byTimeout := *waiting
	byTimeout.Status = models.StepStatusSuccess
	byTimeout.SelectedBranch = models.EdgeLabelTimeout
	require.NoError(t, repo.Transition(t.Context(), &byTimeout, models.StepStatusWaiting))

	byEvent := *waiting
	byEvent.Status = models.StepStatusSuccess
	byEvent.OutputData = map[string]any{"body": "late reply"}
	err := repo.Transition(t.Context(), &byEvent, models.StepStatusWaiting)
	assert.True(t, persistence.IsStepConflict(err))

	loaded, err := repo.Get(t.Context(), "exec-1", "w1", models.RootBranchID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusSuccess, loaded.Status)
	assert.Equal(t, models.EdgeLabelTimeout, loaded.SelectedBranch)
	assert.Empty(t, loaded.OutputData)
}

func TestSubscriptionRepository(t *testing.T) {
	repo := NewPersistence(t.TempDir()).SubscriptionRepository()
	now := time.Now().UTC()
	expired := now.Add(-time.Minute)

	require.NoError(t, repo.Create(t.Context(), &models.WorkflowEventSubscription{ID: "s1", WorkspaceID: "ws", ExecutionID: "e1", EventType: "email_opened", IsActive: true, TimeoutAt: &expired}))
	require.NoError(t, repo.Create(t.Context(), &models.WorkflowEventSubscription{ID: "s2", WorkspaceID: "ws", ExecutionID: "e2", EventType: "email_opened", IsActive: true}))
	require.NoError(t, repo.Create(t.Context(), &models.WorkflowEventSubscription{ID: "s3", WorkspaceID: "ws", ExecutionID: "e3", EventType: "email_opened"}))

	active, err := repo.FindActiveByEventType(t.Context(), "ws", "email_opened")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	due, err := repo.FindExpired(t.Context(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "s1", due[0].ID)

	require.NoError(t, repo.DeactivateByExecution(t.Context(), "e1"))

	active, err = repo.FindActiveByExecution(t.Context(), "e1")
	require.NoError(t, err)
	assert.Empty(t, active)

	err = repo.Update(t.Context(), &models.WorkflowEventSubscription{ID: "missing"})
	assert.True(t, persistence.IsSubscriptionNotFound(err))
}

func TestDeadLetterRepository(t *testing.T) {
	repo := NewPersistence(t.TempDir()).DeadLetterRepository()

	deadLetter := &models.WorkflowDeadLetter{ID: "dl-1", WorkspaceID: "ws", ExecutionID: "e1", Status: models.DeadLetterStatusPending}
	require.NoError(t, repo.Create(t.Context(), deadLetter))

	err := repo.Create(t.Context(), &models.WorkflowDeadLetter{ID: "dl-2", ExecutionID: "e1"})
	assert.True(t, persistence.IsDeadLetterExists(err))

	loaded, err := repo.GetByExecution(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "dl-1", loaded.ID)

	loaded.Status = models.DeadLetterStatusIgnored
	require.NoError(t, repo.Update(t.Context(), loaded))

	pending, err := repo.List(t.Context(), persistence.DeadLetterListOptions{WorkspaceID: "ws", Status: models.DeadLetterStatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repo.GetByID(t.Context(), "dl-9")
	assert.True(t, persistence.IsDeadLetterNotFound(err))
}
