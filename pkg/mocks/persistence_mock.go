package mocks

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence that
// hands out the mock repositories it holds.
type MockPersistence struct {
	mock.Mock

	Definitions   *MockDefinitionRepository
	Executions    *MockExecutionRepository
	Steps         *MockStepRepository
	Subscriptions *MockSubscriptionRepository
	DeadLetters   *MockDeadLetterRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Definitions:   &MockDefinitionRepository{},
		Executions:    &MockExecutionRepository{},
		Steps:         &MockStepRepository{},
		Subscriptions: &MockSubscriptionRepository{},
		DeadLetters:   &MockDeadLetterRepository{},
	}
}

func (m *MockPersistence) DefinitionRepository() persistence.DefinitionRepository {
	return m.Definitions
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) StepRepository() persistence.StepRepository {
	return m.Steps
}

func (m *MockPersistence) SubscriptionRepository() persistence.SubscriptionRepository {
	return m.Subscriptions
}

func (m *MockPersistence) DeadLetterRepository() persistence.DeadLetterRepository {
	return m.DeadLetters
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockDefinitionRepository is a mock implementation of persistence.DefinitionRepository interface.
type MockDefinitionRepository struct {
	mock.Mock
}

func (m *MockDefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

func (m *MockDefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) List(ctx context.Context, workspaceID string) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) ListPublished(ctx context.Context, workspaceID string) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockDefinitionRepository) SaveVersion(ctx context.Context, version *models.WorkflowVersion) error {
	args := m.Called(ctx, version)

	return args.Error(0)
}

func (m *MockDefinitionRepository) Versions(ctx context.Context, definitionID string) ([]*models.WorkflowVersion, error) {
	args := m.Called(ctx, definitionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowVersion), args.Error(1)
}

func (m *MockDefinitionRepository) GetVersion(ctx context.Context, definitionID string, version int) (*models.WorkflowVersion, error) {
	args := m.Called(ctx, definitionID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowVersion), args.Error(1)
}

func (m *MockDefinitionRepository) PruneVersions(ctx context.Context, definitionID string, keep int) error {
	args := m.Called(ctx, definitionID, keep)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) List(ctx context.Context, opts persistence.ExecutionListOptions) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

// MockStepRepository is a mock implementation of persistence.StepRepository interface.
type MockStepRepository struct {
	mock.Mock
}

func (m *MockStepRepository) Save(ctx context.Context, step *models.WorkflowExecutionStep) error {
	args := m.Called(ctx, step)

	return args.Error(0)
}

func (m *MockStepRepository) Transition(ctx context.Context, step *models.WorkflowExecutionStep, from models.StepStatus) error {
	args := m.Called(ctx, step, from)

	return args.Error(0)
}

func (m *MockStepRepository) Get(ctx context.Context, executionID, nodeID, branchID string) (*models.WorkflowExecutionStep, error) {
	args := m.Called(ctx, executionID, nodeID, branchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecutionStep), args.Error(1)
}

func (m *MockStepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowExecutionStep, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecutionStep), args.Error(1)
}

// MockSubscriptionRepository is a mock implementation of persistence.SubscriptionRepository interface.
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, subscription *models.WorkflowEventSubscription) error {
	args := m.Called(ctx, subscription)

	return args.Error(0)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, subscription *models.WorkflowEventSubscription) error {
	args := m.Called(ctx, subscription)

	return args.Error(0)
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowEventSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowEventSubscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindActiveByEventType(ctx context.Context, workspaceID, eventType string) ([]*models.WorkflowEventSubscription, error) {
	args := m.Called(ctx, workspaceID, eventType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowEventSubscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindActiveByExecution(ctx context.Context, executionID string) ([]*models.WorkflowEventSubscription, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowEventSubscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowEventSubscription, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowEventSubscription), args.Error(1)
}

func (m *MockSubscriptionRepository) DeactivateByExecution(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}

// MockDeadLetterRepository is a mock implementation of persistence.DeadLetterRepository interface.
type MockDeadLetterRepository struct {
	mock.Mock
}

func (m *MockDeadLetterRepository) Create(ctx context.Context, deadLetter *models.WorkflowDeadLetter) error {
	args := m.Called(ctx, deadLetter)

	return args.Error(0)
}

func (m *MockDeadLetterRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDeadLetter, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDeadLetter), args.Error(1)
}

func (m *MockDeadLetterRepository) GetByExecution(ctx context.Context, executionID string) (*models.WorkflowDeadLetter, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDeadLetter), args.Error(1)
}

func (m *MockDeadLetterRepository) Update(ctx context.Context, deadLetter *models.WorkflowDeadLetter) error {
	args := m.Called(ctx, deadLetter)

	return args.Error(0)
}

func (m *MockDeadLetterRepository) List(ctx context.Context, opts persistence.DeadLetterListOptions) ([]*models.WorkflowDeadLetter, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDeadLetter), args.Error(1)
}
