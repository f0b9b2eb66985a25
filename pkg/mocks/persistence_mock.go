package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) ListCreators(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockWorkflowRepository) ListDocuments(ctx context.Context, creatorID string, opts persistence.ListOptions) ([]models.RawDocument, error) {
	args := m.Called(ctx, creatorID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.RawDocument), args.Error(1)
}

func (m *MockWorkflowRepository) GetDocument(ctx context.Context, creatorID, workflowID string) (models.RawDocument, error) {
	args := m.Called(ctx, creatorID, workflowID)

	return args.Get(0).(models.RawDocument), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, creatorID, workflowID string) (*models.Workflow, error) {
	args := m.Called(ctx, creatorID, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListByCreator(ctx context.Context, creatorID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, creatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, creatorID, workflowID string) error {
	args := m.Called(ctx, creatorID, workflowID)

	return args.Error(0)
}

func (m *MockWorkflowRepository) NewBatch() persistence.Batch {
	args := m.Called()

	return args.Get(0).(persistence.Batch)
}

// MockBatch is a mock implementation of persistence.Batch interface.
type MockBatch struct {
	mock.Mock
}

func (m *MockBatch) Put(workflow *models.Workflow) {
	m.Called(workflow)
}

func (m *MockBatch) Len() int {
	args := m.Called()

	return args.Int(0)
}

func (m *MockBatch) Commit(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockExecutionStateRepository is a mock implementation of persistence.ExecutionStateRepository interface.
type MockExecutionStateRepository struct {
	mock.Mock
}

func (m *MockExecutionStateRepository) Get(ctx context.Context, conversationID string) (*models.ExecutionState, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionState), args.Error(1)
}

func (m *MockExecutionStateRepository) Save(ctx context.Context, conversationID string, state *models.ExecutionState) error {
	args := m.Called(ctx, conversationID, state)

	return args.Error(0)
}

func (m *MockExecutionStateRepository) Delete(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)

	return args.Error(0)
}

// MockConversationLocker is a mock implementation of persistence.ConversationLocker interface.
type MockConversationLocker struct {
	mock.Mock
}

func (m *MockConversationLocker) Lock(ctx context.Context, conversationID string, ttl time.Duration) (func(context.Context) error, error) {
	args := m.Called(ctx, conversationID, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(func(context.Context) error), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	args := m.Called()

	return args.Get(0).(persistence.WorkflowRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
