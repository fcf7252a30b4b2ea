package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockTriggerIndexRepository is a mock implementation of persistence.TriggerIndexRepository.
type MockTriggerIndexRepository struct {
	mock.Mock
}

func NewMockTriggerIndexRepository(t *testing.T) *MockTriggerIndexRepository {
	m := &MockTriggerIndexRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func entries(args mock.Arguments) []*models.TriggerIndexEntry {
	if value, ok := args.Get(0).([]*models.TriggerIndexEntry); ok {
		return value
	}

	return nil
}

func (m *MockTriggerIndexRepository) UpsertEntry(ctx context.Context, entry *models.TriggerIndexEntry) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockTriggerIndexRepository) EntriesByKey(ctx context.Context, subtype models.TriggerSubtype, indexKey string) ([]*models.TriggerIndexEntry, error) {
	args := m.Called(ctx, subtype, indexKey)

	return entries(args), args.Error(1)
}

func (m *MockTriggerIndexRepository) EntriesByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerIndexEntry, error) {
	args := m.Called(ctx, workflowID)

	return entries(args), args.Error(1)
}

func (m *MockTriggerIndexRepository) ActiveKeys(ctx context.Context, subtype models.TriggerSubtype) ([]string, error) {
	args := m.Called(ctx, subtype)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockTriggerIndexRepository) SetEntryStatus(ctx context.Context, workflowID, indexKey string, status models.DeploymentStatus) error {
	args := m.Called(ctx, workflowID, indexKey, status)

	return args.Error(0)
}

func (m *MockTriggerIndexRepository) SetWorkflowEntriesStatus(ctx context.Context, workflowID string, status models.DeploymentStatus) error {
	args := m.Called(ctx, workflowID, status)

	return args.Error(0)
}

func (m *MockTriggerIndexRepository) DeleteWorkflowEntries(ctx context.Context, workflowID string) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}

// MockHILRepository is a mock implementation of persistence.HILRepository.
type MockHILRepository struct {
	mock.Mock
}

func NewMockHILRepository(t *testing.T) *MockHILRepository {
	m := &MockHILRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func interactions(args mock.Arguments) []*models.HILInteraction {
	if value, ok := args.Get(0).([]*models.HILInteraction); ok {
		return value
	}

	return nil
}

func (m *MockHILRepository) CreateInteraction(ctx context.Context, interaction *models.HILInteraction) error {
	args := m.Called(ctx, interaction)

	return args.Error(0)
}

func (m *MockHILRepository) InteractionByID(ctx context.Context, id string) (*models.HILInteraction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.HILInteraction), args.Error(1)
}

func (m *MockHILRepository) TransitionInteraction(ctx context.Context, id string, to models.InteractionStatus, responseData map[string]any, at time.Time) (bool, error) {
	args := m.Called(ctx, id, to, responseData, at)

	return args.Bool(0), args.Error(1)
}

func (m *MockHILRepository) MarkWarningSent(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)

	return args.Bool(0), args.Error(1)
}

func (m *MockHILRepository) SetDeliveryID(ctx context.Context, id, deliveryID string) error {
	args := m.Called(ctx, id, deliveryID)

	return args.Error(0)
}

func (m *MockHILRepository) PendingInteractions(ctx context.Context) ([]*models.HILInteraction, error) {
	args := m.Called(ctx)

	return interactions(args), args.Error(1)
}

func (m *MockHILRepository) PendingInteractionsByExecution(ctx context.Context, executionID string) ([]*models.HILInteraction, error) {
	args := m.Called(ctx, executionID)

	return interactions(args), args.Error(1)
}

func (m *MockHILRepository) LatestPendingInteraction(ctx context.Context, channel models.ChannelType, target string) (*models.HILInteraction, error) {
	args := m.Called(ctx, channel, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.HILInteraction), args.Error(1)
}

func (m *MockHILRepository) SaveResponse(ctx context.Context, response *models.HILResponse) error {
	args := m.Called(ctx, response)

	return args.Error(0)
}

func (m *MockHILRepository) ResponsesByInteraction(ctx context.Context, interactionID string) ([]*models.HILResponse, error) {
	args := m.Called(ctx, interactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.HILResponse), args.Error(1)
}
