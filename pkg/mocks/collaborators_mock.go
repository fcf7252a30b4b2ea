package mocks

import (
	"context"
	"testing"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

func mapResult(args mock.Arguments, index int) map[string]any {
	if value, ok := args.Get(index).(map[string]any); ok {
		return value
	}

	return nil
}

// MockActionClient is a mock implementation of protocol.ActionClient.
type MockActionClient struct {
	mock.Mock
}

func NewMockActionClient(t *testing.T) *MockActionClient {
	m := &MockActionClient{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockActionClient) Do(ctx context.Context, request protocol.ActionRequest) (map[string]any, error) {
	args := m.Called(ctx, request)

	return mapResult(args, 0), args.Error(1)
}

// MockAgentRunner is a mock implementation of protocol.AgentRunner.
type MockAgentRunner struct {
	mock.Mock
}

func NewMockAgentRunner(t *testing.T) *MockAgentRunner {
	m := &MockAgentRunner{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockAgentRunner) Run(ctx context.Context, request protocol.AgentRequest) (map[string]any, error) {
	args := m.Called(ctx, request)

	return mapResult(args, 0), args.Error(1)
}

// MockToolInvoker is a mock implementation of protocol.ToolInvoker.
type MockToolInvoker struct {
	mock.Mock
}

func NewMockToolInvoker(t *testing.T) *MockToolInvoker {
	m := &MockToolInvoker{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockToolInvoker) Invoke(ctx context.Context, tool string, arguments map[string]any) (map[string]any, error) {
	args := m.Called(ctx, tool, arguments)

	return mapResult(args, 0), args.Error(1)
}

// MockClassifier is a mock implementation of protocol.Classifier.
type MockClassifier struct {
	mock.Mock
}

func NewMockClassifier(t *testing.T) *MockClassifier {
	m := &MockClassifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockClassifier) Classify(ctx context.Context, interaction *models.HILInteraction, responseText string) (float64, string, error) {
	args := m.Called(ctx, interaction, responseText)

	return args.Get(0).(float64), args.String(1), args.Error(2)
}

// MockChannelSender is a mock implementation of protocol.ChannelSender.
type MockChannelSender struct {
	mock.Mock
}

func NewMockChannelSender(t *testing.T) *MockChannelSender {
	m := &MockChannelSender{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockChannelSender) Send(ctx context.Context, channel models.ChannelType, target, message string) (string, error) {
	args := m.Called(ctx, channel, target, message)

	return args.String(0), args.Error(1)
}
