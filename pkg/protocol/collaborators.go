package protocol

import (
	"context"

	"github.com/dukex/loom/pkg/models"
)

// Classifier scores how relevant an inbound response is to an interaction.
type Classifier interface {
	Classify(ctx context.Context, interaction *models.HILInteraction, responseText string) (score float64, reasoning string, err error)
}

// ChannelSender delivers a rendered message to a target on a channel.
type ChannelSender interface {
	Send(ctx context.Context, channel models.ChannelType, target, message string) (deliveryID string, err error)
}

// AgentRequest is what an AI_AGENT node hands to the agent runner.
type AgentRequest struct {
	Subtype      string
	Model        string
	SystemPrompt string
	Prompt       string
	Input        map[string]any
	Attachments  map[models.ConnectionType][]Attachment
	Tools        []ToolHandle
	Memories     []MemoryHandle
	MaxSteps     int
}

// AgentRunner runs an AI agent to completion.
type AgentRunner interface {
	Run(ctx context.Context, request AgentRequest) (map[string]any, error)
}

// ActionRequest is what an EXTERNAL_ACTION node hands to the action client.
type ActionRequest struct {
	Integration string
	Operation   string
	Parameters  map[string]any
	Input       map[string]any
}

// ActionClient performs operations against external integrations.
type ActionClient interface {
	Do(ctx context.Context, request ActionRequest) (map[string]any, error)
}

// ToolInvoker calls a named tool.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, arguments map[string]any) (map[string]any, error)
}

// MemoryStore persists conversation buffers and keyed values for MEMORY nodes.
type MemoryStore interface {
	Append(ctx context.Context, namespace string, entry map[string]any, maxEntries int) error
	Load(ctx context.Context, namespace string, limit int) ([]map[string]any, error)
	Put(ctx context.Context, namespace, key string, value map[string]any) error
	Get(ctx context.Context, namespace, key string) (map[string]any, bool, error)
}
