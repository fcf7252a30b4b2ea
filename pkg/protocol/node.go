// Package protocol defines the contracts between the execution engine, node
// executors and the external collaborators they delegate to.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/loom/pkg/models"
)

// AnySubtype registers a factory for every subtype of its node type.
const AnySubtype = "*"

// NodeExecutor runs nodes of one (type, subtype) pair.
type NodeExecutor interface {
	// Validate checks the node configuration and returns one error per problem.
	Validate(node *models.Node) []error

	// Execute runs the node. Failures are reported through the result, never panics.
	Execute(ctx context.Context, execCtx NodeExecutionContext) NodeExecutionResult

	// SupportedSubtypes returns the subtypes this executor handles.
	SupportedSubtypes() []string
}

// ExecutorFactory creates executors and provides metadata about the node type.
type ExecutorFactory interface {
	// NodeType returns the node type this factory serves
	NodeType() models.NodeType

	// Subtypes returns the registered subtypes, AnySubtype for a catch-all
	Subtypes() []string

	// Create creates an executor for the given subtype
	Create(ctx context.Context, subtype string) (NodeExecutor, error)

	// Name returns the human-readable name of the node type
	Name() string

	// Description returns a description of what the node type does
	Description() string

	// Schema returns the JSON schema for configuring the given subtype
	Schema(subtype string) map[string]any
}

// NodeExecutionContext is everything a node sees when it runs.
type NodeExecutionContext struct {
	WorkflowID     string
	ExecutionID    string
	Node           *models.Node
	Input          map[string]any
	Attachments    map[models.ConnectionType][]Attachment
	Tools          []ToolHandle
	Memories       []MemoryHandle
	Variables      map[string]any
	TriggerPayload map[string]any
	Attempt        int
	Logger         *slog.Logger
}

// Attachment is the data carried by one AI_* edge into its target node.
type Attachment struct {
	FromNode string         `json:"from_node"`
	Index    int            `json:"index"`
	Data     map[string]any `json:"data,omitempty"`
}

// ToolHandle is a callable tool bound to an AI_AGENT node.
type ToolHandle interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, arguments map[string]any) (map[string]any, error)
}

// MemoryHandle reads and writes the memory bound to an AI_AGENT node.
type MemoryHandle interface {
	Namespace() string
	Load(ctx context.Context) ([]map[string]any, error)
	Save(ctx context.Context, entry map[string]any) error
}

// ToolProvider is implemented by executors whose nodes can be attached as tools.
type ToolProvider interface {
	AttachTool(node *models.Node) (ToolHandle, error)
}

// MemoryProvider is implemented by executors whose nodes can be attached as memory.
type MemoryProvider interface {
	AttachMemory(node *models.Node) (MemoryHandle, error)
}
