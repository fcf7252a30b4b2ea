// Package tool provides the TOOL node executor. Tool nodes run standalone on the
// MAIN path or are attached to an AI_AGENT node as a callable handle.
package tool

import (
	"context"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

// Factory creates tool executors bound to one tool invoker.
type Factory struct {
	invoker protocol.ToolInvoker
}

func NewFactory(invoker protocol.ToolInvoker) *Factory {
	return &Factory{invoker: invoker}
}

func (f *Factory) NodeType() models.NodeType {
	return models.NodeTypeTool
}

func (f *Factory) Subtypes() []string {
	return []string{protocol.AnySubtype}
}

func (f *Factory) Create(_ context.Context, _ string) (protocol.NodeExecutor, error) {
	return NewExecutor(f.invoker), nil
}

func (f *Factory) Name() string {
	return "Tool"
}

func (f *Factory) Description() string {
	return "Invokes a named tool. Attached to an AI agent, the tool becomes callable by the agent."
}

func (f *Factory) Schema(_ string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool":        map[string]any{"type": "string", "examples": []string{"web_search", "calculator"}},
			"description": map[string]any{"type": "string"},
			"parameters":  map[string]any{"type": "object"},
		},
		"required": []string{"tool"},
	}
}
