// Package aiagent provides the AI_AGENT node executor. The agent loop itself is an
// external collaborator; this package hands it the prompt, the typed attachments
// and the bound tool and memory handles.
package aiagent

import (
	"context"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

// Factory creates agent executors bound to one agent runner.
type Factory struct {
	runner protocol.AgentRunner
}

func NewFactory(runner protocol.AgentRunner) *Factory {
	return &Factory{runner: runner}
}

func (f *Factory) NodeType() models.NodeType {
	return models.NodeTypeAIAgent
}

func (f *Factory) Subtypes() []string {
	return []string{protocol.AnySubtype}
}

func (f *Factory) Create(_ context.Context, _ string) (protocol.NodeExecutor, error) {
	return NewExecutor(f.runner), nil
}

func (f *Factory) Name() string {
	return "AI agent"
}

func (f *Factory) Description() string {
	return "Runs an AI agent over the node input with the tools and memory attached to it."
}

func (f *Factory) Schema(_ string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"model":          map[string]any{"type": "string", "examples": []string{"claude-sonnet", "gpt-4o"}},
			"system_prompt":  map[string]any{"type": "string"},
			"prompt":         map[string]any{"type": "string", "description": "Template rendered against the node input."},
			"max_iterations": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"model", "prompt"},
	}
}
