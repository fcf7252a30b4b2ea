// Package external provides the EXTERNAL_ACTION node executor. Every subtype names
// an integration served by a protocol.ActionClient.
package external

import (
	"context"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

// Factory creates external action executors bound to one action client.
type Factory struct {
	client protocol.ActionClient
}

// NewFactory creates a factory. A nil client is allowed: nodes then fail with
// INTEGRATION_NOT_CONFIGURED when they run.
func NewFactory(client protocol.ActionClient) *Factory {
	return &Factory{client: client}
}

func (f *Factory) NodeType() models.NodeType {
	return models.NodeTypeExternalAction
}

func (f *Factory) Subtypes() []string {
	return []string{protocol.AnySubtype}
}

func (f *Factory) Create(_ context.Context, _ string) (protocol.NodeExecutor, error) {
	return &Executor{client: f.client}, nil
}

func (f *Factory) Name() string {
	return "External action"
}

func (f *Factory) Description() string {
	return "Calls an operation on an external integration such as HTTP, Slack, GitHub, email or calendar."
}

func (f *Factory) Schema(_ string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"description": "Integration operation to call.",
				"examples":    []string{"post_message", "create_issue", "request"},
			},
			"parameters": map[string]any{
				"type":        "object",
				"description": "Operation parameters. String values are rendered as templates.",
			},
		},
		"required": []string{"operation"},
	}
}
