// Package hil provides the HUMAN_IN_THE_LOOP node executor. The executor only
// describes the interaction; the engine pauses the execution and the HIL manager
// delivers the request.
package hil

import (
	"context"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

const (
	SubtypeApproval  = "APPROVAL"
	SubtypeInput     = "INPUT"
	SubtypeSelection = "SELECTION"
	SubtypeReview    = "REVIEW"
)

// Factory creates human-in-the-loop executors.
type Factory struct {
	defaultTimeoutSeconds int
}

// NewFactory creates a factory whose executors fall back to defaultTimeoutSeconds
// when a node does not configure a timeout.
func NewFactory(defaultTimeoutSeconds int) *Factory {
	return &Factory{defaultTimeoutSeconds: defaultTimeoutSeconds}
}

func (f *Factory) NodeType() models.NodeType {
	return models.NodeTypeHumanInTheLoop
}

func (f *Factory) Subtypes() []string {
	return []string{SubtypeApproval, SubtypeInput, SubtypeSelection, SubtypeReview}
}

func (f *Factory) Create(_ context.Context, _ string) (protocol.NodeExecutor, error) {
	return &Executor{DefaultTimeoutSeconds: f.defaultTimeoutSeconds}, nil
}

func (f *Factory) Name() string {
	return "Human in the loop"
}

func (f *Factory) Description() string {
	return "Pauses the execution until a person approves, answers, selects or reviews, or until the request times out."
}

func (f *Factory) Schema(subtype string) map[string]any {
	required := []string{"channel", "target", "message"}
	if subtype == SubtypeSelection {
		required = append(required, "options")
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type": "string",
				"enum": []string{"slack", "email", "webhook", "in_app"},
			},
			"target": map[string]any{
				"type":        "string",
				"description": "Channel specific recipient: Slack channel, email address, webhook URL or user id.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Template rendered against the node input and sent to the target.",
			},
			"options": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"timeout_seconds": map[string]any{"type": "integer", "minimum": 0},
			"timeout_action": map[string]any{
				"type":    "string",
				"enum":    []string{"fail", "continue", "default_response"},
				"default": "fail",
			},
			"default_response": map[string]any{"type": "object"},
		},
		"required": required,
	}
}
