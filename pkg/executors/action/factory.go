// Package action provides the ACTION node executor for in-process data steps.
package action

import (
	"context"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

const (
	SubtypeLog       = "LOG"
	SubtypeTransform = "TRANSFORM"
	SubtypeSet       = "SET"
)

// Factory creates action executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NodeType() models.NodeType {
	return models.NodeTypeAction
}

func (f *Factory) Subtypes() []string {
	return []string{SubtypeLog, SubtypeTransform, SubtypeSet}
}

func (f *Factory) Create(_ context.Context, _ string) (protocol.NodeExecutor, error) {
	return &Executor{}, nil
}

func (f *Factory) Name() string {
	return "Action"
}

func (f *Factory) Description() string {
	return "Logs, reshapes or enriches the data flowing through the workflow without leaving the process."
}

func (f *Factory) Schema(subtype string) map[string]any {
	switch subtype {
	case SubtypeLog:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "Template rendered against the node input and written to the execution log.",
					"examples":    []string{"processing order {{.input.id}}"},
				},
				"level": map[string]any{"type": "string", "enum": []string{"debug", "info", "warn", "error"}},
			},
			"required": []string{"message"},
		}
	case SubtypeTransform:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"format":      "code",
					"description": "Template whose JSON output becomes the node output. Non-object output is stored under result.",
					"examples": []string{
						`{"name": "{{.input.first}} {{.input.last}}"}`,
						`{{json .input.items}}`,
					},
				},
			},
			"required": []string{"expression"},
		}
	default:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"values": map[string]any{
					"type":        "object",
					"description": "Values written on top of the input. String values are rendered as templates.",
				},
			},
			"required": []string{"values"},
		}
	}
}
