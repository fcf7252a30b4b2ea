// Package flow provides the FLOW node executor. Flow nodes route data by enabling
// a subset of their outputs.
package flow

import (
	"context"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

const (
	SubtypeIf     = "IF"
	SubtypeSwitch = "SWITCH"
	SubtypeFilter = "FILTER"
	SubtypeLoop   = "LOOP"
	SubtypeMerge  = models.FlowSubtypeMerge
)

const (
	OutputTrue    = "true"
	OutputFalse   = "false"
	OutputDefault = "default"
	OutputEmpty   = "empty"
)

// Factory creates flow executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NodeType() models.NodeType {
	return models.NodeTypeFlow
}

func (f *Factory) Subtypes() []string {
	return []string{SubtypeIf, SubtypeSwitch, SubtypeFilter, SubtypeLoop, SubtypeMerge}
}

func (f *Factory) Create(_ context.Context, _ string) (protocol.NodeExecutor, error) {
	return &Executor{}, nil
}

func (f *Factory) Name() string {
	return "Flow"
}

func (f *Factory) Description() string {
	return "Branches, filters, iterates over or joins data. Successors connected to inactive outputs are skipped."
}

// Schema returns the JSON schema for configuring the given flow subtype.
func (f *Factory) Schema(subtype string) map[string]any {
	switch subtype {
	case SubtypeIf:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"condition": map[string]any{
					"type":        "string",
					"description": "Template evaluated against the node input. Routes to the true or false output.",
					"examples":    []string{`{{eq .input.status "active"}}`, `{{gt .input.score 75.0}}`},
				},
			},
			"required": []string{"condition"},
		}
	case SubtypeSwitch:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value": map[string]any{"type": "string", "description": "Template producing the value to compare."},
				"cases": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"value":  map[string]any{"type": "string"},
							"output": map[string]any{"type": "string"},
						},
						"required": []string{"value", "output"},
					},
				},
			},
			"required": []string{"value", "cases"},
		}
	case SubtypeFilter:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"items_key": map[string]any{"type": "string", "default": defaultItemsKey},
				"condition": map[string]any{
					"type":        "string",
					"description": "Template evaluated once per item; .item and .index are available.",
				},
			},
			"required": []string{"condition"},
		}
	case SubtypeLoop:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"items_key":      map[string]any{"type": "string", "default": defaultItemsKey},
				"max_iterations": map[string]any{"type": "integer", "minimum": 0},
			},
		}
	default:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode": map[string]any{"type": "string", "enum": []string{"combine", "passthrough"}},
			},
		}
	}
}
