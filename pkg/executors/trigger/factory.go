// Package trigger provides the TRIGGER node executor. Trigger nodes start an
// execution and hand the trigger payload to their successors.
package trigger

import (
	"context"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

// Factory creates trigger executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NodeType() models.NodeType {
	return models.NodeTypeTrigger
}

func (f *Factory) Subtypes() []string {
	subtypes := make([]string, 0, len(models.TriggerSubtypes))
	for _, subtype := range models.TriggerSubtypes {
		subtypes = append(subtypes, string(subtype))
	}

	return subtypes
}

func (f *Factory) Create(_ context.Context, _ string) (protocol.NodeExecutor, error) {
	return &Executor{}, nil
}

func (f *Factory) Name() string {
	return "Trigger"
}

func (f *Factory) Description() string {
	return "Starts a workflow execution from a schedule, webhook, email, repository event, Slack event or a manual run."
}

var filterProperty = map[string]any{
	"type":        "string",
	"description": "JSONPath expression that must select at least one value from the event payload.",
	"examples":    []string{"$.action", "$.pull_request[?(@.draft == false)]"},
}

// Schema returns the JSON schema for configuring the given trigger subtype.
func (f *Factory) Schema(subtype string) map[string]any {
	switch models.TriggerSubtype(subtype) {
	case models.TriggerCron:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cron_expression": map[string]any{
					"type":        "string",
					"description": "Five-field cron expression or descriptor such as @hourly.",
					"examples":    []string{"0 9 * * *", "*/15 * * * *", "@daily"},
				},
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone the expression is evaluated in. Defaults to UTC.",
					"examples":    []string{"UTC", "America/New_York"},
				},
			},
			"required": []string{"cron_expression"},
		}
	case models.TriggerWebhook:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":   map[string]any{"type": "string", "pattern": "^/"},
				"method": map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
				"filter": filterProperty,
			},
			"required": []string{"path"},
		}
	case models.TriggerEmail:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"address":          map[string]any{"type": "string"},
				"subject_contains": map[string]any{"type": "string"},
				"from_contains":    map[string]any{"type": "string"},
				"filter":           filterProperty,
			},
			"required": []string{"address"},
		}
	case models.TriggerGithub:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repository": map[string]any{"type": "string", "description": "owner/name"},
				"events":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"branches":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"filter":     filterProperty,
			},
			"required": []string{"repository"},
		}
	case models.TriggerSlack:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workspace_id": map[string]any{"type": "string"},
				"channel_id":   map[string]any{"type": "string"},
				"event_types":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"filter":       filterProperty,
			},
			"required": []string{"workspace_id"},
		}
	default:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{"type": "string"},
			},
		}
	}
}
