package triggerindex

import (
	"fmt"
	"strings"

	"github.com/dukex/loom/pkg/models"
)

// IndexKey computes the coarse lookup key of a trigger from its configuration:
// the cron expression, webhook path, Slack workspace, email address, repository
// or, for manual triggers, the workflow id.
func IndexKey(workflowID string, subtype models.TriggerSubtype, configuration map[string]any) (string, error) {
	switch subtype {
	case models.TriggerManual:
		return workflowID, nil
	case models.TriggerCron:
		return cronKey(stringAt(configuration, "cron_expression")), nil
	case models.TriggerWebhook:
		return webhookKey(stringAt(configuration, "path")), nil
	case models.TriggerEmail:
		return strings.ToLower(strings.TrimSpace(stringAt(configuration, "address"))), nil
	case models.TriggerGithub:
		return strings.ToLower(strings.TrimSpace(stringAt(configuration, "repository"))), nil
	case models.TriggerSlack:
		return strings.TrimSpace(stringAt(configuration, "workspace_id")), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSubtype, subtype)
	}
}

// EventKey returns the lookup key of an event: its explicit IndexKey, otherwise
// the field of the payload the subtype is keyed on.
func EventKey(event models.TriggerEvent) (string, error) {
	switch event.Subtype {
	case models.TriggerCron, models.TriggerManual, models.TriggerWebhook,
		models.TriggerEmail, models.TriggerGithub, models.TriggerSlack:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSubtype, event.Subtype)
	}

	if event.IndexKey != "" {
		switch event.Subtype {
		case models.TriggerCron:
			return cronKey(event.IndexKey), nil
		case models.TriggerWebhook:
			return webhookKey(event.IndexKey), nil
		case models.TriggerEmail, models.TriggerGithub:
			return strings.ToLower(event.IndexKey), nil
		default:
			return event.IndexKey, nil
		}
	}

	var key string

	switch event.Subtype {
	case models.TriggerWebhook:
		key = webhookKey(stringAt(event.Payload, "path"))
	case models.TriggerEmail:
		key = strings.ToLower(strings.TrimSpace(stringAt(event.Payload, "to")))
	case models.TriggerGithub:
		key = strings.ToLower(stringAt(event.Payload, "repository"))
	case models.TriggerSlack:
		key = stringAt(event.Payload, "workspace_id")
	}

	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, event.Subtype)
	}

	return key, nil
}

func cronKey(expression string) string {
	return strings.Join(strings.Fields(expression), " ")
}

func webhookKey(path string) string {
	path = strings.TrimSpace(path)
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	return path
}

func stringAt(values map[string]any, key string) string {
	if s, ok := values[key].(string); ok {
		return s
	}

	return ""
}
