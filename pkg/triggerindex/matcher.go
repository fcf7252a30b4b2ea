package triggerindex

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/ohler55/ojg/jp"
)

// matches runs the exact matcher of the entry's subtype against an event that
// already shares its coarse key. Coarse keys collide (one cron expression in two
// timezones, one repository with different branch filters); this decides.
func matches(entry *models.TriggerIndexEntry, event models.TriggerEvent) (bool, error) {
	switch entry.TriggerSubtype {
	case models.TriggerManual:
		return true, nil
	case models.TriggerCron:
		var cfg models.CronTriggerConfig
		if err := models.DecodeConfig(entry.TriggerConfig, &cfg); err != nil {
			return false, err
		}

		return matchCron(cfg, event)
	case models.TriggerWebhook:
		var cfg models.WebhookTriggerConfig
		if err := models.DecodeConfig(entry.TriggerConfig, &cfg); err != nil {
			return false, err
		}

		return matchWebhook(cfg, event)
	case models.TriggerEmail:
		var cfg models.EmailTriggerConfig
		if err := models.DecodeConfig(entry.TriggerConfig, &cfg); err != nil {
			return false, err
		}

		return matchEmail(cfg, event)
	case models.TriggerGithub:
		var cfg models.GithubTriggerConfig
		if err := models.DecodeConfig(entry.TriggerConfig, &cfg); err != nil {
			return false, err
		}

		return matchGithub(cfg, event)
	case models.TriggerSlack:
		var cfg models.SlackTriggerConfig
		if err := models.DecodeConfig(entry.TriggerConfig, &cfg); err != nil {
			return false, err
		}

		return matchSlack(cfg, event)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownSubtype, entry.TriggerSubtype)
	}
}

// matchCron accepts a tick when the schedule, read in its own timezone, fires in
// the tick's minute.
func matchCron(cfg models.CronTriggerConfig, event models.TriggerEvent) (bool, error) {
	schedule, err := models.ParseSchedule(cfg.CronExpression, cfg.Timezone)
	if err != nil {
		return false, err
	}

	at := event.Time
	if at.IsZero() {
		at = time.Now()
	}

	return schedule.FiresAt(at), nil
}

func matchWebhook(cfg models.WebhookTriggerConfig, event models.TriggerEvent) (bool, error) {
	if cfg.Method != "" && !strings.EqualFold(cfg.Method, stringAt(event.Payload, "method")) {
		return false, nil
	}

	return matchFilter(cfg.Filter, event.Payload)
}

func matchEmail(cfg models.EmailTriggerConfig, event models.TriggerEvent) (bool, error) {
	if !containsFold(stringAt(event.Payload, "subject"), cfg.SubjectContains) {
		return false, nil
	}

	if !containsFold(stringAt(event.Payload, "from"), cfg.FromContains) {
		return false, nil
	}

	return matchFilter(cfg.Filter, event.Payload)
}

func matchGithub(cfg models.GithubTriggerConfig, event models.TriggerEvent) (bool, error) {
	if len(cfg.Events) > 0 && !slices.Contains(cfg.Events, stringAt(event.Payload, "event")) {
		return false, nil
	}

	if len(cfg.Branches) > 0 && !slices.Contains(cfg.Branches, branchOf(event.Payload)) {
		return false, nil
	}

	return matchFilter(cfg.Filter, event.Payload)
}

func matchSlack(cfg models.SlackTriggerConfig, event models.TriggerEvent) (bool, error) {
	if cfg.ChannelID != "" && cfg.ChannelID != stringAt(event.Payload, "channel_id") {
		return false, nil
	}

	if len(cfg.EventTypes) > 0 && !slices.Contains(cfg.EventTypes, stringAt(event.Payload, "event_type")) {
		return false, nil
	}

	return matchFilter(cfg.Filter, event.Payload)
}

// matchFilter evaluates a JSONPath filter against the payload. The filter
// matches when it selects at least one value.
func matchFilter(filter string, payload map[string]any) (bool, error) {
	if filter == "" {
		return true, nil
	}

	expr, err := jp.ParseString(filter)
	if err != nil {
		return false, fmt.Errorf("invalid filter %q: %w", filter, err)
	}

	return len(expr.Get(payload)) > 0, nil
}

func branchOf(payload map[string]any) string {
	if branch := stringAt(payload, "branch"); branch != "" {
		return branch
	}

	return strings.TrimPrefix(stringAt(payload, "ref"), "refs/heads/")
}

func containsFold(value, substr string) bool {
	return substr == "" || strings.Contains(strings.ToLower(value), strings.ToLower(substr))
}
