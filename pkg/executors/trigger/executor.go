package trigger

import (
	"context"
	"fmt"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/ohler55/ojg/jp"
)

type Executor struct{}

func (e *Executor) SupportedSubtypes() []string {
	return (&Factory{}).Subtypes()
}

// ConfigFor returns an empty configuration struct for the trigger subtype.
func ConfigFor(subtype models.TriggerSubtype) (any, bool) {
	switch subtype {
	case models.TriggerManual:
		return &models.ManualTriggerConfig{}, true
	case models.TriggerCron:
		return &models.CronTriggerConfig{}, true
	case models.TriggerWebhook:
		return &models.WebhookTriggerConfig{}, true
	case models.TriggerEmail:
		return &models.EmailTriggerConfig{}, true
	case models.TriggerGithub:
		return &models.GithubTriggerConfig{}, true
	case models.TriggerSlack:
		return &models.SlackTriggerConfig{}, true
	default:
		return nil, false
	}
}

func (e *Executor) Validate(node *models.Node) []error {
	cfg, ok := ConfigFor(models.TriggerSubtype(node.Subtype))
	if !ok {
		return executors.Unsupported(node)
	}

	errs := executors.Decode(node, cfg)
	if len(errs) > 0 {
		return errs
	}

	switch c := cfg.(type) {
	case *models.CronTriggerConfig:
		if _, err := models.ParseSchedule(c.CronExpression, c.Timezone); err != nil {
			errs = append(errs, err)
		}
	case *models.WebhookTriggerConfig:
		errs = append(errs, validateFilter(c.Filter)...)
	case *models.EmailTriggerConfig:
		errs = append(errs, validateFilter(c.Filter)...)
	case *models.GithubTriggerConfig:
		errs = append(errs, validateFilter(c.Filter)...)
	case *models.SlackTriggerConfig:
		errs = append(errs, validateFilter(c.Filter)...)
	}

	return errs
}

func validateFilter(filter string) []error {
	if filter == "" {
		return nil
	}

	if _, err := jp.ParseString(filter); err != nil {
		return []error{fmt.Errorf("invalid filter %q: %w", filter, err)}
	}

	return nil
}

// Execute emits the trigger payload as the node output.
func (e *Executor) Execute(_ context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	payload := execCtx.TriggerPayload
	if len(payload) == 0 {
		payload = execCtx.Input
	}

	return protocol.Success(models.CloneMap(payload), fmt.Sprintf("%s trigger fired", execCtx.Node.Subtype))
}
