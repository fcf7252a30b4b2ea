package hil

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/template"
)

var (
	ErrOptionsRequired         = errors.New("selection requires at least one option")
	ErrDefaultResponseRequired = errors.New("timeout_action default_response requires default_response")
)

type Executor struct {
	DefaultTimeoutSeconds int
}

func (e *Executor) SupportedSubtypes() []string {
	return (&Factory{}).Subtypes()
}

func (e *Executor) Validate(node *models.Node) []error {
	if !slices.Contains(e.SupportedSubtypes(), node.Subtype) {
		return executors.Unsupported(node)
	}

	var cfg models.HILConfig

	errs := executors.Decode(node, &cfg)
	if len(errs) > 0 {
		return errs
	}

	if node.Subtype == SubtypeSelection && len(cfg.Options) == 0 {
		errs = append(errs, ErrOptionsRequired)
	}

	if cfg.TimeoutAction == models.TimeoutActionDefaultResponse && len(cfg.DefaultResponse) == 0 {
		errs = append(errs, ErrDefaultResponseRequired)
	}

	return errs
}

// Execute renders the request and asks the engine to pause.
func (e *Executor) Execute(_ context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	var cfg models.HILConfig
	if err := executors.DecodeOrFail(execCtx.Node, &cfg); err != nil {
		return protocol.Failure(err)
	}

	message, err := template.RenderStringWithContext(cfg.Message, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("message", err))
	}

	target, err := template.RenderStringWithContext(cfg.Target, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("target", err))
	}

	timeout := cfg.TimeoutSeconds
	if timeout == 0 {
		timeout = e.DefaultTimeoutSeconds
	}

	action := cfg.TimeoutAction
	if action == "" {
		action = models.TimeoutActionFail
	}

	spec := models.InteractionSpec{
		InteractionType: models.InteractionType(strings.ToLower(execCtx.Node.Subtype)),
		ChannelType:     cfg.Channel,
		Target:          target,
		Message:         message,
		Options:         cfg.Options,
		TimeoutSeconds:  timeout,
		TimeoutAction:   action,
		DefaultResponse: models.CloneMap(cfg.DefaultResponse),
		RequestData: map[string]any{
			"message": message,
			"options": cfg.Options,
			"input":   models.CloneMap(execCtx.Input),
		},
	}

	return protocol.Pause("awaiting "+string(spec.InteractionType), spec, "interaction requested on "+string(cfg.Channel))
}
