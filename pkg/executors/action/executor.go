package action

import (
	"context"
	"log/slog"
	"slices"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/template"
)

type Executor struct{}

func (e *Executor) SupportedSubtypes() []string {
	return (&Factory{}).Subtypes()
}

func configFor(subtype string) (any, bool) {
	switch subtype {
	case SubtypeLog:
		return &models.LogConfig{}, true
	case SubtypeTransform:
		return &models.TransformConfig{}, true
	case SubtypeSet:
		return &models.SetConfig{}, true
	default:
		return nil, false
	}
}

func (e *Executor) Validate(node *models.Node) []error {
	if !slices.Contains(e.SupportedSubtypes(), node.Subtype) {
		return executors.Unsupported(node)
	}

	cfg, _ := configFor(node.Subtype)

	return executors.Decode(node, cfg)
}

func (e *Executor) Execute(ctx context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	cfg, ok := configFor(execCtx.Node.Subtype)
	if !ok {
		return protocol.Failure(protocol.NewExecutorError(protocol.CodeExecutorNotFound, "unsupported action subtype "+execCtx.Node.Subtype))
	}

	if err := executors.DecodeOrFail(execCtx.Node, cfg); err != nil {
		return protocol.Failure(err)
	}

	switch c := cfg.(type) {
	case *models.LogConfig:
		return e.log(ctx, c, execCtx)
	case *models.TransformConfig:
		return e.transform(c, execCtx)
	default:
		return e.set(cfg.(*models.SetConfig), execCtx)
	}
}

func (e *Executor) log(ctx context.Context, cfg *models.LogConfig, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	message, err := template.RenderStringWithContext(cfg.Message, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("message", err))
	}

	logger := execCtx.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	if cfg.Level != "" {
		_ = level.UnmarshalText([]byte(cfg.Level))
	}

	logger.Log(ctx, level, message, "node_id", execCtx.Node.ID, "action_type", "log")

	return protocol.Success(executors.Merge(execCtx.Input, map[string]any{"message": message}), message)
}

func (e *Executor) transform(cfg *models.TransformConfig, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	rendered, err := template.RenderWithContext(cfg.Expression, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("expression", err))
	}

	if output, ok := rendered.(map[string]any); ok {
		return protocol.Success(output)
	}

	return protocol.Success(map[string]any{models.DefaultOutputKey: rendered})
}

func (e *Executor) set(cfg *models.SetConfig, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	values, err := executors.RenderMap(cfg.Values, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("values", err))
	}

	return protocol.Success(executors.Merge(execCtx.Input, values))
}
