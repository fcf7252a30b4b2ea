package flow

import (
	"context"
	"fmt"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/template"
)

const defaultItemsKey = "items"

type Executor struct{}

func (e *Executor) SupportedSubtypes() []string {
	return (&Factory{}).Subtypes()
}

func configFor(subtype string) (any, bool) {
	switch subtype {
	case SubtypeIf:
		return &models.IfConfig{}, true
	case SubtypeSwitch:
		return &models.SwitchConfig{}, true
	case SubtypeFilter:
		return &models.FilterConfig{}, true
	case SubtypeLoop:
		return &models.LoopConfig{}, true
	case SubtypeMerge:
		return &models.MergeConfig{}, true
	default:
		return nil, false
	}
}

func (e *Executor) Validate(node *models.Node) []error {
	cfg, ok := configFor(node.Subtype)
	if !ok {
		return executors.Unsupported(node)
	}

	errs := executors.Decode(node, cfg)
	if len(errs) > 0 {
		return errs
	}

	if c, ok := cfg.(*models.SwitchConfig); ok {
		for _, switchCase := range c.Cases {
			if switchCase.Output == OutputDefault {
				errs = append(errs, fmt.Errorf("switch case %q cannot use the reserved output %q", switchCase.Value, OutputDefault))
			}
		}
	}

	return errs
}

func (e *Executor) Execute(_ context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	cfg, ok := configFor(execCtx.Node.Subtype)
	if !ok {
		return protocol.Failure(protocol.NewExecutorError(protocol.CodeExecutorNotFound, "unsupported flow subtype "+execCtx.Node.Subtype))
	}

	if err := executors.DecodeOrFail(execCtx.Node, cfg); err != nil {
		return protocol.Failure(err)
	}

	switch c := cfg.(type) {
	case *models.IfConfig:
		return e.evaluateIf(c, execCtx)
	case *models.SwitchConfig:
		return e.evaluateSwitch(c, execCtx)
	case *models.FilterConfig:
		return e.filter(c, execCtx)
	case *models.LoopConfig:
		return e.loop(c, execCtx)
	default:
		return protocol.Route(models.CloneMap(execCtx.Input), models.DefaultOutputKey)
	}
}

func (e *Executor) evaluateIf(cfg *models.IfConfig, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	rendered, err := template.RenderWithContext(cfg.Condition, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("condition", err))
	}

	isTrue, err := models.Truthy(rendered)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("condition", err))
	}

	output := executors.Merge(execCtx.Input, map[string]any{"condition_result": isTrue})
	if isTrue {
		return protocol.Route(output, OutputTrue)
	}

	return protocol.Route(output, OutputFalse)
}

func (e *Executor) evaluateSwitch(cfg *models.SwitchConfig, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	value, err := template.RenderStringWithContext(cfg.Value, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("value", err))
	}

	output := executors.Merge(execCtx.Input, map[string]any{"switch_value": value})

	for _, switchCase := range cfg.Cases {
		if switchCase.Value == value {
			return protocol.Route(output, switchCase.Output)
		}
	}

	return protocol.Route(output, OutputDefault)
}

func (e *Executor) filter(cfg *models.FilterConfig, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	key := itemsKey(cfg.ItemsKey)

	items, failure := readItems(execCtx.Input, key)
	if failure != nil {
		return protocol.Failure(failure)
	}

	data := template.ContextData(execCtx)
	kept := make([]any, 0, len(items))

	for i, item := range items {
		data["item"] = item
		data["index"] = i

		rendered, err := template.Render(cfg.Condition, data)
		if err != nil {
			return protocol.Failure(executors.TemplateFailure(fmt.Sprintf("condition for item %d", i), err))
		}

		keep, err := models.Truthy(rendered)
		if err != nil {
			return protocol.Failure(executors.TemplateFailure(fmt.Sprintf("condition for item %d", i), err))
		}

		if keep {
			kept = append(kept, item)
		}
	}

	output := map[string]any{key: kept, "count": len(kept)}
	if len(kept) == 0 {
		return protocol.Route(output, OutputEmpty)
	}

	return protocol.Route(output, models.DefaultOutputKey)
}

func (e *Executor) loop(cfg *models.LoopConfig, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	key := itemsKey(cfg.ItemsKey)

	items, failure := readItems(execCtx.Input, key)
	if failure != nil {
		return protocol.Failure(failure)
	}

	if cfg.MaxIterations > 0 && len(items) > cfg.MaxIterations {
		items = items[:cfg.MaxIterations]
	}

	iterations := make([]any, 0, len(items))
	for i, item := range items {
		iterations = append(iterations, map[string]any{
			"item":  item,
			"index": i,
			"first": i == 0,
			"last":  i == len(items)-1,
		})
	}

	output := map[string]any{key: iterations, "count": len(iterations)}
	if len(iterations) == 0 {
		return protocol.Route(output, OutputEmpty)
	}

	return protocol.Route(output, models.DefaultOutputKey)
}

func itemsKey(key string) string {
	if key == "" {
		return defaultItemsKey
	}

	return key
}

func readItems(input map[string]any, key string) ([]any, *protocol.ExecutorError) {
	raw, ok := input[key]
	if !ok || raw == nil {
		return []any{}, nil
	}

	switch items := raw.(type) {
	case []any:
		return items, nil
	case []map[string]any:
		converted := make([]any, len(items))
		for i, item := range items {
			converted[i] = item
		}

		return converted, nil
	default:
		return nil, &protocol.ExecutorError{
			Code:    protocol.CodeValidationFailed,
			Message: fmt.Sprintf("input field %q is %T, expected a list", key, raw),
			Hint:    "point items_key at a list in the node input",
		}
	}
}
