package tool

import (
	"context"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

type Executor struct {
	invoker protocol.ToolInvoker
}

func NewExecutor(invoker protocol.ToolInvoker) *Executor {
	return &Executor{invoker: invoker}
}

func (e *Executor) SupportedSubtypes() []string {
	return []string{protocol.AnySubtype}
}

func (e *Executor) Validate(node *models.Node) []error {
	var cfg models.ToolConfig

	return executors.Decode(node, &cfg)
}

// Execute invokes the tool with its rendered parameters written over the node input.
func (e *Executor) Execute(ctx context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	var cfg models.ToolConfig
	if err := executors.DecodeOrFail(execCtx.Node, &cfg); err != nil {
		return protocol.Failure(err)
	}

	parameters, err := executors.RenderMap(cfg.Parameters, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("parameters", err))
	}

	output, err := e.handle(cfg).Invoke(ctx, executors.Merge(execCtx.Input, parameters))
	if err != nil {
		return protocol.Failure(protocol.FromError(err))
	}

	return protocol.Success(output, "tool "+cfg.Tool+" invoked")
}

// AttachTool exposes the node as a handle an agent can call.
func (e *Executor) AttachTool(node *models.Node) (protocol.ToolHandle, error) {
	var cfg models.ToolConfig
	if err := executors.DecodeOrFail(node, &cfg); err != nil {
		return nil, err
	}

	return e.handle(cfg), nil
}

func (e *Executor) handle(cfg models.ToolConfig) *Handle {
	return &Handle{invoker: e.invoker, name: cfg.Tool, description: cfg.Description, defaults: cfg.Parameters}
}

// Handle is a tool bound to its configured defaults.
type Handle struct {
	invoker     protocol.ToolInvoker
	name        string
	description string
	defaults    map[string]any
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Description() string {
	return h.description
}

// Invoke calls the tool. Arguments override configured defaults.
func (h *Handle) Invoke(ctx context.Context, arguments map[string]any) (map[string]any, error) {
	if h.invoker == nil {
		return nil, protocol.NotConfigured("tool invoker for "+h.name, "start the server with a tool invoker")
	}

	return h.invoker.Invoke(ctx, h.name, executors.Merge(h.defaults, arguments))
}
