package external

import (
	"context"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

type Executor struct {
	client protocol.ActionClient
}

func NewExecutor(client protocol.ActionClient) *Executor {
	return &Executor{client: client}
}

func (e *Executor) SupportedSubtypes() []string {
	return []string{protocol.AnySubtype}
}

func (e *Executor) Validate(node *models.Node) []error {
	var cfg models.ExternalActionConfig

	return executors.Decode(node, &cfg)
}

func (e *Executor) Execute(ctx context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	if e.client == nil {
		return protocol.Failure(protocol.NotConfigured("action client for "+execCtx.Node.Subtype,
			"start the server with an action client that serves this integration"))
	}

	var cfg models.ExternalActionConfig
	if err := executors.DecodeOrFail(execCtx.Node, &cfg); err != nil {
		return protocol.Failure(err)
	}

	parameters, err := executors.RenderMap(cfg.Parameters, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("parameters", err))
	}

	output, err := e.client.Do(ctx, protocol.ActionRequest{
		Integration: execCtx.Node.Subtype,
		Operation:   cfg.Operation,
		Parameters:  parameters,
		Input:       models.CloneMap(execCtx.Input),
	})
	if err != nil {
		return protocol.Failure(protocol.FromError(err))
	}

	return protocol.Success(output, execCtx.Node.Subtype+"."+cfg.Operation+" completed")
}
