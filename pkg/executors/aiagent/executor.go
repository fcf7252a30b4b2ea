package aiagent

import (
	"context"
	"fmt"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/template"
)

const defaultMaxIterations = 10

type Executor struct {
	runner protocol.AgentRunner
}

func NewExecutor(runner protocol.AgentRunner) *Executor {
	return &Executor{runner: runner}
}

func (e *Executor) SupportedSubtypes() []string {
	return []string{protocol.AnySubtype}
}

func (e *Executor) Validate(node *models.Node) []error {
	var cfg models.AgentConfig

	return executors.Decode(node, &cfg)
}

func (e *Executor) Execute(ctx context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	if e.runner == nil {
		return protocol.Failure(protocol.NotConfigured("agent runner", "start the server with an agent runner to execute AI_AGENT nodes"))
	}

	var cfg models.AgentConfig
	if err := executors.DecodeOrFail(execCtx.Node, &cfg); err != nil {
		return protocol.Failure(err)
	}

	prompt, err := template.RenderStringWithContext(cfg.Prompt, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("prompt", err))
	}

	steps := cfg.MaxIterations
	if steps == 0 {
		steps = defaultMaxIterations
	}

	output, err := e.runner.Run(ctx, protocol.AgentRequest{
		Subtype:      execCtx.Node.Subtype,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Prompt:       prompt,
		Input:        models.CloneMap(execCtx.Input),
		Attachments:  execCtx.Attachments,
		Tools:        execCtx.Tools,
		Memories:     execCtx.Memories,
		MaxSteps:     steps,
	})
	if err != nil {
		return protocol.Failure(protocol.FromError(err))
	}

	return protocol.Success(output, fmt.Sprintf("agent finished with %d tools and %d memories attached", len(execCtx.Tools), len(execCtx.Memories)))
}
