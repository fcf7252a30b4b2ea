package registry

import (
	"github.com/dukex/loom/pkg/executors/action"
	"github.com/dukex/loom/pkg/executors/aiagent"
	"github.com/dukex/loom/pkg/executors/external"
	"github.com/dukex/loom/pkg/executors/flow"
	"github.com/dukex/loom/pkg/executors/hil"
	"github.com/dukex/loom/pkg/executors/memory"
	"github.com/dukex/loom/pkg/executors/tool"
	"github.com/dukex/loom/pkg/executors/trigger"
	"github.com/dukex/loom/pkg/protocol"
)

// Collaborators are the external services executors delegate to. Any of them may
// be nil; nodes that need a missing one fail with INTEGRATION_NOT_CONFIGURED.
type Collaborators struct {
	Agents  protocol.AgentRunner
	Actions protocol.ActionClient
	Tools   protocol.ToolInvoker
	Memory  protocol.MemoryStore

	// HILTimeoutSeconds is used by HUMAN_IN_THE_LOOP nodes that set no timeout.
	HILTimeoutSeconds int
}

// RegisterDefaultExecutors registers the built-in executor factories.
func (r *Registry) RegisterDefaultExecutors(collaborators Collaborators) error {
	factories := []protocol.ExecutorFactory{
		trigger.NewFactory(),
		flow.NewFactory(),
		hil.NewFactory(collaborators.HILTimeoutSeconds),
		action.NewFactory(),
		external.NewFactory(collaborators.Actions),
		aiagent.NewFactory(collaborators.Agents),
		tool.NewFactory(collaborators.Tools),
		memory.NewFactory(collaborators.Memory),
	}

	for _, factory := range factories {
		if err := r.Register(factory); err != nil {
			return err
		}
	}

	return nil
}
