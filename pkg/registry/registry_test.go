package registry_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukex/loom/pkg/executors/action"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg := registry.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, reg.RegisterDefaultExecutors(registry.Collaborators{HILTimeoutSeconds: 3600}))

	return reg
}

type countingFactory struct {
	action.Factory

	mu      sync.Mutex
	created int
}

func (f *countingFactory) Create(ctx context.Context, subtype string) (protocol.NodeExecutor, error) {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()

	return f.Factory.Create(ctx, subtype)
}

func TestRegistry_Executor(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	tests := []struct {
		name     string
		nodeType models.NodeType
		subtype  string
		wantErr  error
	}{
		{name: "trigger", nodeType: models.NodeTypeTrigger, subtype: "CRON"},
		{name: "flow", nodeType: models.NodeTypeFlow, subtype: "IF"},
		{name: "hil", nodeType: models.NodeTypeHumanInTheLoop, subtype: "APPROVAL"},
		{name: "wildcard external", nodeType: models.NodeTypeExternalAction, subtype: "CALENDAR"},
		{name: "wildcard agent", nodeType: models.NodeTypeAIAgent, subtype: "REACT"},
		{name: "memory", nodeType: models.NodeTypeMemory, subtype: "BUFFER"},
		{name: "unknown subtype", nodeType: models.NodeTypeFlow, subtype: "GOTO", wantErr: registry.ErrExecutorNotFound},
		{name: "unknown type", nodeType: "QUANTUM", subtype: "X", wantErr: registry.ErrExecutorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			executor, err := reg.Executor(context.Background(), tt.nodeType, tt.subtype)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, executor)
		})
	}
}

func TestRegistry_CachesInstances(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	factory := &countingFactory{}
	require.NoError(t, reg.Register(factory))

	var wg sync.WaitGroup

	executors := make([]protocol.NodeExecutor, 8)
	for i := range executors {
		wg.Add(1)

		go func() {
			defer wg.Done()

			executor, err := reg.Executor(context.Background(), models.NodeTypeAction, action.SubtypeLog)
			assert.NoError(t, err)

			executors[i] = executor
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, factory.created)

	for _, executor := range executors[1:] {
		assert.Same(t, executors[0], executor)
	}
}

func TestRegistry_RejectsDuplicateFactory(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	err := reg.Register(action.NewFactory())
	require.ErrorIs(t, err, registry.ErrFactoryRegistered)
}

func TestRegistry_SchemaAndDescribe(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	schema, err := reg.Schema(models.NodeTypeTrigger, "CRON")
	require.NoError(t, err)
	assert.Equal(t, []string{"cron_expression"}, schema["required"])

	described := reg.Describe()
	assert.Equal(t, []string{"FILTER", "IF", "LOOP", "MERGE", "SWITCH"}, described[models.NodeTypeFlow])
	assert.Contains(t, described[models.NodeTypeExternalAction], protocol.AnySubtype)
}
