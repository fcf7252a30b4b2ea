package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/events"
	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/executors/aiagent"
	"github.com/dukex/loom/pkg/executors/flow"
	"github.com/dukex/loom/pkg/executors/hil"
	memexec "github.com/dukex/loom/pkg/executors/memory"
	"github.com/dukex/loom/pkg/executors/tool"
	"github.com/dukex/loom/pkg/executors/trigger"
	"github.com/dukex/loom/pkg/memorystore"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/persistence/memory"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/registry"
	"github.com/stretchr/testify/require"
)

const (
	testWorkflowID = "wf-test"
	subtypeStep    = "STEP"
)

type behavior func(ctx context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult

// scripted is an ACTION/STEP executor that records the order nodes start in.
// Without a behavior a node outputs its input plus {<node id>: "done"}.
type scripted struct {
	mu        sync.Mutex
	calls     []string
	behaviors map[string]behavior
}

func (s *scripted) NodeType() models.NodeType { return models.NodeTypeAction }
func (s *scripted) Subtypes() []string { return []string{subtypeStep} }
func (s *scripted) Name() string { return "Scripted" }
func (s *scripted) Description() string { return "test executor" }
func (s *scripted) Schema(string) map[string]any { return nil }
func (s *scripted) SupportedSubtypes() []string { return []string{subtypeStep} }
func (s *scripted) Validate(*models.Node) []error { return nil }

func (s *scripted) Create(context.Context, string) (protocol.NodeExecutor, error) {
	return s, nil
}

func (s *scripted) Execute(ctx context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	s.mu.Lock()
	s.calls = append(s.calls, execCtx.Node.ID)
	run, ok := s.behaviors[execCtx.Node.ID]
	s.mu.Unlock()

	if ok {
		return run(ctx, execCtx)
	}

	return protocol.Success(executors.Merge(execCtx.Input, map[string]any{execCtx.Node.ID: "done"}))
}

func (s *scripted) on(nodeID string, run behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.behaviors[nodeID] = run
}

func (s *scripted) callsOf() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string{}, s.calls...)
}

func (s *scripted) count(nodeID string) int {
	n := 0

	for _, id := range s.callsOf() {
		if id == nodeID {
			n++
		}
	}

	return n
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) Publish(_ context.Context, _ string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recorder) count(eventType events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, event := range r.events {
		if event.GetType() == eventType {
			n++
		}
	}

	return n
}

type fakeInteractions struct {
	mu        sync.Mutex
	started   map[string]models.InteractionSpec
	cancelled []string
}

func (f *fakeInteractions) StartInteraction(_ context.Context, execution *models.WorkflowExecution, nodeID string, spec models.InteractionSpec) (*models.HILInteraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started[nodeID] = spec

	return &models.HILInteraction{
		ID:          "interaction-" + nodeID,
		ExecutionID: execution.ID,
		NodeID:      nodeID,
		Status:      models.InteractionPending,
	}, nil
}

func (f *fakeInteractions) CancelForExecution(_ context.Context, executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, executionID)

	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []protocol.AgentRequest
}

func (f *fakeRunner) Run(_ context.Context, request protocol.AgentRequest) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, request)

	return map[string]any{"answer": "ok"}, nil
}

type harness struct {
	engine       *Engine
	store        *memory.Persistence
	steps        *scripted
	events       *recorder
	interactions *fakeInteractions
	runner       *fakeRunner
}

func testConfig() Config {
	return Config{
		MaxParallelNodes: 4,
		NodeTimeout:      time.Second,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
	}
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:        memory.NewPersistence(),
		steps:        &scripted{behaviors: make(map[string]behavior)},
		events:       &recorder{},
		interactions: &fakeInteractions{started: make(map[string]models.InteractionSpec)},
		runner:       &fakeRunner{},
	}

	reg := registry.NewRegistry(logger)
	for _, factory := range []protocol.ExecutorFactory{
		trigger.NewFactory(),
		flow.NewFactory(),
		hil.NewFactory(3600),
		aiagent.NewFactory(h.runner),
		tool.NewFactory(nil),
		memexec.NewFactory(memorystore.New()),
		h.steps,
	} {
		require.NoError(t, reg.Register(factory))
	}

	h.engine = New(logger, h.store, reg, config, WithPublisher(h.events), WithInteractions(h.interactions))

	return h
}

func (h *harness) deploy(t *testing.T, nodes []*models.Node, connections []*models.Connection) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		ID:          testWorkflowID,
		Name:        "test workflow",
		Nodes:       nodes,
		Connections: connections,
	}

	require.NoError(t, h.store.SaveWorkflow(context.Background(), workflow))

	return workflow
}

// run starts an execution and waits until it stops advancing.
func (h *harness) run(t *testing.T, payload map[string]any) *models.WorkflowExecution {
	t.Helper()

	started, err := h.engine.Start(context.Background(), StartRequest{WorkflowID: testWorkflowID, Payload: payload})
	require.NoError(t, err)

	h.engine.Wait()

	return h.status(t, started.ID)
}

func (h *harness) status(t *testing.T, executionID string) *models.WorkflowExecution {
	t.Helper()

	execution, err := h.engine.Status(context.Background(), executionID)
	require.NoError(t, err)

	return execution
}

func triggerNode(id string) *models.Node {
	return &models.Node{ID: id, Name: id, Type: models.NodeTypeTrigger, Subtype: string(models.TriggerManual)}
}

func stepNode(id string) *models.Node {
	return &models.Node{ID: id, Name: id, Type: models.NodeTypeAction, Subtype: subtypeStep}
}

func flowNode(id, subtype string, configuration map[string]any) *models.Node {
	return &models.Node{ID: id, Name: id, Type: models.NodeTypeFlow, Subtype: subtype, Configuration: configuration}
}

func hilNode(id string, configuration map[string]any) *models.Node {
	return &models.Node{ID: id, Name: id, Type: models.NodeTypeHumanInTheLoop, Subtype: hil.SubtypeApproval, Configuration: configuration}
}

func edge(from, to string, index int) *models.Connection {
	return &models.Connection{FromNode: from, ToNode: to, Type: models.ConnectionTypeMain, Index: index}
}

func branch(from, to, outputKey string) *models.Connection {
	return &models.Connection{FromNode: from, ToNode: to, Type: models.ConnectionTypeMain, OutputKey: outputKey}
}

func intPtr(v int) *int {
	return &v
}
