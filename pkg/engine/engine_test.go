package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/loom/pkg/events"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func output(data map[string]any) behavior {
	return func(context.Context, protocol.NodeExecutionContext) protocol.NodeExecutionResult {
		return protocol.Success(data)
	}
}

func failing(retryable bool) behavior {
	return func(context.Context, protocol.NodeExecutionContext) protocol.NodeExecutionResult {
		if retryable {
			return protocol.Failure(protocol.RetryableError(protocol.CodeExternalError, "upstream unavailable", nil))
		}

		return protocol.Failure(protocol.NewExecutorError(protocol.CodeExternalError, "bad request"))
	}
}

func blocking(ctx context.Context, _ protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	<-ctx.Done()

	return protocol.Failure(protocol.FromError(ctx.Err()))
}

func approval(id string) *models.Node {
	return hilNode(id, map[string]any{"channel": "slack", "target": "#ops", "message": "Approve {{.input.order}}?"})
}

func TestEngineLinearWorkflow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.deploy(t,
		[]*models.Node{triggerNode("t"), stepNode("a"), stepNode("b")},
		[]*models.Connection{edge("t", "a", 0), edge("a", "b", 0)},
	)

	execution := h.run(t, map[string]any{"order": 42})

	require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Nil(t, execution.Error)
	assert.NotNil(t, execution.FinishedAt)
	assert.Equal(t, []string{"a", "b"}, h.steps.callsOf())
	assert.Equal(t, map[string]any{"order": 42, "a": "done", "b": "done"}, execution.NodeExecutions["b"].OutputData)
	assert.Equal(t, map[string]any{"order": 42, "a": "done"}, execution.NodeExecutions["b"].InputData)

	assert.Equal(t, 1, h.events.count(events.ExecutionStartedEvent))
	assert.Equal(t, 3, h.events.count(events.NodeCompletedEvent))
	assert.Equal(t, 1, h.events.count(events.ExecutionCompletedEvent))
}

func TestEngineDiamondKeyConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.steps.on("a", output(map[string]any{"k": "from a", "only_a": true}))
	h.steps.on("b", output(map[string]any{"k": "from b", "only_b": true}))
	h.deploy(t,
		[]*models.Node{triggerNode("t"), stepNode("a"), stepNode("b"), stepNode("c")},
		[]*models.Connection{
			edge("t", "a", 0),
			edge("t", "b", 0),
			edge("a", "c", 1),
			edge("b", "c", 0),
		},
	)

	execution := h.run(t, nil)

	require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, 1, h.steps.count("c"))

	input := execution.NodeExecutions["c"].InputData
	assert.Equal(t, "from b", input["k"])
	assert.Equal(t, true, input["only_a"])
	assert.Equal(t, true, input["only_b"])
}

func TestEngineConditionalBranches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  string
		ran     string
		skipped string
	}{
		{name: "true branch", status: "active", ran: "yes", skipped: "no"},
		{name: "false branch", status: "idle", ran: "no", skipped: "yes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, testConfig())
			h.deploy(t,
				[]*models.Node{
					triggerNode("t"),
					flowNode("if", "IF", map[string]any{"condition": `{{eq .input.status "active"}}`}),
					stepNode("yes"),
					stepNode("no"),
					flowNode("merge", models.FlowSubtypeMerge, nil),
					stepNode("end"),
				},
				[]*models.Connection{
					edge("t", "if", 0),
					branch("if", "yes", "true"),
					branch("if", "no", "false"),
					edge("yes", "merge", 0),
					edge("no", "merge", 1),
					edge("merge", "end", 0),
				},
			)

			execution := h.run(t, map[string]any{"status": tt.status})

			require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
			assert.Equal(t, 1, h.steps.count(tt.ran))
			assert.Zero(t, h.steps.count(tt.skipped))
			assert.Equal(t, models.NodeExecutionPending, execution.NodeStatus(tt.skipped))
			assert.Equal(t, models.NodeExecutionCompleted, execution.NodeStatus("merge"))
			assert.Equal(t, 1, h.steps.count("end"))
			assert.Equal(t, "done", execution.NodeExecutions["end"].InputData[tt.ran])
		})
	}
}

func TestEngineJoinWaitsForEveryBranch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.deploy(t,
		[]*models.Node{
			triggerNode("t"),
			flowNode("if", "IF", map[string]any{"condition": "true"}),
			stepNode("yes"),
			stepNode("no"),
			stepNode("join"),
		},
		[]*models.Connection{
			edge("t", "if", 0),
			branch("if", "yes", "true"),
			branch("if", "no", "false"),
			edge("yes", "join", 0),
			edge("no", "join", 1),
		},
	)

	execution := h.run(t, nil)

	require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, models.NodeExecutionPending, execution.NodeStatus("join"))
	assert.Zero(t, h.steps.count("join"))
}

func TestEngineRetries(t *testing.T) {
	t.Parallel()

	t.Run("succeeds on a later attempt", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, testConfig())
		h.steps.on("a", func(_ context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
			if execCtx.Attempt < 3 {
				return failing(true)(context.Background(), execCtx)
			}

			return protocol.Success(map[string]any{"attempt": execCtx.Attempt})
		})

		a := stepNode("a")
		a.MaxRetries = intPtr(3)
		h.deploy(t, []*models.Node{triggerNode("t"), a}, []*models.Connection{edge("t", "a", 0)})

		execution := h.run(t, nil)

		require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
		assert.Equal(t, 3, h.steps.count("a"))

		record := execution.NodeExecutions["a"]
		assert.Equal(t, 2, record.RetryCount)
		assert.Equal(t, 3, record.OutputData["attempt"])
		assert.Empty(t, record.ErrorCode)
		assert.Equal(t, 2, h.events.count(events.NodeRetryingEvent))
	})

	t.Run("exhausted retries halt the execution", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, testConfig())
		h.steps.on("a", failing(true))

		a := stepNode("a")
		a.MaxRetries = intPtr(1)
		h.deploy(t, []*models.Node{triggerNode("t"), a, stepNode("b")}, []*models.Connection{edge("t", "a", 0), edge("a", "b", 0)})

		execution := h.run(t, nil)

		require.Equal(t, models.ExecutionStatusError, execution.Status)
		require.NotNil(t, execution.Error)
		assert.Equal(t, "a", execution.Error.NodeID)
		assert.Equal(t, protocol.CodeExternalError, execution.Error.Code)
		assert.Equal(t, 2, h.steps.count("a"))
		assert.Zero(t, h.steps.count("b"))
		assert.Equal(t, 1, execution.NodeExecutions["a"].RetryCount)
		assert.Equal(t, 1, h.events.count(events.ExecutionFailedEvent))
	})

	t.Run("non retryable errors are not retried", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, testConfig())
		h.steps.on("a", failing(false))

		a := stepNode("a")
		a.MaxRetries = intPtr(5)
		h.deploy(t, []*models.Node{triggerNode("t"), a}, []*models.Connection{edge("t", "a", 0)})

		execution := h.run(t, nil)

		require.Equal(t, models.ExecutionStatusError, execution.Status)
		assert.Equal(t, 1, h.steps.count("a"))
		assert.Zero(t, execution.NodeExecutions["a"].RetryCount)
	})
}

func TestEngineRetryBackoff(t *testing.T) {
	t.Parallel()

	config := testConfig()
	config.RetryBaseDelay = time.Second
	config.RetryMaxDelay = 5 * time.Second

	h := newHarness(t, config)

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first retry waits the base delay", attempt: 1, want: time.Second},
		{name: "second retry doubles", attempt: 2, want: 2 * time.Second},
		{name: "third retry doubles again", attempt: 3, want: 4 * time.Second},
		{name: "capped at the maximum", attempt: 4, want: 5 * time.Second},
		{name: "stays at the maximum", attempt: 9, want: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, h.engine.backoff(tt.attempt))
		})
	}
}

func TestEngineContinuePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		nodes       []*models.Node
		connections []*models.Connection
		wantStatus  models.ExecutionStatus
		wantRun     []string
		wantSkipped []string
	}{
		{
			name:       "failed leaf",
			wantStatus: models.ExecutionStatusSuccess,
		},
		{
			name:        "failed node with a successor",
			nodes:       []*models.Node{stepNode("c")},
			connections: []*models.Connection{edge("a", "c", 0)},
			wantStatus:  models.ExecutionStatusError,
			wantSkipped: []string{"c"},
		},
		{
			name:        "failure absorbed by a merge",
			nodes:       []*models.Node{flowNode("m", models.FlowSubtypeMerge, nil), stepNode("c")},
			connections: []*models.Connection{edge("a", "m", 0), edge("b", "m", 1), edge("m", "c", 0)},
			wantStatus:  models.ExecutionStatusSuccess,
			wantRun:     []string{"c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, testConfig())
			h.steps.on("a", failing(false))

			a := stepNode("a")
			a.OnError = models.FailurePolicyContinue

			nodes := append([]*models.Node{triggerNode("t"), a, stepNode("b")}, tt.nodes...)
			connections := append([]*models.Connection{edge("t", "a", 0), edge("t", "b", 1)}, tt.connections...)

			h.deploy(t, nodes, connections)

			execution := h.run(t, nil)

			require.Equal(t, tt.wantStatus, execution.Status)
			assert.Equal(t, models.NodeExecutionFailed, execution.NodeStatus("a"))
			assert.Equal(t, models.NodeExecutionCompleted, execution.NodeStatus("b"))

			for _, id := range tt.wantRun {
				assert.Equal(t, 1, h.steps.count(id), id)
				assert.Equal(t, models.NodeExecutionCompleted, execution.NodeStatus(id), id)
			}

			for _, id := range tt.wantSkipped {
				assert.Zero(t, h.steps.count(id), id)
			}

			if tt.wantStatus == models.ExecutionStatusError {
				require.NotNil(t, execution.Error)
				assert.Equal(t, "a", execution.Error.NodeID)
			} else {
				assert.Nil(t, execution.Error)
			}
		})
	}
}

func TestEngineNodeTimeout(t *testing.T) {
	t.Parallel()

	config := testConfig()
	config.NodeTimeout = 20 * time.Millisecond

	h := newHarness(t, config)
	h.steps.on("slow", blocking)
	h.deploy(t, []*models.Node{triggerNode("t"), stepNode("slow")}, []*models.Connection{edge("t", "slow", 0)})

	execution := h.run(t, nil)

	require.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Equal(t, protocol.CodeNodeTimeout, execution.NodeExecutions["slow"].ErrorCode)
	assert.Equal(t, protocol.CodeNodeTimeout, execution.Error.Code)
}

func TestEngineExecutorPanic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.steps.on("a", func(context.Context, protocol.NodeExecutionContext) protocol.NodeExecutionResult {
		panic("boom")
	})
	h.deploy(t, []*models.Node{triggerNode("t"), stepNode("a")}, []*models.Connection{edge("t", "a", 0)})

	execution := h.run(t, nil)

	require.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Equal(t, protocol.CodeInternal, execution.NodeExecutions["a"].ErrorCode)
	assert.Contains(t, execution.NodeExecutions["a"].ErrorMessage, "boom")
}

func TestEnginePauseAndResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.deploy(t,
		[]*models.Node{triggerNode("t"), approval("approve"), stepNode("after"), stepNode("side"), stepNode("later")},
		[]*models.Connection{edge("t", "approve", 0), edge("approve", "after", 0), edge("t", "side", 1), edge("side", "later", 0)},
	)

	execution := h.run(t, map[string]any{"order": 7})

	require.Equal(t, models.ExecutionStatusWaitingForHuman, execution.Status)
	assert.Equal(t, models.NodeExecutionWaitingInput, execution.NodeStatus("approve"))
	assert.Equal(t, models.NodeExecutionCompleted, execution.NodeStatus("side"), "ran in the same step as the pause")
	assert.Equal(t, models.NodeExecutionPending, execution.NodeStatus("later"), "nothing new is scheduled while paused")
	assert.Zero(t, h.steps.count("later"))
	assert.Zero(t, h.steps.count("after"))
	assert.Equal(t, []string{"approve"}, execution.Frontier)

	spec := h.interactions.started["approve"]
	assert.Equal(t, models.ChannelSlack, spec.ChannelType)
	assert.Equal(t, "Approve 7?", spec.Message)

	pauses, err := h.store.PausesByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, pauses, 1)
	assert.Equal(t, models.PauseActive, pauses[0].Status)
	assert.Equal(t, "interaction-approve", pauses[0].ResumeConditions["interaction_id"])

	var (
		wg      sync.WaitGroup
		results = make([]error, 2)
	)

	for i := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i] = h.engine.ResumeNode(context.Background(), execution.ID, "approve", map[string]any{"approved": true, "by": fmt.Sprint("user-", i)})
		}()
	}

	wg.Wait()
	h.engine.Wait()

	succeeded := 0

	for _, err := range results {
		if err == nil {
			succeeded++

			continue
		}

		assert.True(t, errors.Is(err, ErrNotPaused) || errors.Is(err, persistence.ErrExecutionTerminal), "unexpected error: %v", err)
	}

	assert.Equal(t, 1, succeeded)

	execution = h.status(t, execution.ID)
	require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, 1, h.steps.count("after"))
	assert.Equal(t, 1, h.steps.count("later"))
	assert.Equal(t, true, execution.NodeExecutions["after"].InputData["approved"])
	assert.Equal(t, 1, h.events.count(events.ExecutionResumedEvent))

	err = h.engine.ResumeNode(context.Background(), execution.ID, "approve", nil)
	require.ErrorIs(t, err, persistence.ErrExecutionTerminal)
}

func TestEngineResumeByExecution(t *testing.T) {
	t.Parallel()

	t.Run("single pause", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, testConfig())
		h.deploy(t,
			[]*models.Node{triggerNode("t"), approval("approve"), stepNode("after")},
			[]*models.Connection{edge("t", "approve", 0), edge("approve", "after", 0)},
		)

		execution := h.run(t, nil)
		require.Equal(t, models.ExecutionStatusWaitingForHuman, execution.Status)

		require.NoError(t, h.engine.Resume(context.Background(), execution.ID, map[string]any{"answer": "yes"}))
		h.engine.Wait()

		execution = h.status(t, execution.ID)
		require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
		assert.Equal(t, "yes", execution.NodeExecutions["approve"].OutputData["answer"])

		err := h.engine.Resume(context.Background(), execution.ID, nil)
		require.ErrorIs(t, err, ErrNotPaused)
	})

	t.Run("two pauses are ambiguous", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, testConfig())
		h.deploy(t,
			[]*models.Node{triggerNode("t"), approval("first"), approval("second")},
			[]*models.Connection{edge("t", "first", 0), edge("t", "second", 1)},
		)

		execution := h.run(t, nil)
		require.Equal(t, models.ExecutionStatusWaitingForHuman, execution.Status)
		assert.Equal(t, []string{"first", "second"}, execution.Frontier)

		err := h.engine.Resume(context.Background(), execution.ID, nil)
		require.ErrorIs(t, err, ErrAmbiguousResume)

		require.NoError(t, h.engine.ResumeNode(context.Background(), execution.ID, "second", nil))
		h.engine.Wait()

		execution = h.status(t, execution.ID)
		assert.Equal(t, models.ExecutionStatusWaitingForHuman, execution.Status)
		assert.Equal(t, []string{"first"}, execution.Frontier)
	})
}

func TestEngineFailPausedNode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.deploy(t,
		[]*models.Node{triggerNode("t"), approval("approve"), stepNode("after")},
		[]*models.Connection{edge("t", "approve", 0), edge("approve", "after", 0)},
	)

	execution := h.run(t, nil)
	require.Equal(t, models.ExecutionStatusWaitingForHuman, execution.Status)

	err := h.engine.Fail(context.Background(), execution.ID, "approve", protocol.CodeHILTimeout, "nobody answered")
	require.NoError(t, err)
	h.engine.Wait()

	execution = h.status(t, execution.ID)
	require.Equal(t, models.ExecutionStatusError, execution.Status)
	assert.Equal(t, protocol.CodeHILTimeout, execution.Error.Code)
	assert.Equal(t, models.NodeExecutionFailed, execution.NodeStatus("approve"))
	assert.Zero(t, h.steps.count("after"))

	err = h.engine.ResumeNode(context.Background(), execution.ID, "approve", nil)
	require.ErrorIs(t, err, persistence.ErrExecutionTerminal)
}

func TestEngineCancel(t *testing.T) {
	t.Parallel()

	t.Run("running node", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, testConfig())
		h.steps.on("block", blocking)

		block := stepNode("block")
		block.TimeoutSeconds = 60
		h.deploy(t, []*models.Node{triggerNode("t"), block}, []*models.Connection{edge("t", "block", 0)})

		started, err := h.engine.Start(context.Background(), StartRequest{WorkflowID: testWorkflowID})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return h.steps.count("block") == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, h.engine.Cancel(context.Background(), started.ID, "operator request"))
		h.engine.Wait()

		execution := h.status(t, started.ID)
		require.Equal(t, models.ExecutionStatusCanceled, execution.Status)
		assert.Equal(t, models.NodeExecutionCancelled, execution.NodeStatus("block"))
		assert.Equal(t, 1, h.events.count(events.ExecutionCancelledEvent))

		err = h.engine.Cancel(context.Background(), started.ID, "again")
		require.ErrorIs(t, err, persistence.ErrExecutionTerminal)
	})

	t.Run("waiting for a human", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, testConfig())
		h.deploy(t, []*models.Node{triggerNode("t"), approval("approve")}, []*models.Connection{edge("t", "approve", 0)})

		execution := h.run(t, nil)
		require.Equal(t, models.ExecutionStatusWaitingForHuman, execution.Status)

		require.NoError(t, h.engine.Cancel(context.Background(), execution.ID, "no longer needed"))

		execution = h.status(t, execution.ID)
		assert.Equal(t, models.ExecutionStatusCanceled, execution.Status)
		assert.Equal(t, models.NodeExecutionCancelled, execution.NodeStatus("approve"))
		assert.Equal(t, []string{execution.ID}, h.interactions.cancelled)

		pauses, err := h.store.PausesByExecution(context.Background(), execution.ID)
		require.NoError(t, err)
		require.Len(t, pauses, 1)
		assert.Equal(t, models.PauseCancelled, pauses[0].Status)

		err = h.engine.ResumeNode(context.Background(), execution.ID, "approve", nil)
		require.ErrorIs(t, err, persistence.ErrExecutionTerminal)
	})
}

func TestEngineExecutionTimeout(t *testing.T) {
	t.Parallel()

	config := testConfig()
	config.ExecutionTimeout = 30 * time.Millisecond

	h := newHarness(t, config)
	h.steps.on("a", failing(true))

	a := stepNode("a")
	a.MaxRetries = intPtr(1000)
	h.deploy(t, []*models.Node{triggerNode("t"), a}, []*models.Connection{edge("t", "a", 0)})

	execution := h.run(t, nil)

	require.Equal(t, models.ExecutionStatusTimeout, execution.Status)
	assert.Equal(t, "EXECUTION_TIMEOUT", execution.Error.Code)
}

func TestEngineRecover(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.deploy(t,
		[]*models.Node{triggerNode("t"), stepNode("a"), stepNode("b")},
		[]*models.Connection{edge("t", "a", 0), edge("a", "b", 0)},
	)

	now := time.Now()
	interrupted := &models.WorkflowExecution{
		ID:            "exec-crashed",
		WorkflowID:    testWorkflowID,
		Status:        models.ExecutionStatusRunning,
		TriggerNodeID: "t",
		NodeExecutions: map[string]*models.NodeExecution{
			"t": {NodeID: "t", Status: models.NodeExecutionCompleted, OutputData: map[string]any{"x": 1}},
			"a": {NodeID: "a", Status: models.NodeExecutionRunning, StartedAt: &now},
		},
		CreatedAt: now,
		StartedAt: &now,
	}
	require.NoError(t, h.store.SaveExecution(context.Background(), interrupted))

	recovered, err := h.engine.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	h.engine.Wait()

	execution := h.status(t, interrupted.ID)
	require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"a", "b"}, h.steps.callsOf())
	assert.Equal(t, 1, execution.NodeExecutions["b"].InputData["x"])
}

func TestEngineStartRejections(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.deploy(t, []*models.Node{triggerNode("t"), stepNode("a")}, []*models.Connection{edge("t", "a", 0)})

	_, err := h.engine.Start(context.Background(), StartRequest{WorkflowID: testWorkflowID, TriggerNodeID: "a"})
	require.ErrorIs(t, err, ErrInvalidTrigger)

	_, err = h.engine.Start(context.Background(), StartRequest{WorkflowID: "missing"})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	h.deploy(t, []*models.Node{stepNode("a")}, nil)

	_, err = h.engine.StartExecution(context.Background(), testWorkflowID, "", nil)
	require.ErrorIs(t, err, ErrNoTrigger)
	assert.True(t, IsValidationError(err))
}

func TestEngineAttachedToolsAndMemory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	h.deploy(t,
		[]*models.Node{
			triggerNode("t"),
			{
				ID:            "agent",
				Name:          "agent",
				Type:          models.NodeTypeAIAgent,
				Subtype:       "CONVERSATIONAL",
				Configuration: map[string]any{"model": "small", "prompt": "Answer {{.input.question}}"},
				AttachedNodes: []string{"search"},
			},
			{ID: "search", Name: "search", Type: models.NodeTypeTool, Subtype: "WEB", Configuration: map[string]any{"tool": "web_search"}},
			{ID: "history", Name: "history", Type: models.NodeTypeMemory, Subtype: "BUFFER", Configuration: map[string]any{"namespace": "chat"}},
		},
		[]*models.Connection{
			edge("t", "agent", 0),
			{FromNode: "history", ToNode: "agent", Type: models.ConnectionTypeAIMemory},
		},
	)

	execution := h.run(t, map[string]any{"question": "why?"})

	require.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, "ok", execution.NodeExecutions["agent"].OutputData["answer"])
	assert.NotContains(t, execution.NodeExecutions, "search")
	assert.NotContains(t, execution.NodeExecutions, "history")

	require.Len(t, h.runner.requests, 1)

	request := h.runner.requests[0]
	assert.Equal(t, "Answer why?", request.Prompt)
	require.Len(t, request.Tools, 1)
	assert.Equal(t, "web_search", request.Tools[0].Name())
	require.Len(t, request.Memories, 1)
	assert.Equal(t, "chat", request.Memories[0].Namespace())
	assert.Len(t, request.Attachments[models.ConnectionTypeAIMemory], 1)
}

func TestEngineRunsEachNodeOnceInDependencyOrder(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(1, 8).Draw(rt, "size")

		nodes := []*models.Node{triggerNode("n0")}
		connections := make([]*models.Connection, 0)

		for i := 1; i <= size; i++ {
			id := fmt.Sprintf("n%d", i)
			nodes = append(nodes, stepNode(id))

			parent := rapid.IntRange(0, i-1).Draw(rt, "parent_"+id)
			connections = append(connections, edge(fmt.Sprintf("n%d", parent), id, 0))

			for j := 0; j < i; j++ {
				if j != parent && rapid.Bool().Draw(rt, fmt.Sprintf("edge_n%d_%s", j, id)) {
					connections = append(connections, edge(fmt.Sprintf("n%d", j), id, j+1))
				}
			}
		}

		config := testConfig()
		config.MaxParallelNodes = rapid.IntRange(1, 4).Draw(rt, "parallelism")

		h := newHarness(t, config)
		h.deploy(t, nodes, connections)

		execution := h.run(t, nil)
		if execution.Status != models.ExecutionStatusSuccess {
			rt.Fatalf("execution finished with %s", execution.Status)
		}

		calls := h.steps.callsOf()
		if len(calls) != size {
			rt.Fatalf("expected %d node runs, got %v", size, calls)
		}

		position := make(map[string]int, len(calls))
		for i, id := range calls {
			if _, seen := position[id]; seen {
				rt.Fatalf("node %s ran twice", id)
			}

			position[id] = i
		}

		for _, conn := range connections {
			if conn.FromNode == "n0" {
				continue
			}

			if position[conn.FromNode] >= position[conn.ToNode] {
				rt.Fatalf("%s ran before its predecessor %s", conn.ToNode, conn.FromNode)
			}
		}
	})
}
