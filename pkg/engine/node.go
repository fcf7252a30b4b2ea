package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/loom/pkg/events"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/otelhelper"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/router"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// runState is one pass of the run loop over an execution. It is owned by the
// goroutine holding the execution lock; node executors never touch it.
type runState struct {
	engine    *Engine
	workflow  *models.Workflow
	plan      *Plan
	execution *models.WorkflowExecution
	reachable map[string]bool
	logger    *slog.Logger
}

type task struct {
	node    *models.Node
	record  *models.NodeExecution
	execCtx protocol.NodeExecutionContext
	started time.Time
	result  *protocol.NodeExecutionResult
}

// reach is how far a scheduled node got in the current pass over the plan.
type reach int

const (
	// open nodes are running, waiting or may still become runnable.
	open reach = iota
	// ready nodes are pending with every input they need delivered.
	ready
	done
	// dead nodes failed, were cancelled, or can never receive their inputs.
	dead
)

// frontier returns the nodes ready to run now and, when none is ready, the
// earliest time a retrying node becomes due.
func (r *runState) frontier() ([]string, *time.Time) {
	now := r.engine.now()
	states := r.resolve()
	runnable := make([]string, 0)

	var wake *time.Time

	for _, id := range r.plan.Order {
		if !r.reachable[id] {
			continue
		}

		switch r.execution.NodeStatus(id) {
		case models.NodeExecutionRetrying:
			next := r.execution.NodeExecutions[id].NextAttemptAt
			if next == nil || !next.After(now) {
				runnable = append(runnable, id)
			} else if wake == nil || next.Before(*wake) {
				at := *next
				wake = &at
			}
		case models.NodeExecutionPending:
			if states[id] == ready {
				runnable = append(runnable, id)
			}
		}
	}

	if len(runnable) > 0 {
		return runnable, nil
	}

	return runnable, wake
}

// resolve walks the plan in topological order and classifies every reachable
// node. A pending node is ready when each MAIN predecessor completed and enabled
// its edge; a MERGE node needs one such edge once the others are settled. A
// pending node that can no longer meet that condition is dead.
func (r *runState) resolve() map[string]reach {
	states := make(map[string]reach, len(r.reachable))

	for _, id := range r.plan.Order {
		if !r.reachable[id] {
			continue
		}

		switch r.execution.NodeStatus(id) {
		case models.NodeExecutionCompleted:
			states[id] = done
		case models.NodeExecutionFailed, models.NodeExecutionCancelled:
			states[id] = dead
		case models.NodeExecutionPending:
			states[id] = r.pending(id, states)
		default:
			states[id] = open
		}
	}

	return states
}

func (r *runState) pending(id string, states map[string]reach) reach {
	if id == r.execution.TriggerNodeID {
		return ready
	}

	incoming := r.incoming(id)
	if len(incoming) == 0 {
		return dead
	}

	delivered, blocked, unsettled := 0, 0, 0

	for _, conn := range incoming {
		switch states[conn.FromNode] {
		case done:
			if r.active(conn) {
				delivered++
			} else {
				blocked++
			}
		case dead:
			blocked++
		default:
			unsettled++
		}
	}

	node, _ := r.workflow.NodeByID(id)
	if node.Type == models.NodeTypeFlow && node.Subtype == models.FlowSubtypeMerge {
		switch {
		case unsettled > 0:
			return open
		case delivered > 0:
			return ready
		default:
			return dead
		}
	}

	switch {
	case blocked > 0:
		return dead
	case unsettled > 0:
		return open
	default:
		return ready
	}
}

// incoming returns the MAIN edges into id whose source is part of this execution.
func (r *runState) incoming(id string) []*models.Connection {
	incoming := make([]*models.Connection, 0)

	for _, conn := range r.plan.Predecessors[id] {
		if r.reachable[conn.FromNode] {
			incoming = append(incoming, conn)
		}
	}

	return incoming
}

// active reports whether a completed source enabled the edge. FLOW nodes enable
// only the output keys they designate.
func (r *runState) active(conn *models.Connection) bool {
	source, ok := r.workflow.NodeByID(conn.FromNode)
	if !ok || source.Type != models.NodeTypeFlow {
		return true
	}

	ne := r.execution.NodeExecutions[conn.FromNode]
	if ne == nil || ne.ActiveOutputs == nil {
		return true
	}

	return slices.Contains(ne.ActiveOutputs, conn.Key())
}

// blockingFailure returns the first failed node that left a successor unrun. A
// successor that still completed, like a MERGE fed by another branch, is not
// blocked.
func (r *runState) blockingFailure() *models.ExecutionError {
	for _, id := range r.plan.Order {
		if r.execution.NodeStatus(id) != models.NodeExecutionFailed {
			continue
		}

		for _, next := range r.plan.Successors[id] {
			if r.reachable[next] && r.execution.NodeStatus(next) != models.NodeExecutionCompleted {
				ne := r.execution.NodeExecutions[id]

				return &models.ExecutionError{NodeID: id, Code: ne.ErrorCode, Message: ne.ErrorMessage}
			}
		}
	}

	return nil
}

// step runs one batch of ready nodes. Inputs are routed before any executor
// starts and outcomes are applied in frontier order, so the batch result does not
// depend on which executor finished first.
func (r *runState) step(ctx context.Context, ready []string) (*models.ExecutionError, error) {
	tasks := make([]*task, 0, len(ready))
	for _, id := range ready {
		tasks = append(tasks, r.prepare(ctx, id))
	}

	err := r.engine.save(ctx, r.execution)
	if err != nil {
		return nil, err
	}

	var group errgroup.Group

	group.SetLimit(r.engine.config.MaxParallelNodes)

	for _, t := range tasks {
		if t.result != nil {
			continue
		}

		group.Go(func() error {
			result := r.engine.invoke(ctx, t)
			t.result = &result

			return nil
		})
	}

	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var halt *models.ExecutionError

	for _, t := range tasks {
		if h := r.apply(ctx, t); h != nil && halt == nil {
			halt = h
		}
	}

	return halt, nil
}

// prepare marks a node running and builds its execution context. Routing and
// attachment failures are recorded as the task result so the executor never runs.
func (r *runState) prepare(ctx context.Context, id string) *task {
	node, _ := r.workflow.NodeByID(id)
	now := r.engine.now()

	ne := r.execution.NodeExecution(id)
	if ne.Status == models.NodeExecutionPending {
		ne.MaxRetries = r.workflow.MaxRetriesFor(node)
	}

	ne.Status = models.NodeExecutionRunning
	ne.StartedAt = &now
	ne.NextAttemptAt = nil

	t := &task{node: node, record: ne, started: now}

	input, err := r.route(id)
	if err != nil {
		t.fail(protocol.NewExecutorError(protocol.CodeConversionFailed, err.Error()))

		return t
	}

	ne.InputData = models.CloneMap(input.Main)

	tools, memories, execErr := r.attach(ctx, node)
	if execErr != nil {
		t.fail(execErr)

		return t
	}

	t.execCtx = protocol.NodeExecutionContext{
		WorkflowID:     r.workflow.ID,
		ExecutionID:    r.execution.ID,
		Node:           node,
		Input:          input.Main,
		Attachments:    input.Attachments,
		Tools:          tools,
		Memories:       memories,
		Variables:      models.CloneMap(r.workflow.Settings.Variables),
		TriggerPayload: models.CloneMap(r.execution.TriggerPayload),
		Attempt:        ne.RetryCount + 1,
		Logger:         r.logger.With("node_id", id),
	}

	r.engine.publish(ctx, r.execution.ID, events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, r.workflow.ID, r.execution.ID),
		NodeID:    id,
		NodeType:  node.Type,
		Subtype:   node.Subtype,
		Attempt:   ne.RetryCount + 1,
	})

	return t
}

func (t *task) fail(err *protocol.ExecutorError) {
	result := protocol.Failure(err)
	t.result = &result
}

// route builds the input of a node from the delivering MAIN edges and every AI_*
// edge into it. The invoking trigger receives the trigger payload.
func (r *runState) route(id string) (*router.Input, error) {
	if id == r.execution.TriggerNodeID {
		return &router.Input{
			Main:        models.CloneMap(r.execution.TriggerPayload),
			Attachments: map[models.ConnectionType][]protocol.Attachment{},
		}, nil
	}

	edges := make([]*models.Connection, 0)

	for _, conn := range r.incoming(id) {
		if r.execution.NodeStatus(conn.FromNode) == models.NodeExecutionCompleted && r.active(conn) {
			edges = append(edges, conn)
		}
	}

	for _, conn := range r.workflow.Connections {
		if conn.ToNode == id && conn.EdgeType() != models.ConnectionTypeMain {
			edges = append(edges, conn)
		}
	}

	outputs := make(map[string]map[string]any)

	for nodeID, ne := range r.execution.NodeExecutions {
		if ne.Status == models.NodeExecutionCompleted {
			outputs[nodeID] = ne.OutputData
		}
	}

	return r.engine.router.Route(edges, outputs)
}

// attach resolves the TOOL and MEMORY nodes bound to node through attached_nodes
// or AI_TOOL/AI_MEMORY edges into callable handles.
func (r *runState) attach(ctx context.Context, node *models.Node) ([]protocol.ToolHandle, []protocol.MemoryHandle, *protocol.ExecutorError) {
	ids := slices.Clone(node.AttachedNodes)

	edges := make([]*models.Connection, 0)

	for _, conn := range r.workflow.Connections {
		if conn.ToNode != node.ID {
			continue
		}

		if conn.EdgeType() == models.ConnectionTypeAITool || conn.EdgeType() == models.ConnectionTypeAIMemory {
			edges = append(edges, conn)
		}
	}

	router.SortByPrecedence(edges)

	for _, conn := range edges {
		if !slices.Contains(ids, conn.FromNode) {
			ids = append(ids, conn.FromNode)
		}
	}

	tools := make([]protocol.ToolHandle, 0)
	memories := make([]protocol.MemoryHandle, 0)

	for _, id := range ids {
		attached, ok := r.workflow.NodeByID(id)
		if !ok {
			return nil, nil, protocol.NewExecutorError(protocol.CodeValidationFailed, fmt.Sprintf("attached node %s does not exist", id))
		}

		if !attached.Type.Attachable() {
			continue
		}

		executor, err := r.engine.registry.Executor(ctx, attached.Type, attached.Subtype)
		if err != nil {
			return nil, nil, protocol.NewExecutorError(protocol.CodeExecutorNotFound, err.Error())
		}

		switch attached.Type {
		case models.NodeTypeTool:
			provider, ok := executor.(protocol.ToolProvider)
			if !ok {
				return nil, nil, protocol.NewExecutorError(protocol.CodeInternal, fmt.Sprintf("%s/%s nodes cannot be attached as tools", attached.Type, attached.Subtype))
			}

			handle, err := provider.AttachTool(attached)
			if err != nil {
				return nil, nil, protocol.NewExecutorError(protocol.CodeValidationFailed, fmt.Sprintf("attach tool %s: %v", id, err))
			}

			tools = append(tools, handle)
		case models.NodeTypeMemory:
			provider, ok := executor.(protocol.MemoryProvider)
			if !ok {
				return nil, nil, protocol.NewExecutorError(protocol.CodeInternal, fmt.Sprintf("%s/%s nodes cannot be attached as memory", attached.Type, attached.Subtype))
			}

			handle, err := provider.AttachMemory(attached)
			if err != nil {
				return nil, nil, protocol.NewExecutorError(protocol.CodeValidationFailed, fmt.Sprintf("attach memory %s: %v", id, err))
			}

			memories = append(memories, handle)
		}
	}

	return tools, memories, nil
}

// invoke resolves, validates and executes one node under its timeout. It only
// reads the task and is safe to call from concurrent goroutines.
func (e *Engine) invoke(ctx context.Context, t *task) (result protocol.NodeExecutionResult) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "node.execute",
		attribute.String(otelhelper.ExecutionIDKey, t.execCtx.ExecutionID),
		attribute.String(otelhelper.NodeIDKey, t.node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(t.node.Type)),
		attribute.String(otelhelper.NodeSubtypeKey, t.node.Subtype),
		attribute.Int(otelhelper.AttemptKey, t.execCtx.Attempt),
	)
	defer span.End()

	defer func() {
		if result.Status == protocol.ResultError && result.Error != nil {
			otelhelper.SetError(span, result.Error, attribute.String(otelhelper.NodeIDKey, t.node.ID))
		}
	}()

	executor, err := e.registry.Executor(ctx, t.node.Type, t.node.Subtype)
	if err != nil {
		return protocol.Failure(protocol.NewExecutorError(protocol.CodeExecutorNotFound, err.Error()))
	}

	if problems := executor.Validate(t.node); len(problems) > 0 {
		return protocol.Failure(&protocol.ExecutorError{
			Code:    protocol.CodeValidationFailed,
			Message: errors.Join(problems...).Error(),
			Hint:    "fix the node configuration and deploy a new workflow version",
		})
	}

	timeout := e.config.NodeTimeout
	if t.node.TimeoutSeconds > 0 {
		timeout = time.Duration(t.node.TimeoutSeconds) * time.Second
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan protocol.NodeExecutionResult, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- protocol.Failure(protocol.NewExecutorError(protocol.CodeInternal, fmt.Sprintf("executor panicked: %v", recovered)))
			}
		}()

		done <- executor.Execute(ctx, t.execCtx)
	}()

	select {
	case result = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Failure(protocol.RetryableError(protocol.CodeNodeTimeout, "node exceeded its timeout of "+timeout.String(), ctx.Err()))
		}

		return protocol.Failure(protocol.NewExecutorError(protocol.CodeInternal, "execution was cancelled"))
	}

	switch result.Status {
	case protocol.ResultSuccess, protocol.ResultPause:
	case protocol.ResultError:
		if result.Error == nil {
			result.Error = protocol.NewExecutorError(protocol.CodeInternal, "node failed without an error")
		}
	default:
		return protocol.Failure(protocol.NewExecutorError(protocol.CodeInternal, fmt.Sprintf("executor returned unknown status %q", result.Status)))
	}

	return result
}

// apply records the outcome of a task. It returns the execution error when the
// node failed for good under the halt policy.
func (r *runState) apply(ctx context.Context, t *task) *models.ExecutionError {
	result := *t.result
	t.record.Logs = append(t.record.Logs, result.Logs...)

	switch result.Status {
	case protocol.ResultSuccess:
		now := r.engine.now()
		ne := t.record
		ne.Status = models.NodeExecutionCompleted
		ne.OutputData = models.CloneMap(result.OutputData)
		ne.ActiveOutputs = slices.Clone(result.ActiveOutputs)
		ne.ErrorCode = ""
		ne.ErrorMessage = ""
		ne.CompletedAt = &now

		r.engine.publish(ctx, r.execution.ID, events.NodeCompleted{
			BaseEvent:     events.NewBaseEvent(events.NodeCompletedEvent, r.workflow.ID, r.execution.ID),
			NodeID:        t.node.ID,
			OutputData:    models.CloneMap(result.OutputData),
			ActiveOutputs: slices.Clone(result.ActiveOutputs),
			Duration:      now.Sub(t.started),
		})

		r.logger.DebugContext(ctx, "Node completed", "node_id", t.node.ID, "active_outputs", result.ActiveOutputs)

		return nil
	case protocol.ResultPause:
		return r.pause(ctx, t, result.Pause)
	default:
		return r.fail(ctx, t, result.Error)
	}
}

// pause parks a node on a human: the interaction is opened and an active pause
// recorded. Nodes already running in the same step finish; nothing new is
// scheduled until the pause is resolved.
func (r *runState) pause(ctx context.Context, t *task, request *protocol.PauseRequest) *models.ExecutionError {
	if request == nil {
		return r.fail(ctx, t, protocol.NewExecutorError(protocol.CodeInternal, "pause result without a request"))
	}

	interactions := r.engine.interactions
	if interactions == nil {
		return r.fail(ctx, t, protocol.NotConfigured("human-in-the-loop manager", "wire a HIL manager into the engine"))
	}

	t.record.Status = models.NodeExecutionWaitingInput

	interaction, err := interactions.StartInteraction(ctx, r.execution.Clone(), t.node.ID, request.Interaction)
	if err != nil {
		return r.fail(ctx, t, protocol.RetryableError(protocol.CodeInternal, "start interaction: "+err.Error(), err))
	}

	pause := &models.WorkflowExecutionPause{
		ID:               uuid.NewString(),
		ExecutionID:      r.execution.ID,
		PausedNodeID:     t.node.ID,
		PauseReason:      request.Reason,
		ResumeConditions: map[string]any{"interaction_id": interaction.ID},
		Status:           models.PauseActive,
		CreatedAt:        r.engine.now(),
	}

	err = r.engine.store.SavePause(ctx, pause)
	if err != nil {
		return r.fail(ctx, t, protocol.NewExecutorError(protocol.CodeInternal, "save pause: "+err.Error()))
	}

	r.engine.publish(ctx, r.execution.ID, events.ExecutionPaused{
		BaseEvent:     events.NewBaseEvent(events.ExecutionPausedEvent, r.workflow.ID, r.execution.ID),
		NodeID:        t.node.ID,
		InteractionID: interaction.ID,
		Reason:        request.Reason,
	})

	r.logger.InfoContext(ctx, "Node paused for human input", "node_id", t.node.ID, "interaction_id", interaction.ID)

	return nil
}

// fail schedules a retry when the error allows it, otherwise marks the node failed
// and applies its failure policy.
func (r *runState) fail(ctx context.Context, t *task, execErr *protocol.ExecutorError) *models.ExecutionError {
	if execErr == nil {
		execErr = protocol.NewExecutorError(protocol.CodeInternal, "node failed without an error")
	}

	now := r.engine.now()
	ne := t.record
	ne.ErrorCode = execErr.Code
	ne.ErrorMessage = execErr.Message

	if execErr.Hint != "" {
		ne.ErrorMessage += " (hint: " + execErr.Hint + ")"
	}

	if execErr.Retryable && ne.RetryCount < ne.MaxRetries {
		ne.RetryCount++
		next := now.Add(r.engine.backoff(ne.RetryCount))
		ne.Status = models.NodeExecutionRetrying
		ne.NextAttemptAt = &next

		r.engine.publish(ctx, r.execution.ID, events.NodeRetrying{
			BaseEvent:     events.NewBaseEvent(events.NodeRetryingEvent, r.workflow.ID, r.execution.ID),
			NodeID:        t.node.ID,
			Attempt:       ne.RetryCount + 1,
			NextAttemptAt: next,
			Code:          execErr.Code,
		})

		r.logger.WarnContext(ctx, "Node failed, retrying",
			"node_id", t.node.ID,
			"code", execErr.Code,
			"retry", ne.RetryCount,
			"max_retries", ne.MaxRetries,
			"next_attempt_at", next,
		)

		return nil
	}

	ne.Status = models.NodeExecutionFailed
	ne.CompletedAt = &now

	r.engine.publish(ctx, r.execution.ID, events.NodeFailed{
		BaseEvent: events.NewBaseEvent(events.NodeFailedEvent, r.workflow.ID, r.execution.ID),
		NodeID:    t.node.ID,
		Code:      execErr.Code,
		Error:     ne.ErrorMessage,
		Retryable: execErr.Retryable,
		Duration:  now.Sub(t.started),
	})

	r.logger.ErrorContext(ctx, "Node failed", "node_id", t.node.ID, "code", execErr.Code, "error", ne.ErrorMessage)

	if r.workflow.FailurePolicyFor(t.node) == models.FailurePolicyHalt {
		return &models.ExecutionError{NodeID: t.node.ID, Code: execErr.Code, Message: ne.ErrorMessage}
	}

	return nil
}
