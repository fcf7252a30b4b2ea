package engine

import (
	"context"
	"errors"

	"github.com/dukex/loom/pkg/events"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/persistence"
)

// ResumeNode completes a paused node with data as its output and continues the
// execution in the background. The active pause is consumed with a compare-and-swap,
// so of two concurrent resumes exactly one succeeds and the other gets ErrNotPaused.
func (e *Engine) ResumeNode(ctx context.Context, executionID, nodeID string, data map[string]any) error {
	unlock := e.locks.Lock(executionID)

	err := e.resumeNode(ctx, executionID, nodeID, data)

	unlock()

	if err != nil {
		return err
	}

	e.dispatch(ctx, executionID)

	return nil
}

// Resume resumes the only paused node of an execution.
func (e *Engine) Resume(ctx context.Context, executionID string, data map[string]any) error {
	pauses, err := e.store.PausesByExecution(ctx, executionID)
	if err != nil {
		return executionError("Resume", executionID, err)
	}

	active := make([]*models.WorkflowExecutionPause, 0, 1)

	for _, pause := range pauses {
		if pause.Status == models.PauseActive {
			active = append(active, pause)
		}
	}

	switch len(active) {
	case 0:
		return executionError("Resume", executionID, ErrNotPaused)
	case 1:
		return e.ResumeNode(ctx, executionID, active[0].PausedNodeID, data)
	default:
		return executionError("Resume", executionID, ErrAmbiguousResume)
	}
}

func (e *Engine) resumeNode(ctx context.Context, executionID, nodeID string, data map[string]any) error {
	execution, pause, err := e.activePause(ctx, "Resume", executionID, nodeID)
	if err != nil {
		return err
	}

	now := e.now()

	won, err := e.store.TransitionPause(ctx, pause.ID, models.PauseActive, models.PauseResumed, now)
	if err != nil {
		return executionError("Resume", executionID, err)
	}

	if !won {
		return executionError("Resume", executionID, ErrNotPaused)
	}

	if data == nil {
		data = map[string]any{}
	}

	ne := execution.NodeExecutions[nodeID]
	ne.Status = models.NodeExecutionCompleted
	ne.OutputData = models.CloneMap(data)
	ne.ActiveOutputs = nil
	ne.CompletedAt = &now
	execution.Status = models.ExecutionStatusRunning

	err = e.save(ctx, execution)
	if err != nil {
		return err
	}

	e.publish(ctx, executionID, events.ExecutionResumed{
		BaseEvent: events.NewBaseEvent(events.ExecutionResumedEvent, execution.WorkflowID, executionID),
		NodeID:    nodeID,
	})

	e.logger.InfoContext(ctx, "Execution resumed", "execution_id", executionID, "node_id", nodeID)

	return nil
}

// Fail fails a paused node, used when its interaction timed out with the fail
// action. The node's failure policy decides whether the execution ends in ERROR
// or its other branches continue.
func (e *Engine) Fail(ctx context.Context, executionID, nodeID, code, message string) error {
	unlock := e.locks.Lock(executionID)

	halted, err := e.failNode(ctx, executionID, nodeID, code, message)

	unlock()

	if err != nil {
		return err
	}

	if !halted {
		e.dispatch(ctx, executionID)
	}

	return nil
}

func (e *Engine) failNode(ctx context.Context, executionID, nodeID, code, message string) (bool, error) {
	execution, pause, err := e.activePause(ctx, "Fail", executionID, nodeID)
	if err != nil {
		return false, err
	}

	workflow, err := e.store.WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		return false, executionError("Fail", executionID, err)
	}

	now := e.now()

	won, err := e.store.TransitionPause(ctx, pause.ID, models.PauseActive, models.PauseCancelled, now)
	if err != nil {
		return false, executionError("Fail", executionID, err)
	}

	if !won {
		return false, executionError("Fail", executionID, ErrNotPaused)
	}

	ne := execution.NodeExecutions[nodeID]
	ne.Status = models.NodeExecutionFailed
	ne.ErrorCode = code
	ne.ErrorMessage = message
	ne.CompletedAt = &now

	e.publish(ctx, executionID, events.NodeFailed{
		BaseEvent: events.NewBaseEvent(events.NodeFailedEvent, execution.WorkflowID, executionID),
		NodeID:    nodeID,
		Code:      code,
		Error:     message,
	})

	node, _ := workflow.NodeByID(nodeID)
	if workflow.FailurePolicyFor(node) == models.FailurePolicyHalt {
		_, err := e.finish(ctx, execution, models.ExecutionStatusError, &models.ExecutionError{NodeID: nodeID, Code: code, Message: message})

		return true, err
	}

	execution.Status = models.ExecutionStatusRunning

	return false, e.save(ctx, execution)
}

// activePause loads an execution and the active pause of nodeID, failing with
// ErrNotPaused when the node is not waiting for input.
func (e *Engine) activePause(ctx context.Context, op, executionID, nodeID string) (*models.WorkflowExecution, *models.WorkflowExecutionPause, error) {
	execution, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, nil, executionError(op, executionID, err)
	}

	if execution.Status.IsTerminal() {
		return nil, nil, executionError(op, executionID, persistence.ErrExecutionTerminal)
	}

	if execution.NodeStatus(nodeID) != models.NodeExecutionWaitingInput {
		return nil, nil, executionError(op, executionID, ErrNotPaused)
	}

	pause, err := e.store.ActivePause(ctx, executionID, nodeID)
	if errors.Is(err, persistence.ErrPauseNotFound) {
		return nil, nil, executionError(op, executionID, ErrNotPaused)
	}

	if err != nil {
		return nil, nil, executionError(op, executionID, err)
	}

	return execution, pause, nil
}

// Cancel stops an execution: the in-flight run is interrupted, unfinished nodes
// are cancelled and every pending interaction of the execution is closed so late
// responses and timeouts become no-ops.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) error {
	e.cancelRuns(executionID)

	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return executionError("Cancel", executionID, err)
	}

	if execution.Status.IsTerminal() {
		return executionError("Cancel", executionID, persistence.ErrExecutionTerminal)
	}

	now := e.now()

	e.releaseWaiting(ctx, execution, now)

	for _, ne := range execution.NodeExecutions {
		switch ne.Status {
		case models.NodeExecutionPending, models.NodeExecutionRunning, models.NodeExecutionRetrying:
			ne.Status = models.NodeExecutionCancelled
			ne.NextAttemptAt = nil
			ne.CompletedAt = &now
		}
	}

	execution.Status = models.ExecutionStatusCanceled
	execution.Frontier = nil
	execution.FinishedAt = &now

	err = e.save(ctx, execution)
	if err != nil {
		return err
	}

	e.publish(ctx, executionID, events.ExecutionCancelled{
		BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID, executionID),
		Reason:    reason,
	})

	e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID, "reason", reason)

	return nil
}

// Recover restarts every execution left NEW or RUNNING, typically after a crash.
// Nodes interrupted while running are run again.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	workflows, err := e.store.Workflows(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0

	for _, workflow := range workflows {
		executions, err := e.store.ExecutionsByWorkflow(ctx, workflow.ID)
		if err != nil {
			return recovered, err
		}

		for _, execution := range executions {
			if execution.Status == models.ExecutionStatusRunning || execution.Status == models.ExecutionStatusNew {
				e.dispatch(ctx, execution.ID)
				recovered++
			}
		}
	}

	if recovered > 0 {
		e.logger.InfoContext(ctx, "Recovered executions", "count", recovered)
	}

	return recovered, nil
}
