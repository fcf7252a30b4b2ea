package models

import (
	"slices"
	"time"
)

type ExecutionStatus string

const (
	ExecutionStatusNew             ExecutionStatus = "NEW"
	ExecutionStatusRunning         ExecutionStatus = "RUNNING"
	ExecutionStatusPaused          ExecutionStatus = "PAUSED"
	ExecutionStatusWaitingForHuman ExecutionStatus = "WAITING_FOR_HUMAN"
	ExecutionStatusSuccess         ExecutionStatus = "SUCCESS"
	ExecutionStatusError           ExecutionStatus = "ERROR"
	ExecutionStatusCanceled        ExecutionStatus = "CANCELED"
	ExecutionStatusTimeout         ExecutionStatus = "TIMEOUT"
)

// TerminalExecutionStatuses can never be left once reached.
var TerminalExecutionStatuses = []ExecutionStatus{
	ExecutionStatusSuccess,
	ExecutionStatusError,
	ExecutionStatusCanceled,
	ExecutionStatusTimeout,
}

// IsTerminal reports whether s is a final status.
func (s ExecutionStatus) IsTerminal() bool {
	return slices.Contains(TerminalExecutionStatuses, s)
}

type NodeExecutionStatus string

const (
	NodeExecutionPending      NodeExecutionStatus = "pending"
	NodeExecutionRunning      NodeExecutionStatus = "running"
	NodeExecutionCompleted    NodeExecutionStatus = "completed"
	NodeExecutionFailed       NodeExecutionStatus = "failed"
	NodeExecutionWaitingInput NodeExecutionStatus = "waiting_input"
	NodeExecutionRetrying     NodeExecutionStatus = "retrying"
	NodeExecutionCancelled    NodeExecutionStatus = "cancelled"
)

// ExecutionError is the aggregate error recorded on a failed execution.
type ExecutionError struct {
	NodeID  string `json:"node_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NodeExecution tracks one node inside one execution. It is created the first time
// the node becomes runnable.
type NodeExecution struct {
	NodeID        string              `json:"node_id"`
	Status        NodeExecutionStatus `json:"status"`
	InputData     map[string]any      `json:"input_data,omitempty"`
	OutputData    map[string]any      `json:"output_data,omitempty"`
	ActiveOutputs []string            `json:"active_outputs,omitempty"`
	Logs          []string            `json:"logs,omitempty"`
	RetryCount    int                 `json:"retry_count"`
	MaxRetries    int                 `json:"max_retries"`
	NextAttemptAt *time.Time          `json:"next_attempt_at,omitempty"`
	ErrorCode     string              `json:"error_code,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

// WorkflowExecution is one run of a workflow.
type WorkflowExecution struct {
	ID             string                    `json:"execution_id"`
	WorkflowID     string                    `json:"workflow_id"`
	Status         ExecutionStatus           `json:"status"`
	TriggerNodeID  string                    `json:"trigger_node_id"`
	TriggerPayload map[string]any            `json:"trigger_payload,omitempty"`
	NodeExecutions map[string]*NodeExecution `json:"node_executions"`
	Frontier       []string                  `json:"frontier"`
	Error          *ExecutionError           `json:"error,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	StartedAt      *time.Time                `json:"started_at,omitempty"`
	FinishedAt     *time.Time                `json:"finished_at,omitempty"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// NodeExecution returns the record for nodeID, creating a pending one when the node
// has not been reached yet.
func (e *WorkflowExecution) NodeExecution(nodeID string) *NodeExecution {
	if e.NodeExecutions == nil {
		e.NodeExecutions = make(map[string]*NodeExecution)
	}

	ne, ok := e.NodeExecutions[nodeID]
	if !ok {
		ne = &NodeExecution{NodeID: nodeID, Status: NodeExecutionPending}
		e.NodeExecutions[nodeID] = ne
	}

	return ne
}

// NodeStatus returns the status of nodeID, pending when it has no record.
func (e *WorkflowExecution) NodeStatus(nodeID string) NodeExecutionStatus {
	if ne, ok := e.NodeExecutions[nodeID]; ok {
		return ne.Status
	}

	return NodeExecutionPending
}

// NodesWithStatus returns the ids of node executions in the given status, sorted.
func (e *WorkflowExecution) NodesWithStatus(status NodeExecutionStatus) []string {
	ids := make([]string, 0)

	for id, ne := range e.NodeExecutions {
		if ne.Status == status {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)

	return ids
}

// Clone returns a deep copy of the execution.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}

	clone := *e
	clone.TriggerPayload = CloneMap(e.TriggerPayload)
	clone.Frontier = slices.Clone(e.Frontier)
	clone.StartedAt = cloneTime(e.StartedAt)
	clone.FinishedAt = cloneTime(e.FinishedAt)

	if e.Error != nil {
		errCopy := *e.Error
		clone.Error = &errCopy
	}

	clone.NodeExecutions = make(map[string]*NodeExecution, len(e.NodeExecutions))
	for id, ne := range e.NodeExecutions {
		clone.NodeExecutions[id] = ne.Clone()
	}

	return &clone
}

// Clone returns a deep copy of the node execution.
func (n *NodeExecution) Clone() *NodeExecution {
	if n == nil {
		return nil
	}

	clone := *n
	clone.InputData = CloneMap(n.InputData)
	clone.OutputData = CloneMap(n.OutputData)
	clone.ActiveOutputs = slices.Clone(n.ActiveOutputs)
	clone.Logs = slices.Clone(n.Logs)
	clone.NextAttemptAt = cloneTime(n.NextAttemptAt)
	clone.StartedAt = cloneTime(n.StartedAt)
	clone.CompletedAt = cloneTime(n.CompletedAt)

	return &clone
}
