// Package models provides the core data structures for workflow graphs, executions,
// human-in-the-loop interactions and trigger registrations.
package models

import (
	"errors"
	"time"
)

// FailurePolicy decides what happens to an execution when a node fails for good.
type FailurePolicy string

const (
	// FailurePolicyHalt moves the whole execution to ERROR on the first failed node.
	FailurePolicyHalt FailurePolicy = "halt"
	// FailurePolicyContinue leaves the failed branch dead and keeps advancing independent branches.
	FailurePolicyContinue FailurePolicy = "continue"
)

var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrNotTriggerNode    = errors.New("node is not a trigger")
	ErrInvalidNodeType   = errors.New("invalid node type")
	ErrInvalidEdgeType   = errors.New("invalid connection type")
	ErrDuplicateNodeID   = errors.New("duplicate node id")
	ErrMissingWorkflowID = errors.New("workflow id is required")
)

// WorkflowSettings holds execution-wide knobs of a workflow.
type WorkflowSettings struct {
	FailurePolicy     FailurePolicy  `json:"failure_policy,omitempty" validate:"omitempty,oneof=halt continue"`
	DefaultMaxRetries int            `json:"default_max_retries,omitempty" validate:"gte=0"`
	Variables         map[string]any `json:"variables,omitempty"`
}

// Workflow is a directed graph of typed nodes. Once deployed a workflow only changes
// through a new Version.
type Workflow struct {
	ID          string           `json:"id" validate:"required"`
	Name        string           `json:"name" validate:"required,min=1,max=255"`
	Description string           `json:"description,omitempty"`
	Version     int              `json:"version"`
	Nodes       []*Node          `json:"nodes" validate:"required,dive"`
	Connections []*Connection    `json:"connections"`
	Triggers    []string         `json:"triggers,omitempty"`
	Settings    WorkflowSettings `json:"settings"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NodeByID returns the node with the given id.
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// NodeByName returns the first node carrying the given name.
func (w *Workflow) NodeByName(name string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.Name == name {
			return node, true
		}
	}

	return nil, false
}

// TriggerNodes returns every TRIGGER node in declaration order.
func (w *Workflow) TriggerNodes() []*Node {
	triggers := make([]*Node, 0)

	for _, node := range w.Nodes {
		if node.Type == NodeTypeTrigger {
			triggers = append(triggers, node)
		}
	}

	return triggers
}

// IncomingConnections returns the edges of the given type that end at nodeID.
func (w *Workflow) IncomingConnections(nodeID string, connectionType ConnectionType) []*Connection {
	incoming := make([]*Connection, 0)

	for _, conn := range w.Connections {
		if conn.ToNode == nodeID && conn.EdgeType() == connectionType {
			incoming = append(incoming, conn)
		}
	}

	return incoming
}

// FailurePolicyFor resolves the failure policy that applies to the node.
func (w *Workflow) FailurePolicyFor(node *Node) FailurePolicy {
	if node != nil && node.OnError != "" {
		return node.OnError
	}

	if w.Settings.FailurePolicy != "" {
		return w.Settings.FailurePolicy
	}

	return FailurePolicyHalt
}

// MaxRetriesFor resolves the retry budget for the node.
func (w *Workflow) MaxRetriesFor(node *Node) int {
	if node != nil && node.MaxRetries != nil {
		return *node.MaxRetries
	}

	return w.Settings.DefaultMaxRetries
}
