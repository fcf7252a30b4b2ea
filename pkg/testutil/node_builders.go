// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/loom/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates an ACTION/LOG node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	id := uuid.New().String()
	node := &models.Node{
		ID:            id,
		Name:          "Test Node " + id[:8],
		Type:          models.NodeTypeAction,
		Subtype:       "LOG",
		Configuration: map[string]any{"message": "test"},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithTrigger turns the node into a trigger of the given subtype.
func WithTrigger(subtype models.TriggerSubtype, config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeTrigger
		n.Subtype = string(subtype)
		n.Configuration = config
	}
}

// WithType sets the node type and subtype.
func WithType(nodeType models.NodeType, subtype string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
		n.Subtype = subtype
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Configuration = config
	}
}

// WithID sets the node ID. The name follows the ID.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
		n.Name = id
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithMaxRetries sets the retry budget of the node.
func WithMaxRetries(retries int) func(*models.Node) {
	return func(n *models.Node) {
		n.MaxRetries = &retries
	}
}

// WithOnError sets the failure policy of the node.
func WithOnError(policy models.FailurePolicy) func(*models.Node) {
	return func(n *models.Node) {
		n.OnError = policy
	}
}

// CreateTestConnection creates a MAIN connection between two nodes.
func CreateTestConnection(fromNodeID, toNodeID string) *models.Connection {
	return &models.Connection{
		FromNode: fromNodeID,
		ToNode:   toNodeID,
		Type:     models.ConnectionTypeMain,
	}
}

// CreateTestWorkflow creates a workflow with the given nodes chained by MAIN
// connections in order.
func CreateTestWorkflow(id string, nodes ...*models.Node) *models.Workflow {
	workflow := &models.Workflow{
		ID:          id,
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Nodes:       nodes,
		Connections: []*models.Connection{},
	}

	for i := 1; i < len(nodes); i++ {
		workflow.Connections = append(workflow.Connections, CreateTestConnection(nodes[i-1].ID, nodes[i].ID))
	}

	return workflow
}

// CreateTestWorkflowWithNodes creates a MANUAL trigger followed by a LOG action.
func CreateTestWorkflowWithNodes(id string) *models.Workflow {
	return CreateTestWorkflow(id,
		CreateTestNode(WithID("trigger-1"), WithTrigger(models.TriggerManual, nil)),
		CreateTestNode(WithID("action-1"), WithName("Log Action")),
	)
}
