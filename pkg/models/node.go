package models

import "slices"

type NodeType string

const (
	NodeTypeTrigger        NodeType = "TRIGGER"
	NodeTypeAIAgent        NodeType = "AI_AGENT"
	NodeTypeExternalAction NodeType = "EXTERNAL_ACTION"
	NodeTypeAction         NodeType = "ACTION"
	NodeTypeFlow           NodeType = "FLOW"
	NodeTypeHumanInTheLoop NodeType = "HUMAN_IN_THE_LOOP"
	NodeTypeTool           NodeType = "TOOL"
	NodeTypeMemory         NodeType = "MEMORY"
)

// FlowSubtypeMerge is the FLOW subtype that joins branches. It runs once every
// incoming branch is resolved and at least one of them delivered data.
const FlowSubtypeMerge = "MERGE"

// NodeTypes lists every node type known to the platform.
var NodeTypes = []NodeType{
	NodeTypeTrigger,
	NodeTypeAIAgent,
	NodeTypeExternalAction,
	NodeTypeAction,
	NodeTypeFlow,
	NodeTypeHumanInTheLoop,
	NodeTypeTool,
	NodeTypeMemory,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return slices.Contains(NodeTypes, t)
}

// Attachable reports whether nodes of this type are consulted in place by an
// AI_AGENT node rather than scheduled.
func (t NodeType) Attachable() bool {
	return t == NodeTypeTool || t == NodeTypeMemory
}

// Node is a single step of a workflow graph.
type Node struct {
	ID             string         `json:"id" validate:"required"`
	Name           string         `json:"name" validate:"required"`
	Type           NodeType       `json:"type" validate:"required"`
	Subtype        string         `json:"subtype" validate:"required"`
	Configuration  map[string]any `json:"configuration,omitempty"`
	AttachedNodes  []string       `json:"attached_nodes,omitempty"`
	MaxRetries     *int           `json:"max_retries,omitempty" validate:"omitempty,gte=0"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty" validate:"gte=0"`
	OnError        FailurePolicy  `json:"on_error,omitempty" validate:"omitempty,oneof=halt continue"`
}
