package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/registry"
	"github.com/xeipuuv/gojsonschema"
)

// Validator checks workflow graphs and node configurations before they run.
type Validator struct {
	registry *registry.Registry
}

func NewValidator(reg *registry.Registry) *Validator {
	return &Validator{registry: reg}
}

// Validate returns a *ValidationError listing every problem, nil when the workflow
// can run.
func (v *Validator) Validate(ctx context.Context, workflow *models.Workflow) error {
	if workflow == nil {
		return &ValidationError{Problems: []error{models.ErrMissingWorkflowID}}
	}

	problems := make([]error, 0)
	problems = append(problems, validateNodes(workflow)...)
	problems = append(problems, validateConnections(workflow)...)
	problems = append(problems, validateAttachments(workflow)...)

	if cycle := findCycle(workflow); cycle != nil {
		problems = append(problems, fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(cycle, " -> ")))
	}

	if len(workflow.TriggerNodes()) == 0 {
		problems = append(problems, ErrNoTrigger)
	}

	for _, node := range workflow.Nodes {
		if node.Type.Valid() {
			problems = append(problems, v.validateConfiguration(ctx, node)...)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{WorkflowID: workflow.ID, Problems: problems}
	}

	return nil
}

// ValidateTrigger checks that an execution can start from triggerNodeID. An
// empty id resolves to the only trigger of the workflow.
func ValidateTrigger(workflow *models.Workflow, triggerNodeID string) (string, error) {
	if triggerNodeID == "" {
		triggers := workflow.TriggerNodes()
		if len(triggers) != 1 {
			return "", fmt.Errorf("%w: workflow %s has %d triggers, one must be named", ErrInvalidTrigger, workflow.ID, len(triggers))
		}

		return triggers[0].ID, nil
	}

	node, ok := workflow.NodeByID(triggerNodeID)
	if !ok {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidTrigger, triggerNodeID, models.ErrNodeNotFound)
	}

	if node.Type != models.NodeTypeTrigger {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidTrigger, triggerNodeID, models.ErrNotTriggerNode)
	}

	return node.ID, nil
}

func validateNodes(workflow *models.Workflow) []error {
	problems := make([]error, 0)

	if workflow.ID == "" {
		problems = append(problems, models.ErrMissingWorkflowID)
	}

	ids := make(map[string]bool, len(workflow.Nodes))
	names := make(map[string]bool, len(workflow.Nodes))

	for i, node := range workflow.Nodes {
		if node == nil {
			problems = append(problems, fmt.Errorf("%w: node %d is empty", ErrInvalidNode, i))

			continue
		}

		if node.ID == "" {
			problems = append(problems, fmt.Errorf("%w: node %d has no id", ErrInvalidNode, i))
		} else if ids[node.ID] {
			problems = append(problems, fmt.Errorf("%w: %s", models.ErrDuplicateNodeID, node.ID))
		}

		ids[node.ID] = true

		if node.Name != "" && names[node.Name] {
			problems = append(problems, fmt.Errorf("%w: duplicate node name %q", ErrInvalidNode, node.Name))
		}

		names[node.Name] = true

		if !node.Type.Valid() {
			problems = append(problems, fmt.Errorf("%w: node %s has type %q", models.ErrInvalidNodeType, node.ID, node.Type))
		}

		if node.Subtype == "" {
			problems = append(problems, fmt.Errorf("%w: node %s has no subtype", ErrInvalidNode, node.ID))
		}
	}

	return problems
}

func validateConnections(workflow *models.Workflow) []error {
	problems := make([]error, 0)

	for _, conn := range workflow.Connections {
		if _, ok := workflow.NodeByID(conn.FromNode); !ok {
			problems = append(problems, fmt.Errorf("%w: source %q", ErrUnknownNode, conn.FromNode))
		}

		if _, ok := workflow.NodeByID(conn.ToNode); !ok {
			problems = append(problems, fmt.Errorf("%w: target %q", ErrUnknownNode, conn.ToNode))
		}

		if !conn.EdgeType().Valid() {
			problems = append(problems, fmt.Errorf("%w: %s -> %s has type %q", models.ErrInvalidEdgeType, conn.FromNode, conn.ToNode, conn.Type))
		}

		if conn.Index < 0 {
			problems = append(problems, fmt.Errorf("%w: %s -> %s has negative index", ErrInvalidConnection, conn.FromNode, conn.ToNode))
		}
	}

	return problems
}

func validateAttachments(workflow *models.Workflow) []error {
	problems := make([]error, 0)

	for _, node := range workflow.Nodes {
		for _, id := range node.AttachedNodes {
			attached, ok := workflow.NodeByID(id)
			if !ok {
				problems = append(problems, fmt.Errorf("%w: node %s attaches %q", ErrUnknownNode, node.ID, id))

				continue
			}

			if !attached.Type.Attachable() {
				problems = append(problems, fmt.Errorf("%w: node %s attaches %s of type %s", ErrInvalidAttachment, node.ID, id, attached.Type))
			}
		}
	}

	attached := attachedNodes(workflow)

	for _, conn := range workflow.Connections {
		if conn.EdgeType() != models.ConnectionTypeMain {
			continue
		}

		if attached[conn.FromNode] || attached[conn.ToNode] {
			problems = append(problems, fmt.Errorf("%w: attached node cannot have MAIN connection %s -> %s", ErrInvalidAttachment, conn.FromNode, conn.ToNode))
		}
	}

	return problems
}

// validateConfiguration checks a node against the JSON schema of its type and
// subtype, then against the executor's typed validation.
func (v *Validator) validateConfiguration(ctx context.Context, node *models.Node) []error {
	executor, err := v.registry.Executor(ctx, node.Type, node.Subtype)
	if err != nil {
		return []error{fmt.Errorf("node %s: %w", node.ID, err)}
	}

	problems := make([]error, 0)

	schema, err := v.registry.Schema(node.Type, node.Subtype)
	if err == nil && schema != nil {
		problems = append(problems, validateSchema(node, schema)...)
	}

	for _, problem := range executor.Validate(node) {
		problems = append(problems, fmt.Errorf("%w: node %s: %w", ErrInvalidConfiguration, node.ID, problem))
	}

	return problems
}

func validateSchema(node *models.Node, schema map[string]any) []error {
	configuration := node.Configuration
	if configuration == nil {
		configuration = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(configuration))
	if err != nil {
		return []error{fmt.Errorf("%w: node %s: schema: %w", ErrInvalidConfiguration, node.ID, err)}
	}

	if result.Valid() {
		return nil
	}

	problems := make([]error, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Errorf("%w: node %s: %s", ErrInvalidConfiguration, node.ID, desc.String()))
	}

	return problems
}
