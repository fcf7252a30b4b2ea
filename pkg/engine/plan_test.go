package engine

import (
	"testing"

	"github.com/dukex/loom/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamond() *models.Workflow {
	return &models.Workflow{
		ID:    testWorkflowID,
		Name:  "diamond",
		Nodes: []*models.Node{triggerNode("t"), stepNode("a"), stepNode("b"), stepNode("c")},
		Connections: []*models.Connection{
			edge("t", "a", 0),
			edge("t", "b", 1),
			edge("a", "c", 0),
			edge("b", "c", 1),
		},
	}
}

func TestComputeOrder(t *testing.T) {
	t.Parallel()

	t.Run("diamond", func(t *testing.T) {
		t.Parallel()

		plan, err := ComputeOrder(diamond())
		require.NoError(t, err)

		assert.Equal(t, []string{"t", "a", "b", "c"}, plan.Order)
		assert.Equal(t, [][]string{{"t"}, {"a", "b"}, {"c"}}, plan.Levels)
		assert.ElementsMatch(t, []string{"a", "b"}, plan.Successors["t"])
		assert.Len(t, plan.Predecessors["c"], 2)
	})

	t.Run("ties follow declaration order", func(t *testing.T) {
		t.Parallel()

		workflow := &models.Workflow{
			ID:    testWorkflowID,
			Nodes: []*models.Node{triggerNode("t"), stepNode("z"), stepNode("m"), stepNode("a")},
			Connections: []*models.Connection{
				edge("t", "a", 0),
				edge("t", "m", 0),
				edge("t", "z", 0),
			},
		}

		plan, err := ComputeOrder(workflow)
		require.NoError(t, err)

		assert.Equal(t, []string{"t", "z", "m", "a"}, plan.Order)
	})

	t.Run("duplicate edges count once", func(t *testing.T) {
		t.Parallel()

		workflow := &models.Workflow{
			ID:    testWorkflowID,
			Nodes: []*models.Node{triggerNode("t"), stepNode("a")},
			Connections: []*models.Connection{
				edge("t", "a", 0),
				edge("t", "a", 1),
			},
		}

		plan, err := ComputeOrder(workflow)
		require.NoError(t, err)

		assert.Equal(t, []string{"t", "a"}, plan.Order)
	})

	t.Run("attached nodes are not scheduled", func(t *testing.T) {
		t.Parallel()

		agent := &models.Node{ID: "agent", Name: "agent", Type: models.NodeTypeAIAgent, Subtype: "CONVERSATIONAL", AttachedNodes: []string{"search"}}
		workflow := &models.Workflow{
			ID: testWorkflowID,
			Nodes: []*models.Node{
				triggerNode("t"),
				agent,
				{ID: "search", Name: "search", Type: models.NodeTypeTool, Subtype: "WEB"},
				{ID: "mem", Name: "mem", Type: models.NodeTypeMemory, Subtype: "BUFFER"},
			},
			Connections: []*models.Connection{
				edge("t", "agent", 0),
				{FromNode: "mem", ToNode: "agent", Type: models.ConnectionTypeAIMemory},
			},
		}

		plan, err := ComputeOrder(workflow)
		require.NoError(t, err)

		assert.Equal(t, []string{"t", "agent"}, plan.Order)
		assert.True(t, plan.Attached["search"])
		assert.True(t, plan.Attached["mem"])
	})

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()

		workflow := &models.Workflow{
			ID:    testWorkflowID,
			Nodes: []*models.Node{triggerNode("t"), stepNode("a"), stepNode("b")},
			Connections: []*models.Connection{
				edge("t", "a", 0),
				edge("a", "b", 0),
				edge("b", "a", 0),
			},
		}

		_, err := ComputeOrder(workflow)
		require.ErrorIs(t, err, ErrCycleDetected)
		assert.Equal(t, []string{"a", "b", "a"}, findCycle(workflow))
	})
}

func TestPlanReachable(t *testing.T) {
	t.Parallel()

	workflow := diamond()
	workflow.Nodes = append(workflow.Nodes, triggerNode("t2"), stepNode("d"))
	workflow.Connections = append(workflow.Connections, edge("t2", "d", 0), edge("t2", "c", 2))

	plan, err := ComputeOrder(workflow)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"t": true, "a": true, "b": true, "c": true}, plan.Reachable("t"))
	assert.Equal(t, map[string]bool{"t2": true, "c": true, "d": true}, plan.Reachable("t2"))
}
