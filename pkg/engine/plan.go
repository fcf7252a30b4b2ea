package engine

import (
	"fmt"
	"slices"

	"github.com/dukex/loom/pkg/models"
)

// Plan is the static schedule of a workflow: the scheduled nodes in topological
// order and the MAIN adjacency between them. Attached TOOL and MEMORY nodes are
// consulted in place by the nodes they serve and never appear in Order.
type Plan struct {
	Order []string
	// Levels groups Order by longest distance from a root.
	Levels       [][]string
	Predecessors map[string][]*models.Connection
	Successors   map[string][]string
	Attached     map[string]bool
	position     map[string]int
}

// ComputeOrder sorts the MAIN subgraph with Kahn's algorithm. Ties are broken by
// node declaration order so the same workflow always yields the same plan.
func ComputeOrder(workflow *models.Workflow) (*Plan, error) {
	plan := &Plan{
		Predecessors: make(map[string][]*models.Connection),
		Successors:   make(map[string][]string),
		Attached:     attachedNodes(workflow),
		position:     make(map[string]int, len(workflow.Nodes)),
	}

	scheduled := make([]string, 0, len(workflow.Nodes))

	for i, node := range workflow.Nodes {
		plan.position[node.ID] = i

		if !plan.Attached[node.ID] {
			scheduled = append(scheduled, node.ID)
		}
	}

	inDegree := make(map[string]int, len(scheduled))
	for _, id := range scheduled {
		inDegree[id] = 0
	}

	for _, conn := range workflow.Connections {
		if conn.EdgeType() != models.ConnectionTypeMain {
			continue
		}

		_, fromScheduled := inDegree[conn.FromNode]
		_, toScheduled := inDegree[conn.ToNode]

		if !fromScheduled || !toScheduled {
			continue
		}

		plan.Predecessors[conn.ToNode] = append(plan.Predecessors[conn.ToNode], conn)

		if !slices.Contains(plan.Successors[conn.FromNode], conn.ToNode) {
			plan.Successors[conn.FromNode] = append(plan.Successors[conn.FromNode], conn.ToNode)
			inDegree[conn.ToNode]++
		}
	}

	level := make(map[string]int, len(scheduled))
	queue := make([]string, 0, len(scheduled))

	for _, id := range scheduled {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		plan.Order = append(plan.Order, id)

		for len(plan.Levels) <= level[id] {
			plan.Levels = append(plan.Levels, nil)
		}

		plan.Levels[level[id]] = append(plan.Levels[level[id]], id)

		released := make([]string, 0)

		for _, next := range plan.Successors[id] {
			level[next] = max(level[next], level[id]+1)

			inDegree[next]--
			if inDegree[next] == 0 {
				released = append(released, next)
			}
		}

		queue = append(queue, released...)
		slices.SortStableFunc(queue, plan.compare)
	}

	if len(plan.Order) != len(scheduled) {
		return nil, fmt.Errorf("%w: %d nodes could not be ordered", ErrCycleDetected, len(scheduled)-len(plan.Order))
	}

	for _, ids := range plan.Levels {
		slices.SortStableFunc(ids, plan.compare)
	}

	return plan, nil
}

// Reachable returns the scheduled nodes reachable from start over MAIN edges,
// start included.
func (p *Plan) Reachable(start string) map[string]bool {
	reachable := map[string]bool{start: true}
	stack := []string{start}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, next := range p.Successors[id] {
			if !reachable[next] {
				reachable[next] = true
				stack = append(stack, next)
			}
		}
	}

	return reachable
}

// Position returns the declaration index of a node.
func (p *Plan) Position(id string) int {
	return p.position[id]
}

func (p *Plan) compare(a, b string) int {
	return p.position[a] - p.position[b]
}

// attachedNodes collects the TOOL and MEMORY nodes bound to another node through
// attached_nodes or an AI_TOOL/AI_MEMORY edge.
func attachedNodes(workflow *models.Workflow) map[string]bool {
	attached := make(map[string]bool)

	for _, node := range workflow.Nodes {
		for _, id := range node.AttachedNodes {
			attached[id] = true
		}
	}

	for _, conn := range workflow.Connections {
		switch conn.EdgeType() {
		case models.ConnectionTypeAITool, models.ConnectionTypeAIMemory:
			if node, ok := workflow.NodeByID(conn.FromNode); ok && node.Type.Attachable() {
				attached[conn.FromNode] = true
			}
		}
	}

	return attached
}

// findCycle runs a depth-first search over MAIN edges and returns the first cycle
// found as a node path, nil when the subgraph is acyclic.
func findCycle(workflow *models.Workflow) []string {
	adjacency := make(map[string][]string)

	for _, conn := range workflow.Connections {
		if conn.EdgeType() == models.ConnectionTypeMain {
			adjacency[conn.FromNode] = append(adjacency[conn.FromNode], conn.ToNode)
		}
	}

	const (
		unvisited = iota
		onStack
		done
	)

	state := make(map[string]int, len(workflow.Nodes))
	path := make([]string, 0)

	var visit func(id string) []string

	visit = func(id string) []string {
		state[id] = onStack
		path = append(path, id)

		for _, next := range adjacency[id] {
			switch state[next] {
			case onStack:
				start := slices.Index(path, next)

				return append(slices.Clone(path[start:]), next)
			case unvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done

		return nil
	}

	for _, node := range workflow.Nodes {
		if state[node.ID] == unvisited {
			if cycle := visit(node.ID); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}
