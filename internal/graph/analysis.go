package graph

import (
	"sort"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// Analysis is the ordering view of an execution graph computed with Kahn's
// algorithm: a topological order, the root nodes, and parallel execution
// levels where every node's dependencies are satisfied by earlier levels.
type Analysis struct {
	Deps    map[string][]string // node id → dependencies (incoming edges)
	Reverse map[string][]string // node id → dependents (outgoing edges)
	Sorted  []string            // topological order
	Roots   []string            // nodes with no dependencies
	Levels  [][]string          // parallel execution levels
}

// Analyze validates edge endpoints, performs topological sorting, detects
// cycles, and computes parallel execution levels.
func Analyze(g *schema.ExecutionGraph) (*Analysis, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution graph is nil")
	}

	nodes := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "graph contains a node with empty id")
		}
		if nodes[n.ID] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id: %s", n.ID)
		}
		nodes[n.ID] = true
	}

	a := &Analysis{
		Deps:    make(map[string][]string, len(g.Nodes)),
		Reverse: make(map[string][]string, len(g.Nodes)),
	}

	for _, e := range g.Edges {
		if !nodes[e.From] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge references non-existent node: %s", e.From)
		}
		if !nodes[e.To] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge references non-existent node: %s", e.To)
		}
		if e.From == e.To {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s depends on itself", e.From)
		}
		a.Deps[e.To] = append(a.Deps[e.To], e.From)
		a.Reverse[e.From] = append(a.Reverse[e.From], e.To)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(g.Nodes))
	for id := range nodes {
		inDegree[id] = len(a.Deps[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	// Sort roots for deterministic ordering.
	sort.Strings(queue)
	a.Roots = make([]string, len(queue))
	copy(a.Roots, queue)

	sorted := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(a.Reverse[node]))
		copy(dependents, a.Reverse[node])
		sort.Strings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "execution graph contains a cycle")
	}

	a.Sorted = sorted
	a.Levels = computeLevels(a)

	return a, nil
}

// computeLevels groups nodes into parallel execution levels. Nodes at the
// same level have all dependencies satisfied by previous levels.
func computeLevels(a *Analysis) [][]string {
	depth := make(map[string]int, len(a.Sorted))

	for _, id := range a.Sorted {
		maxDep := -1
		for _, dep := range a.Deps[id] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[id] = maxDep + 1
	}

	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range a.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}

	return levels
}
