// Package graph projects a repaired mutation into an explicit execution
// DAG and provides the ordering analysis downstream consumers use to
// schedule node execution.
package graph

import (
	"github.com/toolsmithhq/toolsmith/internal/identifier"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// InitNodeID is the id of the synthetic entry node added when a multi-node
// graph would otherwise have no edges. Downstream graph queries treat a
// node-only graph as disconnected and fail; the shim keeps them working.
// This is a compatibility behavior, not a correctness requirement, so the
// builder also surfaces a warning when it fires.
const InitNodeID = "__init__"

// actionNodeKinds maps action kinds to execution node kinds. Workflow
// actions do not project to a node; their ordered step list becomes a
// chain of edges between the steps' nodes.
var actionNodeKinds = map[schema.ActionKind]schema.NodeKind{
	schema.ActionKindIntegrationCall: schema.NodeKindIntegrationCall,
	schema.ActionKindTransform:       schema.NodeKindTransform,
	schema.ActionKindCondition:       schema.NodeKindCondition,
	schema.ActionKindEmitEvent:       schema.NodeKindEmitEvent,
}

// Build projects the repaired mutation into a populated execution graph.
// Proposal-supplied nodes and edges survive when their references resolve.
// Each non-workflow action becomes one node; edges are derived from
// declared data dependencies (state writer feeds state reader) and from
// the ordered step lists of workflow actions.
//
// prev, when non-nil, is the tool's previously materialized spec: nodes
// that already existed keep their retry policy and config when the new
// mutation does not supply them.
//
// The returned result carries warnings (synthetic edge shim, disconnected
// graph) and a CYCLE_DETECTED error when the combined edges form a cycle.
func Build(m *schema.Mutation, prev *schema.ToolSpec) (*schema.ExecutionGraph, *schema.ValidationResult) {
	result := &schema.ValidationResult{}
	g := &schema.ExecutionGraph{Nodes: []schema.Node{}, Edges: []schema.Edge{}}
	if m == nil {
		return g, result
	}

	seen := make(map[string]bool)

	// Proposal-supplied nodes first, deduplicated by id.
	if m.Graph != nil {
		for _, n := range m.Graph.Nodes {
			id := identifier.Normalize(n.ID)
			if id == "" || seen[id] {
				continue
			}
			n.ID = id
			seen[id] = true
			g.Nodes = append(g.Nodes, n)
		}
	}

	// One node per non-workflow action.
	for _, a := range m.Actions {
		kind, ok := actionNodeKinds[a.Kind]
		if !ok {
			if a.Kind == schema.ActionKindWorkflow {
				continue
			}
			kind = schema.NodeKindIntegrationCall
		}
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		node := schema.Node{ID: a.ID, Kind: kind, Config: a.Config}
		if prevNode := previousNode(prev, a.ID); prevNode != nil {
			if node.Config == nil {
				node.Config = prevNode.Config
			}
			node.Retry = prevNode.Retry
		}
		g.Nodes = append(g.Nodes, node)
	}

	// Proposal-supplied edges whose endpoints resolve.
	edgeSeen := make(map[[2]string]bool)
	addEdge := func(e schema.Edge) {
		e.From = identifier.Normalize(e.From)
		e.To = identifier.Normalize(e.To)
		key := [2]string{e.From, e.To}
		if e.From == e.To || !seen[e.From] || !seen[e.To] || edgeSeen[key] {
			return
		}
		edgeSeen[key] = true
		g.Edges = append(g.Edges, e)
	}
	if m.Graph != nil {
		for _, e := range m.Graph.Edges {
			addEdge(e)
		}
	}

	// Data-dependency edges: writer feeds reader.
	writers := make(map[string][]string)
	for _, a := range m.Actions {
		for _, key := range a.Writes {
			writers[key] = append(writers[key], a.ID)
		}
	}
	for _, a := range m.Actions {
		for _, key := range a.Reads {
			for _, w := range writers[key] {
				addEdge(schema.Edge{From: w, To: a.ID})
			}
		}
	}

	// Workflow step chains.
	for _, a := range m.Actions {
		if a.Kind != schema.ActionKindWorkflow {
			continue
		}
		for i := 1; i < len(a.Steps); i++ {
			addEdge(schema.Edge{From: a.Steps[i-1], To: a.Steps[i]})
		}
	}

	// Compatibility shim: a multi-node graph with zero edges breaks
	// downstream graph queries, so anchor it with a synthetic edge from an
	// initialization node.
	if len(g.Nodes) > 1 && len(g.Edges) == 0 {
		g.Nodes = append(g.Nodes, schema.Node{ID: InitNodeID, Kind: schema.NodeKindInit})
		first := firstNodeID(g)
		g.Edges = append(g.Edges, schema.Edge{From: InitNodeID, To: first})
		result.AddWarning("executionGraph", schema.ErrCodeValidation,
			"graph had multiple nodes but no edges; anchored with a synthetic init edge")
	}

	if _, err := Analyze(g); err != nil {
		result.AddError("executionGraph", schema.ErrCodeCycleDetected,
			"execution graph contains a dependency cycle")
	}

	return g, result
}

// previousNode looks up a node by id in the previous spec's graph.
func previousNode(prev *schema.ToolSpec, id string) *schema.Node {
	if prev == nil || prev.Graph == nil {
		return nil
	}
	return prev.Graph.NodeByID(id)
}

// firstNodeID returns the lexicographically smallest non-init node id,
// giving the synthetic edge a deterministic target.
func firstNodeID(g *schema.ExecutionGraph) string {
	first := ""
	for _, n := range g.Nodes {
		if n.ID == InitNodeID {
			continue
		}
		if first == "" || n.ID < first {
			first = n.ID
		}
	}
	return first
}
