package validation

import (
	"fmt"
	"sort"

	"github.com/toolsmithhq/toolsmith/internal/identifier"
	"github.com/toolsmithhq/toolsmith/internal/repair"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// validateGraph checks the mutation's execution graph references and, in a
// second half, action reachability. Edge endpoints may resolve against
// proposal-supplied nodes, nodes the builder will project from non-workflow
// actions, or nodes carried by the previous spec.
func validateGraph(m *schema.Mutation, prev *schema.ToolSpec) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodes := make(map[string]bool)
	if m.Graph != nil {
		for _, n := range m.Graph.Nodes {
			nodes[identifier.Normalize(n.ID)] = true
		}
	}
	for _, a := range m.Actions {
		if a.Kind != schema.ActionKindWorkflow {
			nodes[identifier.Normalize(a.ID)] = true
		}
	}
	if prev != nil && prev.Graph != nil {
		for _, n := range prev.Graph.Nodes {
			nodes[identifier.Normalize(n.ID)] = true
		}
	}

	if m.Graph != nil {
		for i, e := range m.Graph.Edges {
			if !nodes[identifier.Normalize(e.From)] {
				result.AddError(fmt.Sprintf("executionGraph.edges[%d].from", i),
					schema.ErrCodeValidation,
					fmt.Sprintf("edge references non-existent node %q", e.From))
			}
			if !nodes[identifier.Normalize(e.To)] {
				result.AddError(fmt.Sprintf("executionGraph.edges[%d].to", i),
					schema.ErrCodeValidation,
					fmt.Sprintf("edge references non-existent node %q", e.To))
			}
		}
	}

	// Reachability: every declared action should be triggerable. The
	// pipeline demotes this to a warning in lenient mode along with
	// everything else.
	reachable := repair.Reachable(m)
	unreachable := make([]string, 0)
	for _, a := range m.Actions {
		if !reachable[identifier.Normalize(a.ID)] {
			unreachable = append(unreachable, a.ID)
		}
	}
	sort.Strings(unreachable)
	for _, id := range unreachable {
		result.AddError(fmt.Sprintf("actionsAdded[%s]", id),
			schema.ErrCodeValidation,
			fmt.Sprintf("action %q is not reachable from any trigger source", id))
	}

	return result
}
