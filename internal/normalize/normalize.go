// Package normalize repairs structurally loose mutation shapes before the
// rest of the compiler pipeline runs. It never rejects input: the proposal
// is allowed to be incomplete at this point, so this stage only fills gaps.
package normalize

import "github.com/toolsmithhq/toolsmith/pkg/schema"

// Mutation coerces a loosely-shaped mutation into canonical form:
//   - a derivations table expressed as a list is rekeyed by each entry's
//     declared target name into a map
//   - a missing execution graph is initialized to {nodes: [], edges: []}
//   - missing top-level containers are initialized to empty
//
// The mutation is modified in place and returned for chaining. Idempotent:
// Mutation(Mutation(m)) == Mutation(m).
func Mutation(m *schema.Mutation) *schema.Mutation {
	if m == nil {
		return &schema.Mutation{
			Pages:      []schema.Page{},
			Components: []schema.Component{},
			Actions:    []schema.Action{},
			State:      map[string]any{},
			Graph:      &schema.ExecutionGraph{Nodes: []schema.Node{}, Edges: []schema.Edge{}},
		}
	}

	if m.Pages == nil {
		m.Pages = []schema.Page{}
	}
	if m.Components == nil {
		m.Components = []schema.Component{}
	}
	if m.Actions == nil {
		m.Actions = []schema.Action{}
	}
	if m.State == nil {
		m.State = map[string]any{}
	}
	if m.Graph == nil {
		m.Graph = &schema.ExecutionGraph{}
	}
	if m.Graph.Nodes == nil {
		m.Graph.Nodes = []schema.Node{}
	}
	if m.Graph.Edges == nil {
		m.Graph.Edges = []schema.Edge{}
	}

	if list, ok := m.State[schema.DerivationsKey].([]any); ok {
		m.State[schema.DerivationsKey] = rekeyDerivations(list)
	}

	return m
}

// rekeyDerivations converts a list-shaped derivations table into a map
// keyed by each entry's target. Entries without a non-empty string target
// cannot be addressed and are dropped.
func rekeyDerivations(list []any) map[string]any {
	table := make(map[string]any, len(list))
	for _, raw := range list {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		target, ok := entry["target"].(string)
		if !ok || target == "" {
			continue
		}
		table[target] = entry
	}
	return table
}
