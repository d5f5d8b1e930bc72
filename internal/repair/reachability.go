// Package repair turns a normalized mutation into one whose actions are all
// provably triggerable: orphan actions are bound to a lifecycle trigger,
// hallucinated component references are pruned, and identifiers are
// canonicalized. The analysis half of the package computes which actions
// are reachable from a trigger source.
package repair

import (
	"github.com/toolsmithhq/toolsmith/internal/identifier"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// Reachable computes the set of action identifiers transitively triggerable
// from any known trigger source. The returned set is keyed by normalized
// action ID.
//
// Seeds: actions fired by a lifecycle event (page optional, but a named
// page must exist), actions fired by a component event on an existing
// component, and actions referenced by an event binding on an existing page
// or component. The fixed-point pass then adds actions watching a state key
// that is present in initial state or written by an already-reachable
// action, until no new actions are added.
func Reachable(m *schema.Mutation) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}

	pages := make(map[string]bool, len(m.Pages))
	for _, p := range m.Pages {
		pages[identifier.Normalize(p.ID)] = true
	}
	components := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		components[identifier.Normalize(c.ID)] = true
	}

	reachable := make(map[string]bool, len(m.Actions))

	// Seed from trigger descriptors.
	for _, a := range m.Actions {
		id := identifier.Normalize(a.ID)
		if a.TriggeredBy == nil {
			continue
		}
		switch a.TriggeredBy.Kind {
		case schema.TriggerKindLifecycle:
			if a.TriggeredBy.PageID == "" || pages[identifier.Normalize(a.TriggeredBy.PageID)] {
				reachable[id] = true
			}
		case schema.TriggerKindComponentEvent:
			if components[identifier.Normalize(a.TriggeredBy.ComponentID)] {
				reachable[id] = true
			}
		}
	}

	// Seed from event bindings declared on pages and components.
	actionIDs := make(map[string]bool, len(m.Actions))
	for _, a := range m.Actions {
		actionIDs[identifier.Normalize(a.ID)] = true
	}
	seedBindings := func(events []schema.EventBinding) {
		for _, e := range events {
			id := identifier.Normalize(e.ActionID)
			if actionIDs[id] {
				reachable[id] = true
			}
		}
	}
	for _, p := range m.Pages {
		seedBindings(p.Events)
	}
	for _, c := range m.Components {
		seedBindings(c.Events)
	}

	// Fixed point over state-change watchers. Terminates because the action
	// set is finite and the reachable set grows monotonically.
	for {
		written := writtenKeys(m, reachable)
		grew := false
		for _, a := range m.Actions {
			id := identifier.Normalize(a.ID)
			if reachable[id] || a.TriggeredBy == nil || a.TriggeredBy.Kind != schema.TriggerKindStateChange {
				continue
			}
			key := a.TriggeredBy.StateKey
			if key == "" {
				continue
			}
			if _, inState := m.State[key]; inState || written[key] {
				reachable[id] = true
				grew = true
			}
		}
		if !grew {
			return reachable
		}
	}
}

// writtenKeys collects the state keys written by reachable actions.
func writtenKeys(m *schema.Mutation, reachable map[string]bool) map[string]bool {
	written := make(map[string]bool)
	for _, a := range m.Actions {
		if !reachable[identifier.Normalize(a.ID)] {
			continue
		}
		for _, k := range a.Writes {
			written[k] = true
		}
	}
	return written
}
