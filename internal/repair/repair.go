package repair

import (
	"github.com/toolsmithhq/toolsmith/internal/identifier"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// Mutation repairs a normalized mutation in place and returns it:
//
//  1. Every action outside the reachable set gets a synthetic lifecycle
//     trigger so it fires once at tool load. Running uselessly beats
//     silently never running for a generated spec.
//  2. Component references to ids absent from componentsAdded are removed
//     from page component lists and from property bags, recursively
//     dropping containers emptied by the removal.
//  3. Action ids and every place an action id is referenced (trigger
//     bindings, page and component events) are normalized.
//
// Idempotent: repairing twice produces the same output as repairing once.
func Mutation(m *schema.Mutation) *schema.Mutation {
	if m == nil {
		return nil
	}

	bindOrphans(m)
	pruneComponentRefs(m)
	normalizeIdentifiers(m)

	return m
}

// bindOrphans attaches a synthetic lifecycle trigger to every action that
// is not reachable from a trigger source.
func bindOrphans(m *schema.Mutation) {
	reachable := Reachable(m)
	for i := range m.Actions {
		if reachable[identifier.Normalize(m.Actions[i].ID)] {
			continue
		}
		m.Actions[i].TriggeredBy = &schema.TriggerBinding{
			Kind:  schema.TriggerKindLifecycle,
			Event: schema.LifecycleEventLoad,
		}
	}
}

// pruneComponentRefs removes references to component ids that do not exist
// in componentsAdded (hallucination cleanup).
func pruneComponentRefs(m *schema.Mutation) {
	known := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		known[identifier.Normalize(c.ID)] = true
	}

	for i := range m.Pages {
		kept := m.Pages[i].Components[:0]
		for _, ref := range m.Pages[i].Components {
			if known[identifier.Normalize(ref)] {
				kept = append(kept, ref)
			}
		}
		m.Pages[i].Components = kept
	}

	for i := range m.Components {
		m.Components[i].Properties = pruneBag(m.Components[i].Properties, known)
	}
}

// pruneBag walks a property bag, removing component references to unknown
// ids and recursively removing containers emptied by a removal. Containers
// that held nothing to begin with are left alone.
func pruneBag(bag map[string]any, known map[string]bool) map[string]any {
	pruned, _ := pruneBagTracked(bag, known)
	return pruned
}

// pruneBagTracked prunes the bag in place. The second return reports
// whether any value was removed; the bag collapses to nil only when a
// removal left it empty.
func pruneBagTracked(bag map[string]any, known map[string]bool) (map[string]any, bool) {
	if bag == nil {
		return nil, false
	}
	changed := false
	for key, val := range bag {
		pruned, keep, ch := pruneValue(val, known)
		if !keep {
			delete(bag, key)
			changed = true
			continue
		}
		if ch {
			changed = true
		}
		bag[key] = pruned
	}
	if changed && len(bag) == 0 {
		return nil, true
	}
	return bag, changed
}

// pruneValue prunes one property value. The second return is false when the
// value must be dropped entirely; the third reports whether pruning touched
// anything inside it.
func pruneValue(val any, known map[string]bool) (any, bool, bool) {
	switch v := val.(type) {
	case map[string]any:
		if ref, ok := v[schema.ComponentRefKey].(string); ok {
			if !known[identifier.Normalize(ref)] {
				return nil, false, true
			}
			return v, true, false
		}
		pruned, changed := pruneBagTracked(v, known)
		if changed && pruned == nil {
			return nil, false, true
		}
		return pruned, true, changed
	case []any:
		kept := v[:0]
		changed := false
		for _, item := range v {
			pruned, keep, ch := pruneValue(item, known)
			if !keep || ch {
				changed = true
			}
			if keep {
				kept = append(kept, pruned)
			}
		}
		if changed && len(kept) == 0 {
			return nil, false, true
		}
		return kept, true, changed
	default:
		return val, true, false
	}
}

// normalizeIdentifiers canonicalizes every action id and every reference
// to an action id.
func normalizeIdentifiers(m *schema.Mutation) {
	for i := range m.Actions {
		m.Actions[i].ID = identifier.Normalize(m.Actions[i].ID)
		for j, step := range m.Actions[i].Steps {
			m.Actions[i].Steps[j] = identifier.Normalize(step)
		}
	}
	for i := range m.Pages {
		for j := range m.Pages[i].Events {
			m.Pages[i].Events[j].ActionID = identifier.Normalize(m.Pages[i].Events[j].ActionID)
		}
	}
	for i := range m.Components {
		for j := range m.Components[i].Events {
			m.Components[i].Events[j].ActionID = identifier.Normalize(m.Components[i].Events[j].ActionID)
		}
	}
}
