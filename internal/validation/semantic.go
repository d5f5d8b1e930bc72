package validation

import (
	"encoding/json"
	"fmt"

	"github.com/toolsmithhq/toolsmith/internal/identifier"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// validateSemantic performs semantic analysis on a mutation: duplicate
// identifiers, event bindings referencing missing actions, workflow step
// references, trigger binding shape, and expression compile checks.
// prev, when non-nil, contributes already-materialized actions and
// components to the known-identifier sets (modifying an existing tool may
// legitimately reference them).
func validateSemantic(m *schema.Mutation, prev *schema.ToolSpec, checkers *exprCheckers) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	actions := knownActions(m, prev)
	components := knownComponents(m, prev)

	checkDuplicates(m, result)

	for i, p := range m.Pages {
		for j, e := range p.Events {
			if !actions[identifier.Normalize(e.ActionID)] {
				result.AddError(fmt.Sprintf("pagesAdded[%d].events[%d].actionId", i, j),
					schema.ErrCodeValidation,
					fmt.Sprintf("references non-existent action %q", e.ActionID))
			}
		}
	}
	for i, c := range m.Components {
		for j, e := range c.Events {
			if !actions[identifier.Normalize(e.ActionID)] {
				result.AddError(fmt.Sprintf("componentsAdded[%d].events[%d].actionId", i, j),
					schema.ErrCodeValidation,
					fmt.Sprintf("references non-existent action %q", e.ActionID))
			}
		}
	}

	for i := range m.Actions {
		path := fmt.Sprintf("actionsAdded[%d]", i)
		validateAction(&m.Actions[i], path, actions, components, checkers, result)
	}

	if m.Graph != nil {
		for i, n := range m.Graph.Nodes {
			validateNodeConfig(&n, fmt.Sprintf("executionGraph.nodes[%d]", i), checkers, result)
		}
		for i, e := range m.Graph.Edges {
			if e.Guard == "" {
				continue
			}
			if err := checkers.guard.Check(e.Guard); err != nil {
				result.AddError(fmt.Sprintf("executionGraph.edges[%d].guard", i),
					schema.ErrCodeValidation,
					fmt.Sprintf("guard does not compile: %v", err))
			}
		}
	}

	return result
}

// checkDuplicates raises one issue per duplicated page, component or
// action identifier. Comparison is normalization-insensitive, so two
// spellings of the same identifier collide.
func checkDuplicates(m *schema.Mutation, result *schema.ValidationResult) {
	seenPages := make(map[string]bool, len(m.Pages))
	for i, p := range m.Pages {
		id := identifier.Normalize(p.ID)
		if seenPages[id] {
			result.AddError(fmt.Sprintf("pagesAdded[%d].id", i),
				schema.ErrCodeValidation, fmt.Sprintf("duplicate page id %q", p.ID))
		}
		seenPages[id] = true
	}

	seenComponents := make(map[string]bool, len(m.Components))
	for i, c := range m.Components {
		id := identifier.Normalize(c.ID)
		if seenComponents[id] {
			result.AddError(fmt.Sprintf("componentsAdded[%d].id", i),
				schema.ErrCodeValidation, fmt.Sprintf("duplicate component id %q", c.ID))
		}
		seenComponents[id] = true
	}

	seenActions := make(map[string]bool, len(m.Actions))
	for i, a := range m.Actions {
		id := identifier.Normalize(a.ID)
		if seenActions[id] {
			result.AddError(fmt.Sprintf("actionsAdded[%d].id", i),
				schema.ErrCodeValidation, fmt.Sprintf("duplicate action id %q", a.ID))
		}
		seenActions[id] = true
	}
}

// validateAction checks one action: trigger binding shape, workflow step
// references, and kind-specific config expressions.
func validateAction(a *schema.Action, path string, actions, components map[string]bool, checkers *exprCheckers, result *schema.ValidationResult) {
	if tb := a.TriggeredBy; tb != nil {
		switch tb.Kind {
		case schema.TriggerKindLifecycle:
			// PageID optional: empty means tool-level lifecycle.
		case schema.TriggerKindComponentEvent:
			if tb.ComponentID == "" {
				result.AddError(path+".triggeredBy.componentId",
					schema.ErrCodeValidation, "component_event trigger requires componentId")
			} else if !components[identifier.Normalize(tb.ComponentID)] {
				result.AddError(path+".triggeredBy.componentId",
					schema.ErrCodeValidation,
					fmt.Sprintf("references non-existent component %q", tb.ComponentID))
			}
		case schema.TriggerKindStateChange:
			if tb.StateKey == "" {
				result.AddError(path+".triggeredBy.stateKey",
					schema.ErrCodeValidation, "state_change trigger requires stateKey")
			}
		default:
			result.AddError(path+".triggeredBy.kind",
				schema.ErrCodeValidation, fmt.Sprintf("unknown trigger kind %q", tb.Kind))
		}
	}

	if a.Kind == schema.ActionKindWorkflow {
		for j, step := range a.Steps {
			if !actions[identifier.Normalize(step)] {
				result.AddError(fmt.Sprintf("%s.steps[%d]", path, j),
					schema.ErrCodeValidation,
					fmt.Sprintf("references non-existent action %q", step))
			}
		}
	}

	validateActionConfig(a, path, checkers, result)
}

// validateActionConfig compile-checks the expressions carried by condition
// and transform actions.
func validateActionConfig(a *schema.Action, path string, checkers *exprCheckers, result *schema.ValidationResult) {
	if len(a.Config) == 0 {
		return
	}

	switch a.Kind {
	case schema.ActionKindCondition:
		var cfg schema.ConditionConfig
		if err := json.Unmarshal(a.Config, &cfg); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation,
				fmt.Sprintf("invalid condition config: %v", err))
			return
		}
		if cfg.Expression == "" {
			result.AddError(path+".config.expression",
				schema.ErrCodeValidation, "condition has no expression")
			return
		}
		if err := checkers.condition.Check(cfg.Expression); err != nil {
			result.AddError(path+".config.expression", schema.ErrCodeValidation,
				fmt.Sprintf("condition does not compile: %v", err))
		}

	case schema.ActionKindTransform:
		var cfg schema.TransformConfig
		if err := json.Unmarshal(a.Config, &cfg); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation,
				fmt.Sprintf("invalid transform config: %v", err))
			return
		}
		if cfg.Expression == "" {
			result.AddError(path+".config.expression",
				schema.ErrCodeValidation, "transform has no expression")
			return
		}
		if err := checkers.transform.Check(cfg.Expression); err != nil {
			result.AddError(path+".config.expression", schema.ErrCodeValidation,
				fmt.Sprintf("transform does not compile: %v", err))
		}
	}
}

// validateNodeConfig compile-checks expressions on proposal-supplied graph
// nodes and warns on excessive retry counts.
func validateNodeConfig(n *schema.Node, path string, checkers *exprCheckers, result *schema.ValidationResult) {
	if n.Retry != nil && n.Retry.Max > 10 {
		result.AddWarning(path+".retry.max", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", n.Retry.Max))
	}

	if len(n.Config) == 0 {
		return
	}

	switch n.Kind {
	case schema.NodeKindCondition:
		var cfg schema.ConditionConfig
		if err := json.Unmarshal(n.Config, &cfg); err == nil && cfg.Expression != "" {
			if err := checkers.condition.Check(cfg.Expression); err != nil {
				result.AddError(path+".config.expression", schema.ErrCodeValidation,
					fmt.Sprintf("condition does not compile: %v", err))
			}
		}
	case schema.NodeKindTransform:
		var cfg schema.TransformConfig
		if err := json.Unmarshal(n.Config, &cfg); err == nil && cfg.Expression != "" {
			if err := checkers.transform.Check(cfg.Expression); err != nil {
				result.AddError(path+".config.expression", schema.ErrCodeValidation,
					fmt.Sprintf("transform does not compile: %v", err))
			}
		}
	}
}

// knownActions builds the normalized action id set from the mutation and
// the previous spec.
func knownActions(m *schema.Mutation, prev *schema.ToolSpec) map[string]bool {
	known := make(map[string]bool, len(m.Actions))
	for _, a := range m.Actions {
		known[identifier.Normalize(a.ID)] = true
	}
	if prev != nil {
		for _, a := range prev.Actions {
			known[identifier.Normalize(a.ID)] = true
		}
	}
	return known
}

// knownComponents builds the normalized component id set from the mutation
// and the previous spec.
func knownComponents(m *schema.Mutation, prev *schema.ToolSpec) map[string]bool {
	known := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		known[identifier.Normalize(c.ID)] = true
	}
	if prev != nil {
		for _, c := range prev.Components {
			known[identifier.Normalize(c.ID)] = true
		}
	}
	return known
}
