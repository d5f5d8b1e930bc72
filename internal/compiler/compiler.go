// Package compiler wires the mutation pipeline end to end: decode,
// normalize, repair, validate, build the execution graph, and
// materialize the resulting tool spec against a previous version.
package compiler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/toolsmithhq/toolsmith/internal/graph"
	"github.com/toolsmithhq/toolsmith/internal/identifier"
	"github.com/toolsmithhq/toolsmith/internal/normalize"
	"github.com/toolsmithhq/toolsmith/internal/repair"
	"github.com/toolsmithhq/toolsmith/internal/validation"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// Compiler is the facade over the pipeline stages. Stages are pure and
// synchronous; a single Compiler is safe to share across goroutines.
type Compiler struct {
	validator *validation.MutationValidator
	logger    *slog.Logger
}

func New(logger *slog.Logger) (*Compiler, error) {
	v, err := validation.NewMutationValidator()
	if err != nil {
		return nil, err
	}
	return &Compiler{validator: v, logger: logger}, nil
}

// Decode converts an untrusted raw proposal into the strict mutation
// representation, rejecting structurally invalid input.
func (c *Compiler) Decode(raw []byte) (*schema.Mutation, error) {
	return c.validator.Decode(raw)
}

// Normalize fills missing containers and rekeys the derivations table.
func (c *Compiler) Normalize(m *schema.Mutation) *schema.Mutation {
	return normalize.Mutation(m)
}

// Repair binds orphaned actions, prunes hallucinated component
// references, and canonicalizes identifiers. Expects normalized input.
func (c *Compiler) Repair(m *schema.Mutation) *schema.Mutation {
	return repair.Mutation(m)
}

// BuildGraph projects the mutation into an execution DAG.
func (c *Compiler) BuildGraph(m *schema.Mutation, prev *schema.ToolSpec) (*schema.ExecutionGraph, *schema.ValidationResult) {
	return graph.Build(m, prev)
}

// Validate runs the structural, semantic, and graph checks.
func (c *Compiler) Validate(m *schema.Mutation, prev *schema.ToolSpec, mode schema.ValidationMode) *schema.ValidationResult {
	return c.validator.Validate(m, prev, mode)
}

// Compile runs the full pipeline and materializes a tool spec by
// applying the mutation on top of prev (nil for a new tool). The
// returned ValidationResult always carries whatever issues surfaced,
// including on failure.
func (c *Compiler) Compile(m *schema.Mutation, prev *schema.ToolSpec, mode schema.ValidationMode) (*schema.ToolSpec, *schema.ValidationResult, error) {
	m = c.Repair(c.Normalize(m))

	result := c.Validate(m, prev, mode)
	if !result.Valid() {
		return nil, result, result.ToError()
	}

	g, buildResult := c.BuildGraph(m, prev)
	result.Merge(buildResult)
	if !result.Valid() {
		// Graph-level failures (cycles) are never materializable,
		// regardless of validation mode.
		return nil, result, result.ToError()
	}

	checkTriggerConditions(m, prev, result)

	spec := applyMutation(prev, m, g)
	c.logger.Info("mutation compiled",
		slog.Int("pages", len(spec.Pages)),
		slog.Int("actions", len(spec.Actions)),
		slog.Int("graph_nodes", len(g.Nodes)),
		slog.Int("warnings", len(result.Warnings)),
	)
	return spec, result, nil
}

// applyMutation merges a repaired mutation into the previous spec:
// additions replace same-id entries and append otherwise, state keys
// from the mutation win, and the freshly built graph replaces the old
// one unless the mutation produced no nodes at all.
func applyMutation(prev *schema.ToolSpec, m *schema.Mutation, g *schema.ExecutionGraph) *schema.ToolSpec {
	spec := &schema.ToolSpec{Kind: schema.ToolSpecKindTool, Graph: g}
	if len(g.Nodes) == 0 && prev != nil && prev.Graph != nil {
		// A mutation that restates no actions (trigger or state tweaks
		// only) keeps the previously built graph.
		spec.Graph = prev.Graph
	}

	if prev != nil {
		spec.Pages = append(spec.Pages, prev.Pages...)
		spec.Components = append(spec.Components, prev.Components...)
		spec.Actions = append(spec.Actions, prev.Actions...)
		spec.Triggers = append(spec.Triggers, prev.Triggers...)
		spec.State = make(map[string]any, len(prev.State))
		for k, v := range prev.State {
			spec.State[k] = v
		}
	} else {
		spec.State = make(map[string]any)
	}

	for _, p := range m.Pages {
		spec.Pages = upsertPage(spec.Pages, p)
	}
	for _, comp := range m.Components {
		spec.Components = upsertComponent(spec.Components, comp)
	}
	for _, a := range m.Actions {
		spec.Actions = upsertAction(spec.Actions, a)
	}
	for k, v := range m.State {
		spec.State[k] = v
	}
	for _, trig := range m.Triggers {
		spec.Triggers = upsertTrigger(spec.Triggers, trig)
	}
	return spec
}

// checkTriggerConditions surfaces schedule problems as warnings: a cron
// expression the scheduler will fall back to the default interval on, or
// a binding to an action neither the mutation nor the previous spec
// defines. Neither blocks materialization.
func checkTriggerConditions(m *schema.Mutation, prev *schema.ToolSpec, result *schema.ValidationResult) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	known := make(map[string]bool, len(m.Actions))
	for _, a := range m.Actions {
		known[identifier.Normalize(a.ID)] = true
	}
	if prev != nil {
		for _, a := range prev.Actions {
			known[identifier.Normalize(a.ID)] = true
		}
	}

	for i, trig := range m.Triggers {
		if trig.Condition.Cron != "" {
			if _, err := parser.Parse(trig.Condition.Cron); err != nil {
				result.AddWarning(fmt.Sprintf("triggersAdded[%d].condition.cron", i),
					schema.ErrCodeValidation,
					fmt.Sprintf("cron expression %q is not a valid schedule; the default interval applies", trig.Condition.Cron))
			}
		}
		if trig.ActionID != "" && !known[identifier.Normalize(trig.ActionID)] {
			result.AddWarning(fmt.Sprintf("triggersAdded[%d].actionId", i),
				schema.ErrCodeValidation,
				fmt.Sprintf("trigger %q references action %q not defined by this tool", trig.ID, trig.ActionID))
		}
	}
}

func upsertPage(pages []schema.Page, p schema.Page) []schema.Page {
	id := identifier.Normalize(p.ID)
	for i := range pages {
		if identifier.Normalize(pages[i].ID) == id {
			pages[i] = p
			return pages
		}
	}
	return append(pages, p)
}

func upsertComponent(components []schema.Component, c schema.Component) []schema.Component {
	id := identifier.Normalize(c.ID)
	for i := range components {
		if identifier.Normalize(components[i].ID) == id {
			components[i] = c
			return components
		}
	}
	return append(components, c)
}

func upsertTrigger(triggers []schema.RecurringTrigger, t schema.RecurringTrigger) []schema.RecurringTrigger {
	t.ID = identifier.Normalize(t.ID)
	if t.ActionID != "" {
		t.ActionID = identifier.Normalize(t.ActionID)
	}
	if t.Kind == "" {
		t.Kind = schema.TriggerScheduleCron
	}
	for i := range triggers {
		if triggers[i].ID == t.ID {
			triggers[i] = t
			return triggers
		}
	}
	return append(triggers, t)
}

func upsertAction(actions []schema.Action, a schema.Action) []schema.Action {
	id := identifier.Normalize(a.ID)
	for i := range actions {
		if identifier.Normalize(actions[i].ID) == id {
			actions[i] = a
			return actions
		}
	}
	return append(actions, a)
}
