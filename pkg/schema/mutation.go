package schema

import "encoding/json"

// Mutation is the unit of proposed change produced by the upstream proposal
// generator. It is allowed to arrive malformed: duplicate identifiers,
// missing containers and dangling references are expected before repair.
type Mutation struct {
	Pages      []Page          `json:"pagesAdded,omitempty"`
	Components []Component     `json:"componentsAdded,omitempty"`
	Actions    []Action        `json:"actionsAdded,omitempty"`
	State      map[string]any  `json:"state,omitempty"`
	Graph      *ExecutionGraph `json:"executionGraph,omitempty"`

	// Triggers are recurring schedule rules to attach to the tool. They
	// ride along with the mutation but are consumed by the scheduler, not
	// the execution graph.
	Triggers []RecurringTrigger `json:"triggersAdded,omitempty"`
}

// DerivationsKey is the reserved state key holding the derivations table.
// The normalizer rekeys a list-shaped table into a map keyed by target.
const DerivationsKey = "__derivations"

// Derivation computes a derived state value from other state keys.
type Derivation struct {
	Target     string   `json:"target"`
	Expression string   `json:"expression,omitempty"`
	Inputs     []string `json:"inputs,omitempty"`
}

// Page is a top-level page with component references and event bindings.
type Page struct {
	ID         string         `json:"id"`
	Title      string         `json:"title,omitempty"`
	Components []string       `json:"components,omitempty"` // component IDs
	Events     []EventBinding `json:"events,omitempty"`
}

// Component is a UI component declared in componentsAdded. Its property bag
// may nest references to other components (see ComponentRefKey).
type Component struct {
	ID         string         `json:"id"`
	Type       string         `json:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Events     []EventBinding `json:"events,omitempty"`
}

// ComponentRefKey marks a map inside a property bag as a component
// reference: {"componentId": "<id>"}. The repairer prunes references to
// components absent from componentsAdded.
const ComponentRefKey = "componentId"

// EventBinding binds a page or component event name to an action ID.
type EventBinding struct {
	Event    string `json:"event"`
	ActionID string `json:"actionId"`
}

// LifecycleEventLoad is the page lifecycle event fired once at tool load.
// Orphan actions are auto-bound to it during repair.
const LifecycleEventLoad = "load"

// ActionKind enumerates the kinds of actions in a mutation.
type ActionKind string

const (
	ActionKindIntegrationCall ActionKind = "integration_call"
	ActionKindTransform       ActionKind = "transform"
	ActionKindCondition       ActionKind = "condition"
	ActionKindEmitEvent       ActionKind = "emit_event"
	ActionKindWorkflow        ActionKind = "workflow"
)

// Action is a declared action: what it does (Kind + Config), what fires it
// (TriggeredBy), and its declared data dependencies (Reads/Writes).
type Action struct {
	ID          string          `json:"id"`
	Kind        ActionKind      `json:"kind,omitempty"` // default: integration_call
	TriggeredBy *TriggerBinding `json:"triggeredBy,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Reads       []string        `json:"reads,omitempty"`  // state keys read
	Writes      []string        `json:"writes,omitempty"` // state keys written
	Steps       []string        `json:"steps,omitempty"`  // ordered child action IDs (workflow kind)
}

// TriggerKind enumerates the sources that can fire an action.
type TriggerKind string

const (
	TriggerKindLifecycle      TriggerKind = "lifecycle"
	TriggerKindComponentEvent TriggerKind = "component_event"
	TriggerKindStateChange    TriggerKind = "state_change"
)

// TriggerBinding tags an action with exactly one trigger source. Only the
// fields relevant to Kind are set:
//   - lifecycle:       PageID (optional) + Event
//   - component_event: ComponentID + Event
//   - state_change:    StateKey
type TriggerBinding struct {
	Kind        TriggerKind `json:"kind"`
	PageID      string      `json:"pageId,omitempty"`
	ComponentID string      `json:"componentId,omitempty"`
	Event       string      `json:"event,omitempty"`
	StateKey    string      `json:"stateKey,omitempty"`
}

// ToolSpecKind distinguishes executable tool specs from inert ones.
type ToolSpecKind string

const (
	ToolSpecKindTool  ToolSpecKind = "tool" // executable, eligible for scheduling
	ToolSpecKindDraft ToolSpecKind = "draft"
)

// ToolSpec is the materialized specification of a tool: the repaired
// mutation content plus its execution graph and recurring triggers.
type ToolSpec struct {
	Kind       ToolSpecKind       `json:"kind"`
	Pages      []Page             `json:"pages,omitempty"`
	Components []Component        `json:"components,omitempty"`
	Actions    []Action           `json:"actions,omitempty"`
	State      map[string]any     `json:"state,omitempty"`
	Graph      *ExecutionGraph    `json:"executionGraph,omitempty"`
	Triggers   []RecurringTrigger `json:"triggers,omitempty"`
}

// Executable reports whether the spec kind is eligible for scheduling.
func (s *ToolSpec) Executable() bool {
	return s != nil && s.Kind == ToolSpecKindTool
}

// ActionByID returns the action with the given ID, or nil.
func (s *ToolSpec) ActionByID(id string) *Action {
	for i := range s.Actions {
		if s.Actions[i].ID == id {
			return &s.Actions[i]
		}
	}
	return nil
}
