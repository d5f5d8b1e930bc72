package schema

import "encoding/json"

// ExecutionGraph is the DAG projection of a mutation: one node per action,
// edges for data dependencies and workflow ordering.
type ExecutionGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeKind enumerates the kinds of execution nodes.
type NodeKind string

const (
	NodeKindIntegrationCall NodeKind = "integration_call"
	NodeKindTransform       NodeKind = "transform"
	NodeKindCondition       NodeKind = "condition"
	NodeKindEmitEvent       NodeKind = "emit_event"
	NodeKindInit            NodeKind = "init" // synthetic entry node
)

// Node is a single execution step. Config carries the kind-specific block
// (IntegrationCallConfig, TransformConfig, ConditionConfig, EmitEventConfig).
type Node struct {
	ID     string          `json:"id"`
	Kind   NodeKind        `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
	Retry  *RetryPolicy    `json:"retry,omitempty"`
}

// Edge is a dependency or conditional flow between two nodes. Guard, when
// set, is an expr expression evaluated against tool state at dispatch time.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Guard string `json:"guard,omitempty"`
}

// RetryPolicy configures retry behavior for a node.
type RetryPolicy struct {
	Max     int    `json:"max"`
	Backoff string `json:"backoff,omitempty"` // none | linear | exponential (default: none)
	Delay   string `json:"delay,omitempty"`   // initial delay (e.g. "1s", "500ms")
}

// IntegrationCallConfig is the config block for integration_call nodes.
type IntegrationCallConfig struct {
	Integration string          `json:"integration"`
	Operation   string          `json:"operation"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// TransformConfig is the config block for transform nodes.
// Expression is a jq program applied to the node input.
type TransformConfig struct {
	Expression string `json:"expression"`
	Output     string `json:"output,omitempty"` // state key receiving the result
}

// ConditionConfig is the config block for condition nodes.
// Expression is a CEL expression evaluated against tool state.
type ConditionConfig struct {
	Expression string `json:"expression"`
}

// EmitEventConfig is the config block for emit_event nodes.
type EmitEventConfig struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NodeByID returns the node with the given ID, or nil.
func (g *ExecutionGraph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}
