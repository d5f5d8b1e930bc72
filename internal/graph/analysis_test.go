package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

func node(id string) schema.Node {
	return schema.Node{ID: id, Kind: schema.NodeKindIntegrationCall}
}

func TestAnalyzeTopologicalOrder(t *testing.T) {
	g := &schema.ExecutionGraph{
		Nodes: []schema.Node{node("a"), node("b"), node("c"), node("d")},
		Edges: []schema.Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
			{From: "c", To: "d"},
		},
	}

	a, err := Analyze(g)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, a.Roots)
	require.Len(t, a.Sorted, 4)
	assert.Equal(t, "a", a.Sorted[0])
	assert.Equal(t, "d", a.Sorted[3])

	require.Len(t, a.Levels, 3)
	assert.Equal(t, []string{"a"}, a.Levels[0])
	assert.ElementsMatch(t, []string{"b", "c"}, a.Levels[1])
	assert.Equal(t, []string{"d"}, a.Levels[2])
}

func TestAnalyzeDetectsCycle(t *testing.T) {
	g := &schema.ExecutionGraph{
		Nodes: []schema.Node{node("a"), node("b")},
		Edges: []schema.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}

	_, err := Analyze(g)
	require.Error(t, err)
	terr := err.(*schema.ToolsmithError)
	assert.Equal(t, schema.ErrCodeCycleDetected, terr.Code)
}

func TestAnalyzeSelfDependency(t *testing.T) {
	g := &schema.ExecutionGraph{
		Nodes: []schema.Node{node("a")},
		Edges: []schema.Edge{{From: "a", To: "a"}},
	}

	_, err := Analyze(g)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, err.(*schema.ToolsmithError).Code)
}

func TestAnalyzeRejectsDanglingEdge(t *testing.T) {
	g := &schema.ExecutionGraph{
		Nodes: []schema.Node{node("a")},
		Edges: []schema.Edge{{From: "a", To: "missing"}},
	}

	_, err := Analyze(g)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.ToolsmithError).Code)
}

func TestAnalyzeRejectsDuplicateNodeIDs(t *testing.T) {
	g := &schema.ExecutionGraph{
		Nodes: []schema.Node{node("a"), node("a")},
	}

	_, err := Analyze(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestAnalyzeEmptyGraph(t *testing.T) {
	a, err := Analyze(&schema.ExecutionGraph{})
	require.NoError(t, err)
	assert.Empty(t, a.Sorted)
	assert.Empty(t, a.Roots)
}

func TestAnalyzeNilGraph(t *testing.T) {
	_, err := Analyze(nil)
	require.Error(t, err)
}
