package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

func newValidator(t *testing.T) *MutationValidator {
	t.Helper()
	mv, err := NewMutationValidator()
	require.NoError(t, err)
	return mv
}

func TestValidateCleanMutation(t *testing.T) {
	mv := newValidator(t)
	m := &schema.Mutation{
		Pages: []schema.Page{{
			ID:     "home",
			Events: []schema.EventBinding{{Event: "load", ActionID: "fetch_data"}},
		}},
		Actions: []schema.Action{{
			ID:   "fetch_data",
			Kind: schema.ActionKindIntegrationCall,
			TriggeredBy: &schema.TriggerBinding{
				Kind:   schema.TriggerKindLifecycle,
				PageID: "home",
				Event:  schema.LifecycleEventLoad,
			},
		}},
	}

	result := mv.Validate(m, nil, schema.ModeStrict)
	assert.True(t, result.Valid(), "errors: %+v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateMissingActionStrictVsLenient(t *testing.T) {
	mv := newValidator(t)
	build := func() *schema.Mutation {
		return &schema.Mutation{
			Pages: []schema.Page{{
				ID:     "home",
				Events: []schema.EventBinding{{Event: "load", ActionID: "no_such_action"}},
			}},
		}
	}

	strict := mv.Validate(build(), nil, schema.ModeStrict)
	require.False(t, strict.Valid())
	assert.Contains(t, strict.Errors[0].Message, "no_such_action")

	lenient := mv.Validate(build(), nil, schema.ModeLenient)
	assert.True(t, lenient.Valid(), "lenient mode must not raise")
	assert.NotEmpty(t, lenient.Warnings, "issues still surface as warnings")
	require.NoError(t, lenient.ToError())
}

func TestValidateDuplicateIdentifiers(t *testing.T) {
	mv := newValidator(t)
	m := &schema.Mutation{
		Actions: []schema.Action{
			{ID: "fetch_data", TriggeredBy: &schema.TriggerBinding{Kind: schema.TriggerKindLifecycle}},
			{ID: "Fetch-Data", TriggeredBy: &schema.TriggerBinding{Kind: schema.TriggerKindLifecycle}},
		},
	}

	result := mv.Validate(m, nil, schema.ModeStrict)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate action id")
}

func TestValidateEdgeReferencesMissingNode(t *testing.T) {
	mv := newValidator(t)
	m := &schema.Mutation{
		Actions: []schema.Action{{
			ID:          "fetch",
			Kind:        schema.ActionKindIntegrationCall,
			TriggeredBy: &schema.TriggerBinding{Kind: schema.TriggerKindLifecycle},
		}},
		Graph: &schema.ExecutionGraph{
			Edges: []schema.Edge{{From: "fetch", To: "phantom_node"}},
		},
	}

	result := mv.Validate(m, nil, schema.ModeStrict)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "phantom_node")
}

func TestValidateUnreachableActionStrict(t *testing.T) {
	mv := newValidator(t)
	m := &schema.Mutation{
		Actions: []schema.Action{{ID: "orphan", Kind: schema.ActionKindIntegrationCall}},
	}

	strict := mv.Validate(m, nil, schema.ModeStrict)
	require.False(t, strict.Valid())
	assert.Contains(t, strict.Errors[0].Message, "not reachable")

	lenient := mv.Validate(m, nil, schema.ModeLenient)
	assert.True(t, lenient.Valid())
}

func TestValidatePreviousSpecResolvesReferences(t *testing.T) {
	mv := newValidator(t)
	prev := &schema.ToolSpec{
		Kind:    schema.ToolSpecKindTool,
		Actions: []schema.Action{{ID: "existing_action"}},
	}
	m := &schema.Mutation{
		Pages: []schema.Page{{
			ID:     "settings",
			Events: []schema.EventBinding{{Event: "load", ActionID: "existing_action"}},
		}},
	}

	result := mv.Validate(m, prev, schema.ModeStrict)
	assert.True(t, result.Valid(), "errors: %+v", result.Errors)
}

func TestValidateComponentEventTriggerShape(t *testing.T) {
	mv := newValidator(t)
	m := &schema.Mutation{
		Actions: []schema.Action{{
			ID:          "on_click",
			TriggeredBy: &schema.TriggerBinding{Kind: schema.TriggerKindComponentEvent, Event: "click"},
		}},
	}

	result := mv.Validate(m, nil, schema.ModeStrict)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "requires componentId")
}

func TestValidateConditionExpressionCompile(t *testing.T) {
	mv := newValidator(t)
	m := &schema.Mutation{
		Actions: []schema.Action{{
			ID:          "gate",
			Kind:        schema.ActionKindCondition,
			TriggeredBy: &schema.TriggerBinding{Kind: schema.TriggerKindLifecycle},
			Config:      json.RawMessage(`{"expression": "state.count >>> 1"}`),
		}},
	}

	result := mv.Validate(m, nil, schema.ModeStrict)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "does not compile")
}

func TestValidateTransformExpressionCompile(t *testing.T) {
	mv := newValidator(t)
	good := &schema.Mutation{
		Actions: []schema.Action{{
			ID:          "reshape",
			Kind:        schema.ActionKindTransform,
			TriggeredBy: &schema.TriggerBinding{Kind: schema.TriggerKindLifecycle},
			Config:      json.RawMessage(`{"expression": "[.items[].qty] | add", "output": "data.total"}`),
		}},
	}
	assert.True(t, mv.Validate(good, nil, schema.ModeStrict).Valid())

	bad := &schema.Mutation{
		Actions: []schema.Action{{
			ID:          "reshape",
			Kind:        schema.ActionKindTransform,
			TriggeredBy: &schema.TriggerBinding{Kind: schema.TriggerKindLifecycle},
			Config:      json.RawMessage(`{"expression": ".[[["}`),
		}},
	}
	assert.False(t, mv.Validate(bad, nil, schema.ModeStrict).Valid())
}

func TestValidateEdgeGuardCompile(t *testing.T) {
	mv := newValidator(t)
	m := &schema.Mutation{
		Graph: &schema.ExecutionGraph{
			Nodes: []schema.Node{
				{ID: "a", Kind: schema.NodeKindIntegrationCall},
				{ID: "b", Kind: schema.NodeKindIntegrationCall},
			},
			Edges: []schema.Edge{{From: "a", To: "b", Guard: "state.ok and ("}},
		},
	}

	result := mv.Validate(m, nil, schema.ModeStrict)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "guard does not compile")
}

func TestValidateNilMutation(t *testing.T) {
	mv := newValidator(t)
	result := mv.Validate(nil, nil, schema.ModeStrict)
	require.False(t, result.Valid())
}

func TestDecodeRejectsWrongShape(t *testing.T) {
	mv := newValidator(t)

	_, err := mv.Decode([]byte(`{"actionsAdded": [{"id": 42}]}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.ToolsmithError).Code)

	_, err = mv.Decode([]byte(`{not json`))
	require.Error(t, err)
}

func TestDecodeAcceptsLooseButWellTypedInput(t *testing.T) {
	mv := newValidator(t)

	m, err := mv.Decode([]byte(`{
		"pagesAdded": [{"id": "Home Page"}],
		"actionsAdded": [{"id": "Fetch-Data", "kind": "integration_call"}],
		"state": {"__derivations": [{"target": "total", "expression": "add"}]}
	}`))
	require.NoError(t, err)
	require.Len(t, m.Actions, 1)
	assert.Equal(t, "Fetch-Data", m.Actions[0].ID, "decode does not normalize; the repairer does")
}
