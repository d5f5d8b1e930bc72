package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// mutationSchemaJSON is the JSON Schema for Mutation validation. It guards
// the untrusted boundary: the upstream proposal is allowed to be
// incomplete, so everything is optional, but present values must have the
// right shape. Embedded as a constant to avoid filesystem dependencies.
const mutationSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://toolsmith.dev/schemas/mutation.json",
  "type": "object",
  "properties": {
    "pagesAdded": {
      "type": "array",
      "items": { "$ref": "#/$defs/page" }
    },
    "componentsAdded": {
      "type": "array",
      "items": { "$ref": "#/$defs/component" }
    },
    "actionsAdded": {
      "type": "array",
      "items": { "$ref": "#/$defs/action" }
    },
    "state": { "type": "object" },
    "executionGraph": { "$ref": "#/$defs/graph" },
    "triggersAdded": {
      "type": "array",
      "items": { "$ref": "#/$defs/recurring_trigger" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "page": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "title": { "type": "string" },
        "components": {
          "type": "array",
          "items": { "type": "string" }
        },
        "events": {
          "type": "array",
          "items": { "$ref": "#/$defs/event_binding" }
        }
      },
      "additionalProperties": false
    },
    "component": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string" },
        "properties": { "type": "object" },
        "events": {
          "type": "array",
          "items": { "$ref": "#/$defs/event_binding" }
        }
      },
      "additionalProperties": false
    },
    "event_binding": {
      "type": "object",
      "required": ["event", "actionId"],
      "properties": {
        "event": { "type": "string", "minLength": 1 },
        "actionId": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["integration_call", "transform", "condition", "emit_event", "workflow"]
        },
        "triggeredBy": { "$ref": "#/$defs/trigger_binding" },
        "config": {},
        "reads": {
          "type": "array",
          "items": { "type": "string" }
        },
        "writes": {
          "type": "array",
          "items": { "type": "string" }
        },
        "steps": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    },
    "trigger_binding": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {
          "type": "string",
          "enum": ["lifecycle", "component_event", "state_change"]
        },
        "pageId": { "type": "string" },
        "componentId": { "type": "string" },
        "event": { "type": "string" },
        "stateKey": { "type": "string" }
      },
      "additionalProperties": false
    },
    "graph": {
      "type": "object",
      "properties": {
        "nodes": {
          "type": "array",
          "items": { "$ref": "#/$defs/node" }
        },
        "edges": {
          "type": "array",
          "items": { "$ref": "#/$defs/edge" }
        }
      },
      "additionalProperties": false
    },
    "node": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["integration_call", "transform", "condition", "emit_event", "init"]
        },
        "config": {},
        "retry": { "$ref": "#/$defs/retry" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["from", "to"],
      "properties": {
        "from": { "type": "string", "minLength": 1 },
        "to": { "type": "string", "minLength": 1 },
        "guard": { "type": "string" }
      },
      "additionalProperties": false
    },
    "recurring_trigger": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "enabled": { "type": "boolean" },
        "kind": {
          "type": "string",
          "enum": ["cron", "manual"]
        },
        "condition": {
          "type": "object",
          "properties": {
            "cron": { "type": "string" },
            "intervalMinutes": { "type": "integer", "minimum": 0 },
            "failureThreshold": { "type": "integer", "minimum": 0 }
          },
          "additionalProperties": false
        },
        "actionId": { "type": "string" },
        "workflowId": { "type": "string" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max"],
      "properties": {
        "max": { "type": "integer", "minimum": 0 },
        "backoff": {
          "type": "string",
          "enum": ["none", "linear", "exponential", "constant"]
        },
        "delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates raw mutation payloads against the mutation
// JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	mutationSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the mutation
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(mutationSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal mutation schema: %w", err)
	}
	if err := c.AddResource("https://toolsmith.dev/schemas/mutation.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add mutation schema resource: %w", err)
	}

	compiled, err := c.Compile("https://toolsmith.dev/schemas/mutation.json")
	if err != nil {
		return nil, fmt.Errorf("compile mutation schema: %w", err)
	}

	return &JSONSchemaValidator{mutationSchema: compiled}, nil
}

// ValidateMutation validates an in-memory mutation against the schema by
// round-tripping it through JSON.
func (v *JSONSchemaValidator) ValidateMutation(m *schema.Mutation) error {
	if m == nil {
		return schema.NewError(schema.ErrCodeValidation, "mutation is nil")
	}

	doc, err := toJSONValue(m)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize mutation").WithCause(err)
	}

	if err := v.mutationSchema.Validate(doc); err != nil {
		return toToolsmithError(err)
	}
	return nil
}

// Decode converts an untrusted raw payload into the strict internal
// representation, validating it against the mutation schema first. This is
// the single point where loosely-typed proposal input becomes typed.
func (v *JSONSchemaValidator) Decode(raw []byte) (*schema.Mutation, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "mutation is not valid JSON").WithCause(err)
	}

	if err := v.mutationSchema.Validate(doc); err != nil {
		return nil, toToolsmithError(err)
	}

	var m schema.Mutation
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to decode mutation").WithCause(err)
	}
	return &m, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// toToolsmithError converts a jsonschema.ValidationError into a
// ToolsmithError with clear, actionable messages.
func toToolsmithError(err error) *schema.ToolsmithError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
