// Package validation is the final gate before a mutation is materialized:
// a three-stage pipeline (structural JSON Schema, semantic reference and
// expression checks, graph checks) that raises structured issues rather
// than silently failing.
package validation

import (
	"github.com/toolsmithhq/toolsmith/internal/expressions"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// exprCheckers groups the compile-check engines by the expression dialect
// each graph element carries.
type exprCheckers struct {
	condition expressions.Engine // CEL
	transform expressions.Engine // jq
	guard     expressions.Engine // expr
}

// MutationValidator orchestrates the three-stage validation pipeline:
//  1. Structural (JSON Schema)
//  2. Semantic (duplicate ids, action refs, trigger bindings, expressions)
//  3. Graph (edge endpoints, reachability)
type MutationValidator struct {
	jsonSchema *JSONSchemaValidator
	checkers   *exprCheckers
}

// NewMutationValidator creates a MutationValidator with its expression
// engines and the pre-compiled mutation schema.
func NewMutationValidator() (*MutationValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &MutationValidator{
		jsonSchema: jsv,
		checkers: &exprCheckers{
			condition: celEngine,
			transform: expressions.NewGoJQEngine(),
			guard:     expressions.NewExprEngine(),
		},
	}, nil
}

// Decode converts an untrusted raw payload into the strict representation.
func (mv *MutationValidator) Decode(raw []byte) (*schema.Mutation, error) {
	return mv.jsonSchema.Decode(raw)
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
// In lenient mode every issue is demoted to a warning so a partially
// broken intermediate state can proceed; in strict mode errors abort
// materialization via ValidationResult.ToError.
func (mv *MutationValidator) Validate(m *schema.Mutation, prev *schema.ToolSpec, mode schema.ValidationMode) *schema.ValidationResult {
	result := mv.validate(m, prev)
	if mode == schema.ModeLenient {
		result.Demote()
	}
	return result
}

func (mv *MutationValidator) validate(m *schema.Mutation, prev *schema.ToolSpec) *schema.ValidationResult {
	if m == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "mutation is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(mv.jsonSchema, m)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(m, prev, mv.checkers))

	// Stage 3: Graph (skip if semantic errors — references may be invalid).
	if result.Valid() {
		result.Merge(validateGraph(m, prev))
	}

	return result
}

// validateStructural wraps JSONSchemaValidator.ValidateMutation, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, m *schema.Mutation) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateMutation(m)
	if err == nil {
		return result
	}

	terr, ok := err.(*schema.ToolsmithError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if terr.Details != nil {
		if violations, ok := terr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, terr.Message)
	return result
}
