package validation

import (
	"encoding/json"

	"github.com/rendis/statecascade/pkg/schema"
)

// ImportValidator runs the two-stage import validation:
// 1. Structural (JSON Schema)
// 2. Semantic (references, duplicates, initial states)
type ImportValidator struct {
	jsonSchema *JSONSchemaValidator
	lookup     WorkflowLookup
}

// NewImportValidator creates an ImportValidator. lookup may be nil; workflows
// referenced by the document must then be defined in it.
func NewImportValidator(lookup WorkflowLookup) (*ImportValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ImportValidator{jsonSchema: jsv, lookup: lookup}, nil
}

// Validate decodes raw and returns the document with every issue found.
// Structural errors short-circuit: the semantic stage is skipped and the
// document is nil.
func (iv *ImportValidator) Validate(raw []byte) (*schema.ImportDocument, *schema.ValidationResult) {
	result := validateStructural(iv.jsonSchema, raw)
	if !result.Valid() {
		return nil, result
	}

	var doc schema.ImportDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, result
	}

	result.Merge(validateSemantic(&doc, iv.lookup))
	return &doc, result
}

// ValidateImport satisfies the Validator interface.
func (iv *ImportValidator) ValidateImport(raw []byte) (*schema.ImportDocument, error) {
	doc, result := iv.Validate(raw)
	if err := result.ToError(); err != nil {
		return nil, err
	}
	return doc, nil
}

// validateStructural converts JSONSchemaValidator output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, raw []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateRaw(raw)
	if err == nil {
		return result
	}

	ce, ok := err.(*schema.CascadeError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := ce.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, ce.Message)
	return result
}

var _ Validator = (*ImportValidator)(nil)
