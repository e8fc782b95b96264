package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/statecascade/pkg/schema"
)

const importSchemaURL = "https://statecascade.dev/schemas/import.json"

// importSchemaJSON is the JSON Schema for import documents.
const importSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://statecascade.dev/schemas/import.json",
  "type": "object",
  "properties": {
    "workflows": {
      "type": "array",
      "items": { "$ref": "#/$defs/workflow" }
    },
    "items": {
      "type": "array",
      "items": { "$ref": "#/$defs/item" }
    },
    "renderings": {
      "type": "array",
      "items": { "$ref": "#/$defs/rendering" }
    },
    "assignments": {
      "type": "array",
      "items": { "$ref": "#/$defs/assignment" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "id": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[^\\s]+$"
    },
    "workflow": {
      "type": "object",
      "required": ["id", "name", "states"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "name": { "type": "string", "minLength": 1 },
        "initial_state_id": { "type": "string" },
        "states": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/state" }
        }
      },
      "additionalProperties": false
    },
    "state": {
      "type": "object",
      "required": ["id", "display_name"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "display_name": { "type": "string", "minLength": 1 },
        "terminal": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "field": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["text", "rich_text", "image", "link", "number", "checkbox"]
        },
        "value": { "type": "string" }
      },
      "additionalProperties": false
    },
    "item": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "name": { "type": "string", "minLength": 1 },
        "fields": {
          "type": "array",
          "items": { "$ref": "#/$defs/field" }
        },
        "locked": { "type": "boolean" },
        "locked_by": { "type": "string" },
        "read_only": { "type": "boolean" },
        "workflow_id": { "type": "string" },
        "workflow_state_id": { "type": "string" },
        "children": {
          "type": "array",
          "items": { "$ref": "#/$defs/item" }
        }
      },
      "additionalProperties": false
    },
    "rendering": {
      "type": "object",
      "required": ["item_id", "rendering_id"],
      "properties": {
        "item_id": { "$ref": "#/$defs/id" },
        "rendering_id": { "type": "string", "minLength": 1 },
        "device": { "type": "string" },
        "placeholder": { "type": "string" },
        "data_source": { "type": "string" },
        "sort_order": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "assignment": {
      "type": "object",
      "required": ["item_id", "workflow_id"],
      "properties": {
        "item_id": { "$ref": "#/$defs/id" },
        "workflow_id": { "$ref": "#/$defs/id" },
        "state_id": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks the structure of import documents against the
// embedded JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	importSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the import schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(importSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal import schema: %w", err)
	}
	if err := c.AddResource(importSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add import schema resource: %w", err)
	}
	compiled, err := c.Compile(importSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile import schema: %w", err)
	}
	return &JSONSchemaValidator{importSchema: compiled}, nil
}

// ValidateRaw validates a raw JSON document.
func (v *JSONSchemaValidator) ValidateRaw(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "import document is not valid JSON").WithCause(err)
	}
	if err := v.importSchema.Validate(doc); err != nil {
		return toCascadeError(err)
	}
	return nil
}

// ValidateDocument validates an already decoded document.
func (v *JSONSchemaValidator) ValidateDocument(doc *schema.ImportDocument) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "import document is nil")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize import document").WithCause(err)
	}
	return v.ValidateRaw(raw)
}

// toCascadeError converts a jsonschema.ValidationError into a VALIDATION_ERROR
// listing every leaf violation.
func toCascadeError(err error) *schema.CascadeError {
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

// collectViolations walks a ValidationError tree and collects leaf messages
// prefixed with their instance location.
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
