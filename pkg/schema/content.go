package schema

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// FieldType tags the kind of value a field holds.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeRichText FieldType = "rich_text"
	FieldTypeImage    FieldType = "image"
	FieldTypeLink     FieldType = "link"
	FieldTypeNumber   FieldType = "number"
	FieldTypeCheckbox FieldType = "checkbox"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeText, FieldTypeRichText, FieldTypeImage, FieldTypeLink, FieldTypeNumber, FieldTypeCheckbox:
		return true
	}
	return false
}

// Field is one typed value on an item.
type Field struct {
	Name  string    `json:"name"`
	Type  FieldType `json:"type"`
	Value string    `json:"value"`
}

// MediaReference names an external binary asset held in the content store.
type MediaReference struct {
	MediaID string `json:"media_id"`
}

var mediaIDAttr = regexp.MustCompile(`mediaid\s*=\s*"([^"]*)"`)

// MediaReference returns the media reference exposed by the field. Only image
// fields with a non-empty value expose one.
func (f Field) MediaReference() (MediaReference, bool) {
	if f.Type != FieldTypeImage {
		return MediaReference{}, false
	}
	v := strings.TrimSpace(f.Value)
	if v == "" {
		return MediaReference{}, false
	}
	if strings.HasPrefix(v, "<") {
		m := mediaIDAttr.FindStringSubmatch(v)
		if m == nil || strings.TrimSpace(m[1]) == "" {
			return MediaReference{}, false
		}
		v = m[1]
	}
	return MediaReference{MediaID: strings.Trim(strings.TrimSpace(v), "{}")}, true
}

// Item is a node in the hierarchical content tree.
type Item struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ParentID        string    `json:"parent_id,omitempty"`
	SortOrder       int       `json:"sort_order"`
	Fields          []Field   `json:"fields,omitempty"`
	Locked          bool      `json:"locked"`
	LockedBy        string    `json:"locked_by,omitempty"`
	ReadOnly        bool      `json:"read_only"`
	WorkflowID      string    `json:"workflow_id,omitempty"`
	WorkflowStateID string    `json:"workflow_state_id,omitempty"`
	Revision        int64     `json:"revision"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Field returns the named field, if present.
func (i *Item) Field(name string) (Field, bool) {
	for _, f := range i.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// MediaReferences returns the media references of all image fields that carry a value,
// in field order.
func (i *Item) MediaReferences() []MediaReference {
	var refs []MediaReference
	for _, f := range i.Fields {
		if ref, ok := f.MediaReference(); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// WorkflowState is one state of a workflow definition.
type WorkflowState struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Terminal    bool   `json:"terminal"`
}

// WorkflowDefinition is an ordered set of states.
type WorkflowDefinition struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	InitialStateID string          `json:"initial_state_id,omitempty"`
	States         []WorkflowState `json:"states"`
}

// RenderingReference is a presentation component bound to an item for a device.
type RenderingReference struct {
	ItemID      string `json:"item_id"`
	RenderingID string `json:"rendering_id"`
	Device      string `json:"device"`
	Placeholder string `json:"placeholder,omitempty"`
	DataSource  string `json:"data_source"`
	SortOrder   int    `json:"sort_order"`
}

// DefaultDevice is the device used when a caller does not name one.
const DefaultDevice = "default"

// PropagationResult is the outcome of a propagation call for the root item.
type PropagationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	StateID string `json:"state_id,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Succeeded builds a successful result for the applied state.
func Succeeded(stateID string) *PropagationResult {
	return &PropagationResult{Success: true, Message: "OK", StateID: stateID}
}

// Failed builds a failed result from an error, carrying its code when present.
func Failed(err error) *PropagationResult {
	var ce *CascadeError
	if errors.As(err, &ce) {
		return &PropagationResult{Message: ce.Message, Code: ce.Code}
	}
	return &PropagationResult{Message: err.Error()}
}
