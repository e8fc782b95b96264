package validation

import "github.com/rendis/statecascade/pkg/schema"

// Validator checks import documents before anything is written.
type Validator interface {
	ValidateImport(raw []byte) (*schema.ImportDocument, error)
}
