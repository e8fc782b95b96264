package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeNoWorkflow        = "NO_WORKFLOW_ASSIGNED"
	ErrCodeUnknownState      = "UNKNOWN_STATE_NAME"
	ErrCodeEditDenied        = "EDIT_BOUNDARY_DENIED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodePublishFailed     = "PUBLISH_FAILED"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeAccessDenied      = "ACCESS_DENIED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeExpression        = "EXPRESSION_ERROR"
)

// CascadeError is the structured error type for all cascade operations.
type CascadeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	ItemID  string         `json:"item_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CascadeError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("[%s] item %s: %s", e.Code, e.ItemID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CascadeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CascadeError.
func NewError(code, message string) *CascadeError {
	return &CascadeError{Code: code, Message: message}
}

// NewErrorf creates a new CascadeError with a formatted message.
func NewErrorf(code, format string, args ...any) *CascadeError {
	return &CascadeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithItem attaches an item ID to the error.
func (e *CascadeError) WithItem(itemID string) *CascadeError {
	e.ItemID = itemID
	return e
}

// WithCause attaches an underlying cause.
func (e *CascadeError) WithCause(err error) *CascadeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CascadeError) WithDetails(details map[string]any) *CascadeError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first CascadeError in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var ce *CascadeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
