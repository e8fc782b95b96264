package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_AddAndMerge(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())

	r.AddWarning("/items/0", ErrCodeValidation, "item has no fields")
	assert.True(t, r.Valid(), "warnings alone keep the result valid")

	other := &ValidationResult{}
	other.AddError("/workflows/0/initial_state_id", ErrCodeValidation, "unknown state")
	r.Merge(other)
	r.Merge(nil)

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
	assert.Equal(t, "/workflows/0/initial_state_id", r.Errors[0].Path)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())

	r.AddError("/items/0/id", ErrCodeValidation, "duplicate item id")
	var ce *CascadeError
	require.True(t, errors.As(r.ToError(), &ce))
	assert.Equal(t, "duplicate item id", ce.Message)
	assert.Equal(t, 1, ce.Details["error_count"])

	r.AddError("/items/1/id", ErrCodeValidation, "duplicate item id")
	require.True(t, errors.As(r.ToError(), &ce))
	assert.Contains(t, ce.Message, "2 errors")
	assert.Equal(t, 1, ce.Details["warning_count"])
}
