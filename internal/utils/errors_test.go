package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("field is required")
	assert.Equal(t, "field is required", err.Error())
	assert.True(t, IsValidationError(err))
}

func TestValidationErrorf(t *testing.T) {
	err := NewValidationErrorf("value %d out of range", 42)
	assert.Equal(t, "value 42 out of range", err.Error())
	assert.True(t, IsValidationError(err))
}

func TestIsValidationErrorWrapped(t *testing.T) {
	err := fmt.Errorf("loading config: %w", NewValidationError("bad port"))
	assert.True(t, IsValidationError(err))
}

func TestIsValidationErrorOther(t *testing.T) {
	assert.False(t, IsValidationError(errors.New("plain failure")))
	assert.False(t, IsValidationError(nil))
}
