package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentity(t *testing.T) {
	clone := Clone(ErrValidation, "weight must be positive")
	assert.Equal(t, "weight must be positive", clone.Message)
	assert.Equal(t, "validation failed", ErrValidation.Message)
	assert.ErrorIs(t, clone, ErrValidation)
	assert.NotErrorIs(t, clone, ErrConflict)

	wrapped := fmt.Errorf("column c1: %w", clone)
	assert.ErrorIs(t, wrapped, ErrValidation)

	assert.Nil(t, Clone(nil, "x"))
	assert.Equal(t, ErrConflict.Message, Clone(ErrConflict, "").Message)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	got := FromError(fmt.Errorf("save: %w", ErrGradebookNotFound))
	require.NotNil(t, got)
	assert.Equal(t, http.StatusNotFound, got.Status)
	assert.Equal(t, "GRADEBOOK_NOT_FOUND", got.Code)

	plain := errors.New("disk full")
	got = FromError(plain)
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.ErrorIs(t, got, plain)
	assert.Equal(t, "internal server error: disk full", got.Error())
}

func TestNilError(t *testing.T) {
	var e *Error
	assert.Equal(t, "<nil>", e.Error())
	assert.Nil(t, e.Unwrap())
	assert.False(t, e.Is(ErrInternal))
}
