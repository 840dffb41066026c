package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid input")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "invalid input", err.Message)
	assert.Nil(t, err.Cause)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "invalid input")
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("workflow not found")

	assert.Equal(t, TypeNotFound, err.Type)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "not_found")
}

func TestTooManyRequestsError(t *testing.T) {
	err := TooManyRequestsError("connection limit reached")

	assert.Equal(t, TypeTooManyRequests, err.Type)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}

func TestInternalError(t *testing.T) {
	cause := fmt.Errorf("database connection failed")
	err := InternalError("failed to save workflow", cause)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "failed to save workflow")
	assert.Contains(t, err.Error(), "database connection failed")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestWithContext(t *testing.T) {
	err := ValidationError("invalid definition").
		WithContext("field", "nodes").
		WithContext("reason", "empty")

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "nodes", err.Context["field"])
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapper", cause)

	assert.ErrorIs(t, err, cause)
}

func TestToResponse(t *testing.T) {
	err := NotFoundError("workflow not found").WithContext("id", "abc")
	resp := err.ToResponse()

	assert.Equal(t, "workflow not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, "abc", resp.Context["id"])
}

func TestAsStructuredError(t *testing.T) {
	structured := ValidationError("bad")
	assert.Same(t, structured, AsStructuredError(structured))

	wrapped := fmt.Errorf("outer: %w", structured)
	assert.Same(t, structured, AsStructuredError(wrapped))

	plain := errors.New("plain failure")
	converted := AsStructuredError(plain)
	require.NotNil(t, converted)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.Equal(t, plain, converted.Cause)

	assert.Nil(t, AsStructuredError(nil))
}
