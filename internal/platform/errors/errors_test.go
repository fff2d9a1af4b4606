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
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
}

func TestUnauthorizedError(t *testing.T) {
	cause := errors.New("token is expired")
	err := UnauthorizedError("invalid token", cause)

	assert.Equal(t, TypeUnauthorized, err.Type)
	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "token is expired")
}

func TestForbiddenError(t *testing.T) {
	err := ForbiddenError("system subscription requires superadmin")

	assert.Equal(t, TypeForbidden, err.Type)
	assert.Equal(t, http.StatusForbidden, err.HTTPStatus())
}

func TestRateLimitedError(t *testing.T) {
	err := RateLimitedError("too many messages")

	assert.Equal(t, TypeRateLimited, err.Type)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestUnavailableError(t *testing.T) {
	err := UnavailableError("broker unavailable", fmt.Errorf("dial tcp: connection refused"))

	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus())
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithContext(t *testing.T) {
	err := ValidationError("unknown subscription type").
		WithContext("type", "galaxy").
		WithContext("targets", 2)

	assert.Equal(t, "galaxy", err.Context["type"])
	assert.Equal(t, 2, err.Context["targets"])
}

func TestWithContext_NilMap(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "x"}
	err.WithContext("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestToResponse(t *testing.T) {
	err := ForbiddenError("not allowed").WithContext("type", "system")
	resp := err.ToResponse()

	assert.Equal(t, "not allowed", resp.Error)
	assert.Equal(t, TypeForbidden, resp.Type)
	assert.Equal(t, "system", resp.Context["type"])
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("already structured", func(t *testing.T) {
		original := NotFoundError("missing")
		wrapped := fmt.Errorf("lookup: %w", original)
		got := AsStructuredError(wrapped)
		require.NotNil(t, got)
		assert.Same(t, original, got)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		got := AsStructuredError(errors.New("boom"))
		require.NotNil(t, got)
		assert.Equal(t, TypeInternal, got.Type)
		assert.Equal(t, "internal server error", got.Message)
	})
}
