package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wearsync/internal/types"
)

func TestCategories(t *testing.T) {
	t.Run("transient errors are retryable", func(t *testing.T) {
		err := NewTransientError("trigger backfill", fmt.Errorf("connection reset"))
		assert.True(t, IsTransient(err))
		assert.False(t, IsStructural(err))
		assert.Equal(t, http.StatusBadGateway, GetHTTPStatusCode(err))
	})

	t.Run("rate limit is transient but distinguishable", func(t *testing.T) {
		err := NewRateLimitError(60)
		assert.True(t, IsTransient(err))
		assert.True(t, IsRateLimit(err))
		assert.Equal(t, 60, Categorize(err).Details["retryAfter"])
	})

	t.Run("store errors are transient", func(t *testing.T) {
		err := NewStoreError("set status", fmt.Errorf("redis down"))
		assert.True(t, IsTransient(err))
		assert.Equal(t, "STORE_ERROR", Categorize(err).Code)
	})

	t.Run("duplicate trigger is neither transient nor structural", func(t *testing.T) {
		err := NewDuplicateTriggerError(types.DataTypeSleep, types.Window{})
		assert.True(t, IsDuplicate(err))
		assert.False(t, IsTransient(err))
		assert.False(t, IsStructural(err))
	})

	t.Run("structural errors need an operator", func(t *testing.T) {
		for _, err := range []error{
			NewUnauthorizedError("user-1", nil),
			NewUnsupportedTypeError(types.DataType("bogus")),
			NewMalformedPayloadError(types.DataTypeSleep, fmt.Errorf("bad json")),
			NewConnectionNotFoundError("user-1"),
		} {
			assert.True(t, IsStructural(err), "%v", err)
			assert.False(t, IsTransient(err), "%v", err)
		}
	})

	t.Run("permanent failure carries the attempt count", func(t *testing.T) {
		err := NewPermanentFailureError("user-1", 3)
		cat := Categorize(err)
		assert.Equal(t, CategoryPermanent, cat.Category)
		assert.Equal(t, "PERMANENTLY_FAILED", cat.Code)
		assert.Equal(t, 3, cat.Details["attempts"])
	})
}

func TestCategorize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Categorize(nil))
		assert.False(t, IsTransient(nil))
		assert.False(t, IsRateLimit(nil))
	})

	t.Run("unknown errors default to transient", func(t *testing.T) {
		err := fmt.Errorf("something odd")
		cat := Categorize(err)
		assert.Equal(t, CategoryTransient, cat.Category)
		assert.Equal(t, "INTERNAL_ERROR", cat.Code)
		assert.Equal(t, http.StatusInternalServerError, cat.StatusCode)
	})

	t.Run("wrapped categorized errors keep their category", func(t *testing.T) {
		inner := NewUnauthorizedError("user-1", nil)
		wrapped := fmt.Errorf("step failed: %w", inner)
		assert.True(t, IsStructural(wrapped))
		assert.Equal(t, "PROVIDER_UNAUTHORIZED", Categorize(wrapped).Code)
	})
}

func TestCategorizedError(t *testing.T) {
	t.Run("error string includes the cause", func(t *testing.T) {
		cause := fmt.Errorf("dial tcp: refused")
		err := NewTransientError("fetch", cause)
		assert.Contains(t, err.Error(), "PROVIDER_ERROR")
		assert.Contains(t, err.Error(), "dial tcp: refused")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("converts to a service error", func(t *testing.T) {
		err := NewNotFoundError("session", "user-1")
		svc := err.ToServiceError()
		assert.Equal(t, "NOT_FOUND", svc.Code)
		assert.Equal(t, "session", svc.Details["resource"])
	})
}
