// Package errors provides the error taxonomy for the sync orchestrator.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wearsync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransient represents errors the task runtime should retry
	// (network failures, provider 5xx, rate limits).
	CategoryTransient ErrorCategory = "transient"
	// CategoryDuplicate represents provider idempotency conflicts. Not a
	// failure: the same unit cannot be requested twice productively.
	CategoryDuplicate ErrorCategory = "duplicate"
	// CategoryStructural represents permanent errors (bad credentials,
	// unsupported data type, malformed payload) that need an operator.
	CategoryStructural ErrorCategory = "structural"
	// CategoryStaleness represents locally detected loss of progress,
	// converted into timed-out units by the reclaimer.
	CategoryStaleness ErrorCategory = "staleness"
	// CategoryPermanent represents sessions past the bounded recovery limit.
	CategoryPermanent ErrorCategory = "permanent"
	// CategoryUserInput represents bad API input (4xx).
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryNotFound represents missing sessions or connections.
	CategoryNotFound ErrorCategory = "not_found"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Transient errors

// NewTransientError creates a retryable provider/system error
func NewTransientError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("provider error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewRateLimitError creates a provider rate limit error. Retryable, but at
// the caller's fixed backoff rather than the generic retry ladder.
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusTooManyRequests,
		Code:       "PROVIDER_RATE_LIMIT",
		Message:    "provider rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewStoreError creates a session store error. The store itself never
// retries; the calling task fails fast and the runtime retries it.
func NewStoreError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "STORE_ERROR",
		Message:    fmt.Sprintf("session store error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Duplicate

// NewDuplicateTriggerError creates an idempotency-conflict marker for a
// provider 409. Callers treat it as success.
func NewDuplicateTriggerError(unit types.DataType, window types.Window) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDuplicate,
		StatusCode: http.StatusConflict,
		Code:       "DUPLICATE_TRIGGER",
		Message:    fmt.Sprintf("backfill for %s %s already accepted", unit, window),
		Details: map[string]interface{}{
			"unit":   string(unit),
			"window": window.String(),
		},
	}
}

// Structural errors

// NewUnauthorizedError creates a credentials error
func NewUnauthorizedError(userID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStructural,
		StatusCode: http.StatusUnauthorized,
		Code:       "PROVIDER_UNAUTHORIZED",
		Message:    "provider rejected credentials",
		Cause:      cause,
		Details: map[string]interface{}{
			"userId": userID,
		},
	}
}

// NewUnsupportedTypeError creates an unsupported data type error
func NewUnsupportedTypeError(unit types.DataType) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStructural,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "UNSUPPORTED_DATA_TYPE",
		Message:    fmt.Sprintf("provider does not support data type %s", unit),
		Details: map[string]interface{}{
			"unit": string(unit),
		},
	}
}

// NewMalformedPayloadError creates a payload parse error
func NewMalformedPayloadError(unit types.DataType, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStructural,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "MALFORMED_PAYLOAD",
		Message:    fmt.Sprintf("malformed %s payload", unit),
		Cause:      cause,
		Details: map[string]interface{}{
			"unit": string(unit),
		},
	}
}

// NewConnectionNotFoundError creates a missing provider connection error
func NewConnectionNotFoundError(userID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStructural,
		StatusCode: http.StatusUnauthorized,
		Code:       "CONNECTION_NOT_FOUND",
		Message:    fmt.Sprintf("no active provider connection for user %s", userID),
		Details: map[string]interface{}{
			"userId": userID,
		},
	}
}

// Staleness and permanent failure

// NewStaleSessionError records a reclaimed unit
func NewStaleSessionError(userID string, unit types.DataType) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStaleness,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "SESSION_STALE",
		Message:    fmt.Sprintf("no progress on unit %s within the stuck threshold", unit),
		Details: map[string]interface{}{
			"userId": userID,
			"unit":   string(unit),
		},
	}
}

// NewPermanentFailureError marks a session past its recovery bound
func NewPermanentFailureError(userID string, attempts int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPermanent,
		StatusCode: http.StatusConflict,
		Code:       "PERMANENTLY_FAILED",
		Message:    fmt.Sprintf("session exhausted %d recovery attempts", attempts),
		Details: map[string]interface{}{
			"userId":   userID,
			"attempts": attempts,
		},
	}
}

// API input errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	// Unknown errors are treated as transient system failures
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    "unexpected error",
		Cause:      err,
	}
}

// IsTransient determines if the task runtime should retry the error
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return Categorize(err).Category == CategoryTransient
}

// IsDuplicate reports a provider idempotency conflict
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return Categorize(err).Category == CategoryDuplicate
}

// IsStructural reports a permanent error requiring operator attention
func IsStructural(err error) bool {
	if err == nil {
		return false
	}
	return Categorize(err).Category == CategoryStructural
}

// IsRateLimit reports a provider 429
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	return Categorize(err).Code == "PROVIDER_RATE_LIMIT"
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}
