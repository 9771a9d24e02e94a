// Package adapter wraps the wearable provider's HTTP API.
package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wearsync/internal/config"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/types"
)

// ProviderClient talks to the provider's partner API. All calls share a
// client-side rate limiter tuned below the provider's published ceiling.
type ProviderClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewProviderClient creates a provider API client from config.
func NewProviderClient(cfg *config.ProviderConfig, logger *logging.Logger) *ProviderClient {
	return &ProviderClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.WithField("component", "provider_client"),
	}
}

// TriggerBackfill asks the provider to start an asynchronous historical
// fetch for one data type over [window.Start, window.End). The provider
// acknowledges with 202 and later reports completion through the webhook.
// Returns the correlation token attached to the request.
func (c *ProviderClient) TriggerBackfill(ctx context.Context, accessToken, userID string, dataType types.DataType, window types.Window) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperrors.NewTransientError("rate limiter wait", err)
	}

	token := uuid.New().String()

	url := fmt.Sprintf("%s/backfill/%s?start=%d&end=%d",
		c.baseURL, dataType, window.Start.UnixMilli(), window.End.UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", apperrors.NewTransientError("build backfill request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Correlation-Token", token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.NewTransientError(fmt.Sprintf("trigger backfill %s", dataType), err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) // nolint:errcheck // drain for keep-alive
		_ = resp.Body.Close()                 // nolint:errcheck
	}()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		c.logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"data_type": string(dataType),
			"window":    window.String(),
		}).Debug("Backfill triggered")
		return token, nil

	case resp.StatusCode == http.StatusConflict:
		// Already fetching this range. Treated as success by callers.
		return token, apperrors.NewDuplicateTriggerError(dataType, window)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperrors.NewUnauthorizedError(userID, fmt.Errorf("status %d", resp.StatusCode))

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", apperrors.NewUnsupportedTypeError(dataType)

	case resp.StatusCode == http.StatusTooManyRequests:
		return "", apperrors.NewRateLimitError(retryAfter(resp))

	default:
		return "", apperrors.NewTransientError(
			fmt.Sprintf("trigger backfill %s", dataType),
			fmt.Errorf("status %d", resp.StatusCode))
	}
}

// FetchSummary synchronously fetches one data type over a bounded window.
// Used by the pull-chunk sync path; windows must not exceed the provider's
// 24 hour cap or the provider rejects the request.
func (c *ProviderClient) FetchSummary(ctx context.Context, accessToken, userID string, dataType types.DataType, window types.Window) (*Payload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewTransientError("rate limiter wait", err)
	}

	url := fmt.Sprintf("%s/summary/%s?start=%d&end=%d",
		c.baseURL, dataType, window.Start.UnixMilli(), window.End.UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewTransientError("build summary request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransientError(fmt.Sprintf("fetch %s", dataType), err)
	}
	defer func() {
		_ = resp.Body.Close() // nolint:errcheck
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		// handled below

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewUnauthorizedError(userID, fmt.Errorf("status %d", resp.StatusCode))

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, apperrors.NewUnsupportedTypeError(dataType)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewRateLimitError(retryAfter(resp))

	default:
		return nil, apperrors.NewTransientError(
			fmt.Sprintf("fetch %s", dataType),
			fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransientError("read summary body", err)
	}

	payload, err := decodePayload(dataType, body)
	if err != nil {
		return nil, apperrors.NewMalformedPayloadError(dataType, err)
	}

	return payload, nil
}

// retryAfter reads the Retry-After header in seconds, zero when absent.
func retryAfter(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return secs
}
