package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/orchestrator"
	"github.com/wearsync/internal/session"
	"github.com/wearsync/internal/types"
)

// Mock services with overridable behavior per test.

type mockBackfillService struct {
	kickoffFunc  func(ctx context.Context, userID string) (bool, error)
	cancelFunc   func(ctx context.Context, userID string) error
	resyncFunc   func(ctx context.Context, userID string) error
	snapshotFunc func(ctx context.Context, userID string) (*session.BackfillSnapshot, error)
}

func (m *mockBackfillService) Kickoff(ctx context.Context, userID string) (bool, error) {
	if m.kickoffFunc != nil {
		return m.kickoffFunc(ctx, userID)
	}
	return true, nil
}

func (m *mockBackfillService) Cancel(ctx context.Context, userID string) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, userID)
	}
	return nil
}

func (m *mockBackfillService) Resync(ctx context.Context, userID string) error {
	if m.resyncFunc != nil {
		return m.resyncFunc(ctx, userID)
	}
	return nil
}

func (m *mockBackfillService) Snapshot(ctx context.Context, userID string) (*session.BackfillSnapshot, error) {
	if m.snapshotFunc != nil {
		return m.snapshotFunc(ctx, userID)
	}
	return &session.BackfillSnapshot{UserID: userID, Status: types.BackfillActive}, nil
}

type mockSyncService struct {
	kickoffFunc  func(ctx context.Context, userID string) (bool, error)
	snapshotFunc func(ctx context.Context, userID string) (*session.SyncSnapshot, error)
}

func (m *mockSyncService) Kickoff(ctx context.Context, userID string) (bool, error) {
	if m.kickoffFunc != nil {
		return m.kickoffFunc(ctx, userID)
	}
	return true, nil
}

func (m *mockSyncService) Snapshot(ctx context.Context, userID string) (*session.SyncSnapshot, error) {
	if m.snapshotFunc != nil {
		return m.snapshotFunc(ctx, userID)
	}
	return &session.SyncSnapshot{UserID: userID, Status: types.SyncRunning}, nil
}

type mockCompletionHandler struct {
	handleFunc func(ctx context.Context, sig *orchestrator.CompletionSignal) (bool, error)
	got        *orchestrator.CompletionSignal
}

func (m *mockCompletionHandler) HandleCompletion(ctx context.Context, sig *orchestrator.CompletionSignal) (bool, error) {
	m.got = sig
	if m.handleFunc != nil {
		return m.handleFunc(ctx, sig)
	}
	return true, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error { return m.err }

type testServer struct {
	server     *Server
	backfill   *mockBackfillService
	sync       *mockSyncService
	completion *mockCompletionHandler
	redis      *mockHealthChecker
}

func createTestServer(t *testing.T) *testServer {
	t.Helper()

	backfill := &mockBackfillService{}
	syncSvc := &mockSyncService{}
	completion := &mockCompletionHandler{}
	redisCheck := &mockHealthChecker{}
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)

	server := NewServer(
		&ServerConfig{Host: "127.0.0.1", Port: "0"},
		backfill,
		syncSvc,
		completion,
		map[string]HealthChecker{"redis": redisCheck},
		logger,
	)

	return &testServer{
		server:     server,
		backfill:   backfill,
		sync:       syncSvc,
		completion: completion,
		redis:      redisCheck,
	}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHandleProviderWebhook(t *testing.T) {
	t.Run("applies a valid completion", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("POST", "/v1/webhooks/provider",
			`{"user_id":"user-1","data_type":"sleep","correlation_token":"tok"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "applied", decodeBody(t, w)["state"])

		require.NotNil(t, ts.completion.got)
		assert.Equal(t, "user-1", ts.completion.got.UserID)
		assert.Equal(t, types.DataTypeSleep, ts.completion.got.DataType)
		assert.Equal(t, "tok", ts.completion.got.CorrelationToken)
	})

	t.Run("acks a discarded completion so delivery stops", func(t *testing.T) {
		ts := createTestServer(t)
		ts.completion.handleFunc = func(ctx context.Context, sig *orchestrator.CompletionSignal) (bool, error) {
			return false, nil
		}

		w := ts.do("POST", "/v1/webhooks/provider",
			`{"user_id":"user-1","data_type":"sleep"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "discarded", decodeBody(t, w)["state"])
	})

	t.Run("rejects a malformed payload", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("POST", "/v1/webhooks/provider", `{"user_id": not-json`)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "MALFORMED_PAYLOAD", resp.Error.Code)
		assert.Nil(t, ts.completion.got)
	})

	t.Run("rejects a payload missing identifiers", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("POST", "/v1/webhooks/provider", `{"correlation_token":"tok"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
		assert.Nil(t, ts.completion.got)
	})

	t.Run("store failure asks for redelivery", func(t *testing.T) {
		ts := createTestServer(t)
		ts.completion.handleFunc = func(ctx context.Context, sig *orchestrator.CompletionSignal) (bool, error) {
			return false, apperrors.NewStoreError("get", assert.AnError)
		}

		w := ts.do("POST", "/v1/webhooks/provider",
			`{"user_id":"user-1","data_type":"sleep","correlation_token":"tok"}`)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "STORE_ERROR", resp.Error.Code)
	})
}

func TestBackfillHandlers(t *testing.T) {
	t.Run("start returns 202 for a new session", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("POST", "/v1/users/user-1/backfill", "")

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "started", decodeBody(t, w)["state"])
	})

	t.Run("start returns 200 for a resumed session", func(t *testing.T) {
		ts := createTestServer(t)
		ts.backfill.kickoffFunc = func(ctx context.Context, userID string) (bool, error) {
			return false, nil
		}

		w := ts.do("POST", "/v1/users/user-1/backfill", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "resumed", decodeBody(t, w)["state"])
	})

	t.Run("start maps a permanent failure to 409", func(t *testing.T) {
		ts := createTestServer(t)
		ts.backfill.kickoffFunc = func(ctx context.Context, userID string) (bool, error) {
			return false, apperrors.NewPermanentFailureError(userID, 3)
		}

		w := ts.do("POST", "/v1/users/user-1/backfill", "")

		assert.Equal(t, http.StatusConflict, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "PERMANENTLY_FAILED", resp.Error.Code)
	})

	t.Run("status returns the snapshot", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("GET", "/v1/users/user-1/backfill", "")

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "user-1", body["userId"])
		assert.Equal(t, string(types.BackfillActive), body["status"])
	})

	t.Run("status for an unknown session returns 404", func(t *testing.T) {
		ts := createTestServer(t)
		ts.backfill.snapshotFunc = func(ctx context.Context, userID string) (*session.BackfillSnapshot, error) {
			return nil, apperrors.NewNotFoundError("backfill session", userID)
		}

		w := ts.do("GET", "/v1/users/user-1/backfill", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cancel acknowledges", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("POST", "/v1/users/user-1/backfill/cancel", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "cancelled", decodeBody(t, w)["state"])
	})

	t.Run("resync restarts", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("POST", "/v1/users/user-1/resync", "")

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "restarted", decodeBody(t, w)["state"])
	})
}

func TestSyncHandlers(t *testing.T) {
	t.Run("start returns 202 for a new session", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("POST", "/v1/users/user-1/sync", "")

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "started", decodeBody(t, w)["state"])
	})

	t.Run("start reports a session already running", func(t *testing.T) {
		ts := createTestServer(t)
		ts.sync.kickoffFunc = func(ctx context.Context, userID string) (bool, error) {
			return false, nil
		}

		w := ts.do("POST", "/v1/users/user-1/sync", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "already_running", decodeBody(t, w)["state"])
	})

	t.Run("status returns the snapshot", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("GET", "/v1/users/user-1/sync", "")

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "user-1", body["userId"])
		assert.Equal(t, string(types.SyncRunning), body["status"])
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy when every dependency answers", func(t *testing.T) {
		ts := createTestServer(t)

		w := ts.do("GET", "/health", "")

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("degraded when a dependency is unreachable", func(t *testing.T) {
		ts := createTestServer(t)
		ts.redis.err = assert.AnError

		w := ts.do("GET", "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "degraded", body["status"])
		deps := body["dependencies"].(map[string]interface{})
		assert.Equal(t, "unreachable", deps["redis"])
	})
}
