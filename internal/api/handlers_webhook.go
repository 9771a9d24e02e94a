package api

import (
	"net/http"

	"github.com/wearsync/internal/orchestrator"
)

// handleProviderWebhook absorbs provider completion callbacks. Discarded
// signals still return 200 so the provider stops redelivering; only store
// failures ask for redelivery.
func (s *Server) handleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	var sig orchestrator.CompletionSignal
	if err := parseJSONBody(r, &sig); err != nil {
		respondError(w, http.StatusBadRequest, "MALFORMED_PAYLOAD", "invalid completion payload", nil)
		return
	}
	if sig.UserID == "" || sig.DataType == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "user_id and data_type are required", nil)
		return
	}

	advanced, err := s.completion.HandleCompletion(r.Context(), &sig)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "STORE_ERROR", "completion could not be applied, retry delivery", nil)
		return
	}

	state := "discarded"
	if advanced {
		state = "applied"
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": state})
}
