package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleStartSync starts a pull-chunk sync session.
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "userID is required", nil)
		return
	}

	started, err := s.sync.Kickoff(r.Context(), userID)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	status := http.StatusOK
	state := "already_running"
	if started {
		status = http.StatusAccepted
		state = "started"
	}
	respondJSON(w, status, map[string]string{
		"userId": userID,
		"state":  state,
	})
}

// handleGetSync returns the sync session status.
func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "userID is required", nil)
		return
	}

	snapshot, err := s.sync.Snapshot(r.Context(), userID)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}
