package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleStartBackfill starts or resumes a user's backfill session.
func (s *Server) handleStartBackfill(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "userID is required", nil)
		return
	}

	created, err := s.backfill.Kickoff(r.Context(), userID)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	status := http.StatusOK
	state := "resumed"
	if created {
		status = http.StatusAccepted
		state = "started"
	}
	respondJSON(w, status, map[string]string{
		"userId": userID,
		"state":  state,
	})
}

// handleGetBackfill returns the backfill session status.
func (s *Server) handleGetBackfill(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "userID is required", nil)
		return
	}

	snapshot, err := s.backfill.Snapshot(r.Context(), userID)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

// handleCancelBackfill cooperatively cancels a backfill session.
func (s *Server) handleCancelBackfill(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "userID is required", nil)
		return
	}

	if err := s.backfill.Cancel(r.Context(), userID); err != nil {
		respondCategorized(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"userId": userID,
		"state":  "cancelled",
	})
}

// handleResync discards session state and starts the backfill over.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "userID is required", nil)
		return
	}

	if err := s.backfill.Resync(r.Context(), userID); err != nil {
		respondCategorized(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"userId": userID,
		"state":  "restarted",
	})
}
