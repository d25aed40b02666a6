package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"playsync/internal/store"
)

func (s *Server) handleGetPrefs(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.db.GetUIPrefs()
	if err != nil {
		log.Printf("reading prefs: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleSetPrefs(w http.ResponseWriter, r *http.Request) {
	var prefs store.UIPrefs
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if prefs.Volume < 0 || prefs.Volume > 1 {
		writeError(w, http.StatusBadRequest, "volume must be between 0 and 1")
		return
	}
	if err := s.db.SetUIPrefs(prefs); err != nil {
		log.Printf("saving prefs: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// handleSetOwnerShuffle persists an owner's shuffle gate and applies it
// immediately when that owner's playlist is the loaded content.
func (s *Server) handleSetOwnerShuffle(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "id")
	var req struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := s.db.SetOwnerShuffle(ownerID, req.Allowed); err != nil {
		log.Printf("saving shuffle pref: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if snap := s.playback.Snapshot(); snap.Owner != nil && snap.Owner.UserID == ownerID {
		s.playback.SetShuffleAllowed(req.Allowed)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": req.Allowed})
}
