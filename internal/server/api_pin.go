package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"playsync/internal/models"
	"playsync/internal/pin"
)

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID   string     `json:"ownerId"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	err := s.pin.Pin(r.Context(), req.OwnerID, req.ExpiresAt)
	switch {
	case errors.Is(err, pin.ErrNoViewer):
		writeError(w, http.StatusUnauthorized, "log in to pin a player")
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "no such user")
	case err != nil:
		log.Printf("pin %s: %v", req.OwnerID, err)
		writeError(w, http.StatusBadGateway, "pin failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"state":        s.pin.State(),
			"pinnedPlayer": s.pin.Session(),
		})
	}
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	s.pin.Unpin(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"state": s.pin.State()})
}
