package server

import (
	"encoding/json"
	"net/http"

	"playsync/internal/models"
)

// handlePlaylistChangedWebhook is called by the profile service when a user's
// playlist is edited. The event fans out on the bus; the coordinator turns it
// into a pinned-playlist re-fetch when relevant.
func (s *Server) handlePlaylistChangedWebhook(w http.ResponseWriter, r *http.Request) {
	s.bus.Publish(models.Event{Type: models.EventPlaylistChanged})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubscriptionRenewedWebhook(w http.ResponseWriter, r *http.Request) {
	var renewal models.SubscriptionRenewal
	if err := json.NewDecoder(r.Body).Decode(&renewal); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if renewal.SubscriptionType == "" || renewal.ExpiresAt.IsZero() {
		writeError(w, http.StatusBadRequest, "subscriptionType and expiresAt are required")
		return
	}
	s.bus.Publish(models.Event{
		Type:                models.EventSubscriptionRenewed,
		SubscriptionRenewed: &renewal,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
