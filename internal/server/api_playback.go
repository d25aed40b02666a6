package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"playsync/internal/models"
)

func (s *Server) handleGetPlayback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.playback.Snapshot())
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageID string `json:"pageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := s.coord.Navigate(r.Context(), req.PageID); err != nil {
		// A canceled load means a newer navigation took over; the response
		// for this one no longer matters.
		if !errors.Is(err, context.Canceled) {
			log.Printf("navigate to %q: %v", req.PageID, err)
		}
	}
	writeJSON(w, http.StatusOK, s.playback.Snapshot())
}

func (s *Server) handleSelectTrack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	snap := s.playback.Snapshot()
	if req.Index < 0 || req.Index >= len(snap.Playlist) {
		writeError(w, http.StatusBadRequest, "index out of range")
		return
	}
	entry := snap.Playlist[req.Index]
	s.playback.SetActiveIndex(req.Index)
	s.playback.SetSrc(entry.URL)
	s.playback.SetTrackTitle(entry.Title)
	s.pin.SetCurrentIndex(req.Index)
	writeJSON(w, http.StatusOK, s.playback.Snapshot())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	// A refused play (autoplay policy on the surface) is a normal outcome:
	// the grant stands, the surface stays paused until the user clicks.
	if err := s.playback.Play(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"playing": false, "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playing": true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.playback.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetShuffle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	s.playback.SetShuffleEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, s.playback.Snapshot())
}

func (s *Server) handleSetShareMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode models.ShareMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !req.Mode.Valid() {
		writeError(w, http.StatusBadRequest, "unknown share mode")
		return
	}
	s.playback.SetShareMode(req.Mode)
	writeJSON(w, http.StatusOK, s.playback.Snapshot())
}

func (s *Server) handleSavePlaylist(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var req struct {
		Playlist []models.PlaylistEntry `json:"playlist"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	for _, entry := range req.Playlist {
		if entry.URL == "" {
			writeError(w, http.StatusBadRequest, "playlist entry missing url")
			return
		}
	}

	if err := s.coord.SavePlaylist(r.Context(), user.Name, req.Playlist); err != nil {
		log.Printf("saving playlist for %s: %v", user.Name, err)
		writeError(w, http.StatusBadGateway, "could not save playlist")
		return
	}
	writeJSON(w, http.StatusOK, s.playback.Snapshot())
}

func (s *Server) handleSetMiniPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	s.playback.SetMiniPlayerEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, s.playback.Snapshot())
}
