package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"playsync/internal/models"
)

// pinCacheVersion stamps the stored envelope. A version bump (or any decode
// failure) turns old records into cache misses instead of malformed state.
const pinCacheVersion = 1

type pinCacheEnvelope struct {
	Version int                  `json:"version"`
	Session models.PinnedSession `json:"session"`
}

// SavePinnedSession caches the viewer's active pin so it can be restored
// instantly on the next start, before any network round-trip.
func (s *Store) SavePinnedSession(viewerID string, session models.PinnedSession) error {
	payload, err := json.Marshal(pinCacheEnvelope{Version: pinCacheVersion, Session: session})
	if err != nil {
		return fmt.Errorf("encoding pin cache: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO pin_cache (viewer_id, payload, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(viewer_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		viewerID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("saving pin cache: %w", err)
	}
	return nil
}

// LoadPinnedSession returns the cached pin for a viewer, or nil when there is
// none. A corrupted or stale-versioned record is dropped and reported as a
// miss, never as an error.
func (s *Store) LoadPinnedSession(viewerID string) (*models.PinnedSession, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM pin_cache WHERE viewer_id = ?`, viewerID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading pin cache: %w", err)
	}

	var env pinCacheEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Version != pinCacheVersion {
		log.Printf("store: discarding unreadable pin cache for viewer %s", viewerID)
		if clearErr := s.ClearPinnedSession(viewerID); clearErr != nil {
			log.Printf("store: clearing pin cache: %v", clearErr)
		}
		return nil, nil
	}
	return &env.Session, nil
}

func (s *Store) ClearPinnedSession(viewerID string) error {
	if _, err := s.db.Exec(`DELETE FROM pin_cache WHERE viewer_id = ?`, viewerID); err != nil {
		return fmt.Errorf("clearing pin cache: %w", err)
	}
	return nil
}
