// Package playback holds the single source of truth for what is loaded into
// the shared player: whose playlist, at what index, shuffle and visibility
// flags, and the active share mode. The mini player widget, the music modal,
// and profile pages have no common ancestor, so they all consume this store
// and react to its broadcasts instead of passing state to each other.
package playback

import (
	"context"
	"slices"
	"sync"

	"playsync/internal/arbiter"
	"playsync/internal/bus"
	"playsync/internal/models"
)

type Store struct {
	mu  sync.Mutex
	arb *arbiter.Arbiter
	bus *bus.Bus

	playlist          []models.PlaylistEntry
	activeIndex       int
	src               string
	originURL         string
	trackTitle        string
	owner             *models.PlaybackOwner
	pinnedOwner       *models.PinnedOwnerInfo
	shuffleAllowed    bool
	shuffleEnabled    bool
	miniPlayerEnabled bool
	shareMode         models.ShareMode
}

func NewStore(arb *arbiter.Arbiter, b *bus.Bus) *Store {
	return &Store{
		arb:       arb,
		bus:       b,
		shareMode: models.ShareModePage,
	}
}

// SetPlaylist replaces the loaded playlist. An empty playlist is valid and
// means "no content", which is distinct from the owner being unknown.
func (s *Store) SetPlaylist(entries []models.PlaylistEntry) {
	s.mu.Lock()
	if slices.Equal(s.playlist, entries) {
		s.mu.Unlock()
		return
	}
	s.playlist = slices.Clone(entries)
	s.publishLocked()
}

func (s *Store) SetActiveIndex(i int) {
	s.mu.Lock()
	if s.activeIndex == i {
		s.mu.Unlock()
		return
	}
	s.activeIndex = i
	s.publishLocked()
}

func (s *Store) SetSrc(url string) {
	s.mu.Lock()
	if s.src == url {
		s.mu.Unlock()
		return
	}
	s.src = url
	s.publishLocked()
}

func (s *Store) SetOriginURL(url string) {
	s.mu.Lock()
	if s.originURL == url {
		s.mu.Unlock()
		return
	}
	s.originURL = url
	s.publishLocked()
}

func (s *Store) SetTrackTitle(title string) {
	s.mu.Lock()
	if s.trackTitle == title {
		s.mu.Unlock()
		return
	}
	s.trackTitle = title
	s.publishLocked()
}

// SetPlayerOwner records whose playlist is loaded. nil means no owner.
func (s *Store) SetPlayerOwner(owner *models.PlaybackOwner) {
	s.mu.Lock()
	if ownersEqual(s.owner, owner) {
		s.mu.Unlock()
		return
	}
	s.owner = cloneOwner(owner)
	s.publishLocked()
}

// SetPinnedOwnerInfo marks (or clears) the loaded owner as a pin override.
func (s *Store) SetPinnedOwnerInfo(info *models.PinnedOwnerInfo) {
	s.mu.Lock()
	if pinnedEqual(s.pinnedOwner, info) {
		s.mu.Unlock()
		return
	}
	s.pinnedOwner = clonePinned(info)
	s.publishLocked()
}

// SetShuffleAllowed gates shuffle. Disallowing while shuffle is enabled also
// turns shuffle off so the enabled flag never contradicts the gate.
func (s *Store) SetShuffleAllowed(allowed bool) {
	s.mu.Lock()
	if s.shuffleAllowed == allowed && (allowed || !s.shuffleEnabled) {
		s.mu.Unlock()
		return
	}
	s.shuffleAllowed = allowed
	if !allowed {
		s.shuffleEnabled = false
	}
	s.publishLocked()
}

// SetShuffleEnabled toggles shuffle. Enabling while shuffle is not allowed is
// a no-op.
func (s *Store) SetShuffleEnabled(enabled bool) {
	s.mu.Lock()
	if enabled && !s.shuffleAllowed {
		s.mu.Unlock()
		return
	}
	if s.shuffleEnabled == enabled {
		s.mu.Unlock()
		return
	}
	s.shuffleEnabled = enabled
	s.publishLocked()
}

func (s *Store) SetMiniPlayerEnabled(enabled bool) {
	s.mu.Lock()
	if s.miniPlayerEnabled == enabled {
		s.mu.Unlock()
		return
	}
	s.miniPlayerEnabled = enabled
	s.publishLocked()
}

// SetShareMode switches between page-scoped and site-wide widget mounting.
// Unknown modes are ignored.
func (s *Store) SetShareMode(mode models.ShareMode) {
	if !mode.Valid() {
		return
	}
	s.mu.Lock()
	if s.shareMode == mode {
		s.mu.Unlock()
		return
	}
	s.shareMode = mode
	s.publishLocked()
}

// Play starts whichever element currently holds the arbiter's grant. A play
// failure (autoplay policy) is returned to the caller but is recoverable:
// the surface simply stays paused. With no grant outstanding there is
// nothing to play and Play returns nil.
func (s *Store) Play(ctx context.Context) error {
	el, ok := s.arb.GrantedElement()
	if !ok {
		return nil
	}
	return el.Play(ctx)
}

// Pause pauses the element currently holding the grant, if any.
func (s *Store) Pause() {
	if el, ok := s.arb.GrantedElement(); ok {
		el.Pause()
	}
}

// Clear resets the store to its zero state. Used on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.playlist = nil
	s.activeIndex = 0
	s.src = ""
	s.originURL = ""
	s.trackTitle = ""
	s.owner = nil
	s.pinnedOwner = nil
	s.shuffleAllowed = false
	s.shuffleEnabled = false
	s.miniPlayerEnabled = false
	s.shareMode = models.ShareModePage
	s.publishLocked()
}

// Snapshot returns a copy of the observable state.
func (s *Store) Snapshot() models.PlaybackSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() models.PlaybackSnapshot {
	return models.PlaybackSnapshot{
		Playlist:          slices.Clone(s.playlist),
		ActiveIndex:       s.activeIndex,
		Src:               s.src,
		OriginURL:         s.originURL,
		TrackTitle:        s.trackTitle,
		Owner:             cloneOwner(s.owner),
		PinnedOwner:       clonePinned(s.pinnedOwner),
		ShuffleAllowed:    s.shuffleAllowed,
		ShuffleEnabled:    s.shuffleEnabled,
		MiniPlayerEnabled: s.miniPlayerEnabled,
		ShareMode:         s.shareMode,
	}
}

// publishLocked broadcasts the post-mutation snapshot and releases the lock.
func (s *Store) publishLocked() {
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.bus.Publish(models.Event{Type: models.EventPlaybackChanged, Playback: &snap})
}

func cloneOwner(o *models.PlaybackOwner) *models.PlaybackOwner {
	if o == nil {
		return nil
	}
	c := *o
	if o.AllowShuffle != nil {
		v := *o.AllowShuffle
		c.AllowShuffle = &v
	}
	return &c
}

func clonePinned(p *models.PinnedOwnerInfo) *models.PinnedOwnerInfo {
	if p == nil {
		return nil
	}
	c := *p
	if p.ExpiresAt != nil {
		v := *p.ExpiresAt
		c.ExpiresAt = &v
	}
	return &c
}

func ownersEqual(a, b *models.PlaybackOwner) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.UserID != b.UserID || a.Username != b.Username {
		return false
	}
	if (a.AllowShuffle == nil) != (b.AllowShuffle == nil) {
		return false
	}
	return a.AllowShuffle == nil || *a.AllowShuffle == *b.AllowShuffle
}

func pinnedEqual(a, b *models.PinnedOwnerInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.UserID != b.UserID || a.Username != b.Username {
		return false
	}
	if (a.ExpiresAt == nil) != (b.ExpiresAt == nil) {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.Equal(*b.ExpiresAt)
}
