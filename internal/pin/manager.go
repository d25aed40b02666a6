// Package pin manages the "pin another user's playlist" relationship: fetch,
// validate, cache, expire, and reconcile it with the playback store so a pin
// survives reloads and navigations until it is explicitly removed or runs out.
package pin

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"playsync/internal/bus"
	"playsync/internal/models"
	"playsync/internal/playback"
)

// ErrNoViewer is returned when a pin action arrives before the viewer's
// identity is resolved, or from an anonymous viewer.
var ErrNoViewer = errors.New("viewer identity not resolved")

// State is the pin lifecycle state.
type State string

const (
	StateUnpinned        State = "unpinned"
	StatePinningInFlight State = "pinning"
	StatePinned          State = "pinned"
	StateExpired         State = "expired"
)

// fetchState drives the reconciliation debounce: at most one pinned-playlist
// fetch in flight, followed by a cooling interval that absorbs the bursts of
// triggers caused by rapid remounts across navigations.
type fetchState int

const (
	fetchIdle fetchState = iota
	fetchFetching
	fetchCooling
)

// DefaultCooldown is the minimum interval between pinned-playlist fetches.
const DefaultCooldown = 5 * time.Second

// ProfileService is the slice of the profile client the manager needs.
type ProfileService interface {
	GetUserInfo(ctx context.Context, id string) (*models.UserInfo, error)
	Unpin(ctx context.Context) error
}

// Cache persists the active pin across daemon restarts.
type Cache interface {
	SavePinnedSession(viewerID string, session models.PinnedSession) error
	LoadPinnedSession(viewerID string) (*models.PinnedSession, error)
	ClearPinnedSession(viewerID string) error
}

type Manager struct {
	profile  ProfileService
	cache    Cache
	store    *playback.Store
	bus      *bus.Bus
	now      func() time.Time
	cooldown time.Duration

	// pageLoader restores page-local ownership after an unpin or expiry.
	// Set by the coordinator once wiring is complete.
	pageLoader func(ctx context.Context)

	group singleflight.Group

	mu             sync.Mutex
	viewerID       string
	viewerResolved bool
	pageID         string
	state          State
	session        *models.PinnedSession
	fetch          fetchState
	coolUntil      time.Time
	// generation stamps every reconciliation fetch; a response from a
	// superseded pass is discarded instead of overwriting fresher state.
	generation uint64
}

type Option func(*Manager)

func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

func NewManager(profile ProfileService, cache Cache, store *playback.Store, b *bus.Bus, opts ...Option) *Manager {
	m := &Manager{
		profile:  profile,
		cache:    cache,
		store:    store,
		bus:      b,
		now:      time.Now,
		cooldown: DefaultCooldown,
		state:    StateUnpinned,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetPageLoader installs the callback that reloads the viewed page's own
// playlist after pin teardown.
func (m *Manager) SetPageLoader(fn func(ctx context.Context)) {
	m.mu.Lock()
	m.pageLoader = fn
	m.mu.Unlock()
}

// State returns the current pin lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the active pinned session, if any.
func (m *Manager) Session() *models.PinnedSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSession(m.session)
}

// SetViewer records the resolved viewer identity. An empty id means the
// viewer is known to be anonymous, which is different from "still loading":
// reconciliation runs for the former and skips for the latter. A cached pin
// for the viewer is restored immediately, then verified by reconciliation.
func (m *Manager) SetViewer(ctx context.Context, viewerID string) {
	m.mu.Lock()
	if m.viewerResolved && viewerID != m.viewerID && m.session != nil {
		// A different account took over this session without a logout in
		// between. The previous viewer's pin belongs to them alone: drop it
		// before the new viewer's own cache restore runs, or it would leak
		// into the new identity and its cache row.
		m.session = nil
		m.state = StateUnpinned
		m.generation++
		m.store.SetPinnedOwnerInfo(nil)
	}
	m.viewerID = viewerID
	m.viewerResolved = true

	if viewerID == "" {
		m.session = nil
		m.state = StateUnpinned
		m.generation++
		m.mu.Unlock()
		return
	}

	if m.state == StateUnpinned && m.session == nil {
		cached, err := m.cache.LoadPinnedSession(viewerID)
		if err != nil {
			log.Printf("pin: loading cached session: %v", err)
		}
		if cached != nil {
			if cached.Expired(m.now()) {
				m.state = StateExpired
				m.mu.Unlock()
				m.finishExpiry(ctx)
				m.Reconcile(ctx, "viewer-resolved")
				return
			}
			m.session = cached
			m.state = StatePinned
			m.applySessionLocked(m.session)
			sess := cloneSession(m.session)
			m.mu.Unlock()
			m.broadcastPinned(true, sess)
			m.Reconcile(ctx, "viewer-resolved")
			return
		}
	}
	m.mu.Unlock()
	m.Reconcile(ctx, "viewer-resolved")
}

// SetPage records the profile page the viewer is looking at. The caller is
// expected to follow up with Reconcile.
func (m *Manager) SetPage(pageID string) {
	m.mu.Lock()
	m.pageID = pageID
	m.mu.Unlock()
}

// Pin establishes a pin on another user's playlist. The owner's current
// playlist is fetched as confirmation; until it arrives the session is not
// trusted (PinningInFlight).
func (m *Manager) Pin(ctx context.Context, ownerID string, expiresAt *time.Time) error {
	m.mu.Lock()
	if !m.viewerResolved || m.viewerID == "" {
		m.mu.Unlock()
		return ErrNoViewer
	}
	prev := m.state
	m.state = StatePinningInFlight
	viewerID := m.viewerID
	m.mu.Unlock()

	info, err := m.profile.GetUserInfo(ctx, ownerID)
	if err != nil {
		m.mu.Lock()
		if m.state == StatePinningInFlight {
			m.state = prev
		}
		m.mu.Unlock()
		return err
	}

	// If the owner's content is already loaded and playing, the pin resumes
	// from the track the viewer is on, not from the top.
	currentIndex := 0
	if snap := m.store.Snapshot(); snap.Owner != nil && snap.Owner.UserID == ownerID &&
		snap.ActiveIndex > 0 && snap.ActiveIndex < len(info.Playlist) {
		currentIndex = snap.ActiveIndex
	}

	session := &models.PinnedSession{
		OwnerUserID:   ownerID,
		OwnerUsername: info.Username,
		Playlist:      info.Playlist,
		CurrentIndex:  currentIndex,
		ExpiresAt:     expiresAt,
		AllowShuffle:  info.PlaylistAllowShuffle,
	}

	m.mu.Lock()
	m.session = session
	m.state = StatePinned
	m.generation++
	if saveErr := m.cache.SavePinnedSession(viewerID, *session); saveErr != nil {
		log.Printf("pin: caching session: %v", saveErr)
	}
	m.applySessionLocked(session)
	sess := cloneSession(session)
	m.mu.Unlock()

	m.broadcastPinned(true, sess)
	return nil
}

// Unpin removes the active pin: server record, local cache, and playback
// override. The server call is best-effort; local teardown proceeds
// regardless so the viewer is never stuck pinned.
func (m *Manager) Unpin(ctx context.Context) {
	m.mu.Lock()
	had := m.session != nil
	viewerID := m.viewerID
	m.session = nil
	m.state = StateUnpinned
	m.generation++
	m.mu.Unlock()

	if err := m.profile.Unpin(ctx); err != nil {
		log.Printf("pin: clearing server pin record: %v", err)
	}
	if viewerID != "" {
		if err := m.cache.ClearPinnedSession(viewerID); err != nil {
			log.Printf("pin: clearing cached session: %v", err)
		}
	}
	m.store.SetPinnedOwnerInfo(nil)
	if had {
		m.broadcastPinned(false, nil)
	}
	m.reloadPage(ctx)
}

// SetCurrentIndex records the viewer's track selection in the active session
// and re-caches it, so a restart restores the pinned playlist on the same
// track. No-op while unpinned.
func (m *Manager) SetCurrentIndex(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePinned || m.session == nil {
		return
	}
	if index < 0 || index >= len(m.session.Playlist) {
		return
	}
	m.session.CurrentIndex = index
	if m.viewerID != "" {
		if err := m.cache.SavePinnedSession(m.viewerID, *m.session); err != nil {
			log.Printf("pin: caching track selection: %v", err)
		}
	}
}

// Reconcile re-derives correct pin/playback state. Called on initial mount,
// when the viewer identity resolves, on navigation, and on external playlist
// edits.
//
// The pass is skipped while the viewer identity is unresolved: tearing down a
// pin because the login check has not finished yet would be wrong. Expiry is
// evaluated lazily here rather than by a background timer. When the pinned
// owner is the page being viewed, the page's own load path supplies the
// content and no fetch is made; otherwise the owner's playlist is fetched
// fresh so the viewer hears the latest edits, not the snapshot in the pin
// record.
func (m *Manager) Reconcile(ctx context.Context, trigger string) {
	m.mu.Lock()
	if !m.viewerResolved {
		m.mu.Unlock()
		return
	}
	if m.state != StatePinned || m.session == nil {
		m.mu.Unlock()
		return
	}
	if m.session.Expired(m.now()) {
		m.state = StateExpired
		m.mu.Unlock()
		log.Printf("pin: session expired (trigger=%s)", trigger)
		m.finishExpiry(ctx)
		return
	}
	if m.session.OwnerUserID == m.pageID {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.refreshPinned(ctx, false)
}

// HandlePlaylistChanged reacts to an external edit of the pinned owner's
// playlist with a forced re-fetch (the cooling interval does not apply; the
// in-flight guard still does).
func (m *Manager) HandlePlaylistChanged(ctx context.Context) {
	m.refreshPinned(ctx, true)
}

// HandleSubscriptionRenewed merges an externally-driven expiry extension into
// the active session without a full reconciliation pass.
func (m *Manager) HandleSubscriptionRenewed(renewal models.SubscriptionRenewal) {
	if renewal.SubscriptionType != "pinPlayer" {
		return
	}
	m.mu.Lock()
	if m.state != StatePinned || m.session == nil {
		m.mu.Unlock()
		return
	}
	expires := renewal.ExpiresAt
	m.session.ExpiresAt = &expires
	if m.viewerID != "" {
		if err := m.cache.SavePinnedSession(m.viewerID, *m.session); err != nil {
			log.Printf("pin: caching renewed session: %v", err)
		}
	}
	m.store.SetPinnedOwnerInfo(&models.PinnedOwnerInfo{
		UserID:    m.session.OwnerUserID,
		Username:  m.session.OwnerUsername,
		ExpiresAt: &expires,
	})
	sess := cloneSession(m.session)
	m.mu.Unlock()

	m.broadcastPinned(true, sess)
}

// HandleLogout drops all pin state for the departing viewer. The cached
// record stays on disk, keyed by viewer, for their next login.
func (m *Manager) HandleLogout() {
	m.mu.Lock()
	m.viewerID = ""
	m.viewerResolved = false
	m.session = nil
	m.state = StateUnpinned
	m.generation++
	m.mu.Unlock()
}

func (m *Manager) refreshPinned(ctx context.Context, force bool) {
	m.mu.Lock()
	if m.state != StatePinned || m.session == nil {
		m.mu.Unlock()
		return
	}
	switch m.fetch {
	case fetchFetching:
		m.mu.Unlock()
		return
	case fetchCooling:
		if !force && m.now().Before(m.coolUntil) {
			m.mu.Unlock()
			return
		}
	}
	m.fetch = fetchFetching
	m.generation++
	gen := m.generation
	ownerID := m.session.OwnerUserID
	viewerID := m.viewerID
	m.mu.Unlock()

	v, err, _ := m.group.Do(ownerID, func() (any, error) {
		return m.profile.GetUserInfo(ctx, ownerID)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetch = fetchCooling
	m.coolUntil = m.now().Add(m.cooldown)

	if gen != m.generation || m.state != StatePinned || m.session == nil || m.session.OwnerUserID != ownerID {
		return
	}

	switch {
	case err == nil:
		info := v.(*models.UserInfo)
		m.session.OwnerUsername = info.Username
		m.session.Playlist = info.Playlist
		m.session.AllowShuffle = info.PlaylistAllowShuffle
		if m.session.CurrentIndex >= len(info.Playlist) {
			m.session.CurrentIndex = 0
		}
		if viewerID != "" {
			if saveErr := m.cache.SavePinnedSession(viewerID, *m.session); saveErr != nil {
				log.Printf("pin: caching refreshed session: %v", saveErr)
			}
		}
		m.applySessionLocked(m.session)
	case errors.Is(err, models.ErrNotFound):
		// The owner has nothing to play (or is gone). Not an error.
		m.session.Playlist = nil
		m.session.CurrentIndex = 0
		m.applySessionLocked(m.session)
	default:
		// Transient failure: keep playing from the last-known session.
		log.Printf("pin: refreshing pinned playlist: %v", err)
	}
}

// finishExpiry completes the Expired -> Unpinned transition: clear the server
// record and local cache, then restore page-local ownership.
func (m *Manager) finishExpiry(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateExpired {
		m.mu.Unlock()
		return
	}
	viewerID := m.viewerID
	m.session = nil
	m.state = StateUnpinned
	m.generation++
	m.mu.Unlock()

	if err := m.profile.Unpin(ctx); err != nil {
		log.Printf("pin: clearing expired server pin record: %v", err)
	}
	if viewerID != "" {
		if err := m.cache.ClearPinnedSession(viewerID); err != nil {
			log.Printf("pin: clearing expired cached session: %v", err)
		}
	}
	m.store.SetPinnedOwnerInfo(nil)
	m.broadcastPinned(false, nil)
	m.reloadPage(ctx)
}

// applySessionLocked mirrors the session into the playback store. The store's
// setters are idempotent, so re-applying after every refresh is safe.
func (m *Manager) applySessionLocked(s *models.PinnedSession) {
	m.store.SetPlayerOwner(&models.PlaybackOwner{
		UserID:       s.OwnerUserID,
		Username:     s.OwnerUsername,
		AllowShuffle: s.AllowShuffle,
	})
	m.store.SetPinnedOwnerInfo(&models.PinnedOwnerInfo{
		UserID:    s.OwnerUserID,
		Username:  s.OwnerUsername,
		ExpiresAt: s.ExpiresAt,
	})
	m.store.SetPlaylist(s.Playlist)

	idx := s.CurrentIndex
	if idx < 0 || idx >= len(s.Playlist) {
		idx = 0
	}
	m.store.SetActiveIndex(idx)
	m.store.SetShuffleAllowed(s.AllowShuffle != nil && *s.AllowShuffle)

	if len(s.Playlist) > 0 {
		m.store.SetSrc(s.Playlist[idx].URL)
		m.store.SetTrackTitle(s.Playlist[idx].Title)
	} else {
		m.store.SetSrc("")
		m.store.SetTrackTitle("")
	}
}

func (m *Manager) broadcastPinned(isPinned bool, session *models.PinnedSession) {
	m.bus.Publish(models.Event{
		Type: models.EventPinnedPlayerChanged,
		PinnedPlayerChanged: &models.PinnedPlayerChange{
			IsPinned: isPinned,
			Session:  session,
		},
	})
}

func (m *Manager) reloadPage(ctx context.Context) {
	m.mu.Lock()
	loader := m.pageLoader
	m.mu.Unlock()
	if loader != nil {
		loader(ctx)
	}
}

func cloneSession(s *models.PinnedSession) *models.PinnedSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Playlist = append([]models.PlaylistEntry(nil), s.Playlist...)
	if s.ExpiresAt != nil {
		v := *s.ExpiresAt
		c.ExpiresAt = &v
	}
	if s.AllowShuffle != nil {
		v := *s.AllowShuffle
		c.AllowShuffle = &v
	}
	return &c
}
