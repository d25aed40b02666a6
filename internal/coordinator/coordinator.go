// Package coordinator drives the playback subsystem's lifecycle: resolving
// the viewer, loading page-local content on navigation, dispatching broadcast
// events to the pin manager, and tearing everything down on logout.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"playsync/internal/arbiter"
	"playsync/internal/bus"
	"playsync/internal/models"
	"playsync/internal/pin"
	"playsync/internal/playback"
	"playsync/internal/store"
)

// ProfileService is the slice of the profile client the coordinator needs.
type ProfileService interface {
	GetUserInfo(ctx context.Context, id string) (*models.UserInfo, error)
	SavePlaylist(ctx context.Context, entries []models.PlaylistEntry) error
}

type Coordinator struct {
	store   *playback.Store
	arb     *arbiter.Arbiter
	pin     *pin.Manager
	profile ProfileService
	bus     *bus.Bus
	db      *store.Store

	mu         sync.Mutex
	pageID     string
	pageCancel context.CancelFunc
}

func New(st *playback.Store, arb *arbiter.Arbiter, pm *pin.Manager, profile ProfileService, b *bus.Bus, db *store.Store) *Coordinator {
	c := &Coordinator{
		store:   st,
		arb:     arb,
		pin:     pm,
		profile: profile,
		bus:     b,
		db:      db,
	}
	pm.SetPageLoader(c.loadCurrentPage)
	return c
}

// Run pumps broadcast events to the pin manager until ctx is done. Webhook
// handlers publish these events; the coordinator is their consumer.
func (c *Coordinator) Run(ctx context.Context) error {
	ch := c.bus.Subscribe()
	defer c.bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			switch ev.Type {
			case models.EventPlaylistChanged:
				c.pin.HandlePlaylistChanged(ctx)
			case models.EventSubscriptionRenewed:
				if ev.SubscriptionRenewed != nil {
					c.pin.HandleSubscriptionRenewed(*ev.SubscriptionRenewed)
				}
			}
		}
	}
}

// SetViewer records the resolved viewer identity and runs the pin
// reconciliation that was waiting on it. An empty id means anonymous.
func (c *Coordinator) SetViewer(ctx context.Context, viewerID string) {
	c.pin.SetViewer(ctx, viewerID)
}

// Navigate is the page-view entry point. The previous page view's in-flight
// work is canceled so a slow response cannot overwrite a newer page's
// content. An active pin always outranks the page's own playlist.
func (c *Coordinator) Navigate(ctx context.Context, pageID string) error {
	c.mu.Lock()
	if c.pageCancel != nil {
		c.pageCancel()
	}
	pageCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.pageCancel = cancel
	c.pageID = pageID
	c.mu.Unlock()

	c.pin.SetPage(pageID)

	if c.pin.State() == pin.StatePinned {
		if sess := c.pin.Session(); sess != nil && sess.OwnerUserID == pageID {
			// Viewing the pinned owner's own page: the page load supplies
			// the freshest content, no separate reconciliation fetch.
			return c.loadPage(pageCtx, pageID)
		}
		c.pin.Reconcile(pageCtx, "navigation")
		return nil
	}

	c.pin.Reconcile(pageCtx, "navigation")
	return c.loadPage(pageCtx, pageID)
}

// Logout tears the whole subsystem down: pin state, playback content, and
// every outstanding audio grant.
func (c *Coordinator) Logout(ctx context.Context) {
	c.mu.Lock()
	if c.pageCancel != nil {
		c.pageCancel()
		c.pageCancel = nil
	}
	c.pageID = ""
	c.mu.Unlock()

	c.pin.HandleLogout()
	c.arb.ReleaseAll()
	c.store.Clear()
	c.bus.Publish(models.Event{Type: models.EventUserLogout})
}

// SavePlaylist persists the viewer's playlist on the profile service. If the
// viewer's own content is what is currently loaded, the local copy is updated
// too so surfaces do not wait on a refetch.
func (c *Coordinator) SavePlaylist(ctx context.Context, viewerID string, entries []models.PlaylistEntry) error {
	if err := c.profile.SavePlaylist(ctx, entries); err != nil {
		return fmt.Errorf("saving playlist: %w", err)
	}

	snap := c.store.Snapshot()
	if snap.Owner == nil || snap.Owner.UserID != viewerID {
		return nil
	}
	c.store.SetPlaylist(entries)
	if snap.ActiveIndex >= len(entries) {
		c.store.SetActiveIndex(0)
		if len(entries) > 0 {
			c.store.SetSrc(entries[0].URL)
			c.store.SetTrackTitle(entries[0].Title)
		} else {
			c.store.SetSrc("")
			c.store.SetTrackTitle("")
		}
	}
	return nil
}

// loadCurrentPage re-runs the page load for whatever page is being viewed.
// The pin manager calls this after an unpin or expiry to restore page-local
// ownership.
func (c *Coordinator) loadCurrentPage(ctx context.Context) {
	c.mu.Lock()
	pageID := c.pageID
	c.mu.Unlock()
	if pageID == "" {
		return
	}
	if err := c.loadPage(ctx, pageID); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("coordinator: restoring page content for %s: %v", pageID, err)
	}
}

// loadPage fetches the page owner's playlist and applies it to the store. A
// response that arrives after another navigation has taken over is discarded.
func (c *Coordinator) loadPage(ctx context.Context, pageID string) error {
	if pageID == "" {
		// Not a profile page; nothing page-local to load. Existing content
		// stays for the site-wide widget to keep playing.
		return nil
	}

	info, err := c.profile.GetUserInfo(ctx, pageID)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, models.ErrNotFound) {
		if c.isCurrentPage(pageID) && c.pin.State() != pin.StatePinned {
			c.clearPageContent()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading page %s: %w", pageID, err)
	}

	if !c.isCurrentPage(pageID) {
		return nil
	}
	if c.pin.State() == pin.StatePinned {
		if sess := c.pin.Session(); sess == nil || sess.OwnerUserID != pageID {
			return nil
		}
	}

	allowShuffle := info.PlaylistAllowShuffle
	if allowShuffle == nil && c.db != nil {
		pref, prefErr := c.db.GetOwnerShuffle(pageID)
		if prefErr != nil {
			log.Printf("coordinator: reading shuffle pref for %s: %v", pageID, prefErr)
		} else {
			allowShuffle = pref
		}
	}

	c.store.SetPlayerOwner(&models.PlaybackOwner{
		UserID:       pageID,
		Username:     info.Username,
		AllowShuffle: allowShuffle,
	})
	c.store.SetPlaylist(info.Playlist)
	c.store.SetActiveIndex(0)
	c.store.SetShuffleAllowed(allowShuffle != nil && *allowShuffle)
	c.store.SetOriginURL("/u/" + pageID)
	if len(info.Playlist) > 0 {
		c.store.SetSrc(info.Playlist[0].URL)
		c.store.SetTrackTitle(info.Playlist[0].Title)
	} else {
		c.store.SetSrc("")
		c.store.SetTrackTitle("")
	}
	return nil
}

func (c *Coordinator) isCurrentPage(pageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageID == pageID
}

func (c *Coordinator) clearPageContent() {
	c.store.SetPlayerOwner(nil)
	c.store.SetPlaylist(nil)
	c.store.SetActiveIndex(0)
	c.store.SetShuffleAllowed(false)
	c.store.SetSrc("")
	c.store.SetTrackTitle("")
}
