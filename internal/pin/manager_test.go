package pin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playsync/internal/arbiter"
	"playsync/internal/bus"
	"playsync/internal/models"
	"playsync/internal/playback"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeProfile struct {
	mu         sync.Mutex
	infos      map[string]*models.UserInfo
	err        error
	getCalls   int
	unpinCalls int
}

func (f *fakeProfile) GetUserInfo(ctx context.Context, id string) (*models.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *info
	return &c, nil
}

func (f *fakeProfile) Unpin(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpinCalls++
	return nil
}

func (f *fakeProfile) calls() (gets, unpins int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls, f.unpinCalls
}

func (f *fakeProfile) setPlaylist(id string, entries []models.PlaylistEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := *f.infos[id]
	info.Playlist = entries
	f.infos[id] = &info
}

type fakeCache struct {
	mu       sync.Mutex
	sessions map[string]models.PinnedSession
}

func (f *fakeCache) SavePinnedSession(viewerID string, session models.PinnedSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[viewerID] = session
	return nil
}

func (f *fakeCache) LoadPinnedSession(viewerID string) (*models.PinnedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[viewerID]
	if !ok {
		return nil, nil
	}
	c := s
	return &c, nil
}

func (f *fakeCache) ClearPinnedSession(viewerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, viewerID)
	return nil
}

func (f *fakeCache) has(viewerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[viewerID]
	return ok
}

type pinEnv struct {
	m       *Manager
	profile *fakeProfile
	cache   *fakeCache
	store   *playback.Store
	bus     *bus.Bus
	clock   *fakeClock
}

func newPinEnv(t *testing.T) *pinEnv {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	st := playback.NewStore(arbiter.New(), b)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	profile := &fakeProfile{infos: map[string]*models.UserInfo{
		"owner1": {
			Username: "bob",
			Playlist: []models.PlaylistEntry{
				{URL: "a.mp3", Title: "A"},
				{URL: "b.mp3", Title: "B"},
			},
		},
	}}
	cache := &fakeCache{sessions: make(map[string]models.PinnedSession)}
	m := NewManager(profile, cache, st, b, WithNow(clock.Now))
	return &pinEnv{m: m, profile: profile, cache: cache, store: st, bus: b, clock: clock}
}

func TestPinEstablishesSession(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")

	events := env.bus.Subscribe()
	defer env.bus.Unsubscribe(events)

	require.NoError(t, env.m.Pin(ctx, "owner1", nil))
	assert.Equal(t, StatePinned, env.m.State())

	snap := env.store.Snapshot()
	require.NotNil(t, snap.Owner)
	assert.Equal(t, "owner1", snap.Owner.UserID)
	require.NotNil(t, snap.PinnedOwner)
	assert.Equal(t, "bob", snap.PinnedOwner.Username)
	assert.Len(t, snap.Playlist, 2)
	assert.Equal(t, "a.mp3", snap.Src)
	assert.Equal(t, "A", snap.TrackTitle)

	assert.True(t, env.cache.has("viewer1"))

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != models.EventPinnedPlayerChanged {
				continue
			}
			require.NotNil(t, ev.PinnedPlayerChanged)
			assert.True(t, ev.PinnedPlayerChanged.IsPinned)
			require.NotNil(t, ev.PinnedPlayerChanged.Session)
			assert.Equal(t, "owner1", ev.PinnedPlayerChanged.Session.OwnerUserID)
			return
		case <-deadline:
			t.Fatal("no pinnedPlayerChanged event")
		}
	}
}

func TestPinRequiresResolvedViewer(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()

	err := env.m.Pin(ctx, "owner1", nil)
	assert.True(t, errors.Is(err, ErrNoViewer))

	env.m.SetViewer(ctx, "")
	err = env.m.Pin(ctx, "owner1", nil)
	assert.True(t, errors.Is(err, ErrNoViewer))
}

func TestPinFetchFailureRevertsState(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")

	env.profile.err = errors.New("upstream down")
	err := env.m.Pin(ctx, "owner1", nil)
	assert.Error(t, err)
	assert.Equal(t, StateUnpinned, env.m.State())
	assert.False(t, env.cache.has("viewer1"))
}

func TestPinUnknownOwnerFails(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")

	err := env.m.Pin(ctx, "ghost", nil)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, StateUnpinned, env.m.State())
}

func TestUnpinTearsDownEverywhere(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	var reloaded bool
	env.m.SetPageLoader(func(context.Context) { reloaded = true })

	env.m.Unpin(ctx)

	assert.Equal(t, StateUnpinned, env.m.State())
	assert.False(t, env.cache.has("viewer1"))
	_, unpins := env.profile.calls()
	assert.Equal(t, 1, unpins)
	assert.True(t, reloaded)
	assert.Nil(t, env.store.Snapshot().PinnedOwner)
}

func TestReconcileExpiresStaleSession(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")

	expires := env.clock.Now().Add(-time.Second)
	require.NoError(t, env.m.Pin(ctx, "owner1", &expires))
	require.Equal(t, StatePinned, env.m.State())

	var reloaded bool
	env.m.SetPageLoader(func(context.Context) { reloaded = true })

	env.m.Reconcile(ctx, "mount")

	assert.Equal(t, StateUnpinned, env.m.State())
	assert.Nil(t, env.m.Session())
	assert.False(t, env.cache.has("viewer1"))
	_, unpins := env.profile.calls()
	assert.Equal(t, 1, unpins)
	assert.True(t, reloaded)
}

func TestReconcileKeepsLiveSession(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")

	expires := env.clock.Now().Add(time.Hour)
	require.NoError(t, env.m.Pin(ctx, "owner1", &expires))

	env.m.Reconcile(ctx, "mount")
	assert.Equal(t, StatePinned, env.m.State())
}

func TestReconcileSkipsWhileViewerUnresolved(t *testing.T) {
	env := newPinEnv(t)

	env.m.Reconcile(context.Background(), "mount")
	gets, _ := env.profile.calls()
	assert.Zero(t, gets)
	assert.Equal(t, StateUnpinned, env.m.State())
}

func TestReconcileFetchesFreshPlaylist(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	env.profile.setPlaylist("owner1", []models.PlaylistEntry{{URL: "new.mp3", Title: "New"}})
	env.clock.Advance(DefaultCooldown + time.Second)

	env.m.Reconcile(ctx, "navigation")

	snap := env.store.Snapshot()
	require.Len(t, snap.Playlist, 1)
	assert.Equal(t, "new.mp3", snap.Playlist[0].URL)
	assert.Equal(t, "new.mp3", snap.Src)
}

func TestReconcileDefersToOwnPageLoad(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))
	gets, _ := env.profile.calls()

	env.m.SetPage("owner1")
	env.clock.Advance(DefaultCooldown + time.Second)
	env.m.Reconcile(ctx, "navigation")

	after, _ := env.profile.calls()
	assert.Equal(t, gets, after)
}

func TestReconcileDebounced(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	env.clock.Advance(DefaultCooldown + time.Second)
	env.m.Reconcile(ctx, "navigation")
	gets, _ := env.profile.calls()

	// Within the cooling interval nothing is fetched again.
	env.m.Reconcile(ctx, "remount")
	env.m.Reconcile(ctx, "remount")
	after, _ := env.profile.calls()
	assert.Equal(t, gets, after)

	// An external playlist edit bypasses the cooldown.
	env.m.HandlePlaylistChanged(ctx)
	after, _ = env.profile.calls()
	assert.Equal(t, gets+1, after)
}

func TestRefreshOwnerGoneClearsPlaylist(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	env.profile.mu.Lock()
	delete(env.profile.infos, "owner1")
	env.profile.mu.Unlock()

	env.clock.Advance(DefaultCooldown + time.Second)
	env.m.Reconcile(ctx, "navigation")

	assert.Equal(t, StatePinned, env.m.State())
	snap := env.store.Snapshot()
	assert.Empty(t, snap.Playlist)
	assert.Empty(t, snap.Src)
}

func TestRefreshTransientFailureKeepsCachedSession(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	env.profile.mu.Lock()
	env.profile.err = errors.New("timeout")
	env.profile.mu.Unlock()

	env.clock.Advance(DefaultCooldown + time.Second)
	env.m.Reconcile(ctx, "navigation")

	assert.Equal(t, StatePinned, env.m.State())
	snap := env.store.Snapshot()
	assert.Len(t, snap.Playlist, 2)
	assert.Equal(t, "a.mp3", snap.Src)
}

func TestSetViewerRestoresCachedSession(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()

	require.NoError(t, env.cache.SavePinnedSession("viewer1", models.PinnedSession{
		OwnerUserID:   "owner1",
		OwnerUsername: "bob",
		Playlist:      []models.PlaylistEntry{{URL: "a.mp3", Title: "A"}},
	}))

	env.m.SetViewer(ctx, "viewer1")

	assert.Equal(t, StatePinned, env.m.State())
	snap := env.store.Snapshot()
	require.NotNil(t, snap.Owner)
	assert.Equal(t, "owner1", snap.Owner.UserID)
}

func TestSetViewerExpiresStaleCachedSession(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()

	expired := env.clock.Now().Add(-time.Minute)
	require.NoError(t, env.cache.SavePinnedSession("viewer1", models.PinnedSession{
		OwnerUserID: "owner1",
		ExpiresAt:   &expired,
	}))

	env.m.SetViewer(ctx, "viewer1")

	assert.Equal(t, StateUnpinned, env.m.State())
	assert.False(t, env.cache.has("viewer1"))
	_, unpins := env.profile.calls()
	assert.Equal(t, 1, unpins)
}

func TestSubscriptionRenewalExtendsExpiry(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")

	expires := env.clock.Now().Add(time.Minute)
	require.NoError(t, env.m.Pin(ctx, "owner1", &expires))
	gets, _ := env.profile.calls()

	renewed := env.clock.Now().Add(time.Hour)
	env.m.HandleSubscriptionRenewed(models.SubscriptionRenewal{
		SubscriptionType: "pinPlayer",
		ExpiresAt:        renewed,
	})

	sess := env.m.Session()
	require.NotNil(t, sess)
	require.NotNil(t, sess.ExpiresAt)
	assert.True(t, renewed.Equal(*sess.ExpiresAt))

	// Merge only, no full reconciliation pass.
	after, _ := env.profile.calls()
	assert.Equal(t, gets, after)

	// Other subscription types are not ours.
	env.m.HandleSubscriptionRenewed(models.SubscriptionRenewal{
		SubscriptionType: "newsletter",
		ExpiresAt:        env.clock.Now(),
	})
	sess = env.m.Session()
	require.NotNil(t, sess.ExpiresAt)
	assert.True(t, renewed.Equal(*sess.ExpiresAt))
}

func TestLogoutDropsStateKeepsCache(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	env.m.HandleLogout()

	assert.Equal(t, StateUnpinned, env.m.State())
	assert.Nil(t, env.m.Session())
	// The cached record stays for the viewer's next login.
	assert.True(t, env.cache.has("viewer1"))

	// Viewer is unresolved again; reconciliation is inert.
	gets, _ := env.profile.calls()
	env.m.Reconcile(ctx, "mount")
	after, _ := env.profile.calls()
	assert.Equal(t, gets, after)
}

func TestViewerChangeDropsPreviousViewersPin(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()

	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))
	require.Equal(t, StatePinned, env.m.State())

	env.m.SetViewer(ctx, "viewer2")

	assert.Equal(t, StateUnpinned, env.m.State())
	assert.Nil(t, env.m.Session())
	assert.Nil(t, env.store.Snapshot().PinnedOwner)

	// viewer1's record survives for their next login; viewer2 gets nothing.
	assert.True(t, env.cache.has("viewer1"))
	assert.False(t, env.cache.has("viewer2"))
	cached, err := env.cache.LoadPinnedSession("viewer1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "owner1", cached.OwnerUserID)
}

func TestViewerChangeRestoresNewViewersOwnPin(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()

	env.profile.mu.Lock()
	env.profile.infos["owner2"] = &models.UserInfo{
		Username: "carol",
		Playlist: []models.PlaylistEntry{{URL: "c.mp3", Title: "C"}},
	}
	env.profile.mu.Unlock()
	require.NoError(t, env.cache.SavePinnedSession("viewer2", models.PinnedSession{
		OwnerUserID:   "owner2",
		OwnerUsername: "carol",
		Playlist:      []models.PlaylistEntry{{URL: "c.mp3", Title: "C"}},
	}))

	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	env.m.SetViewer(ctx, "viewer2")

	require.Equal(t, StatePinned, env.m.State())
	sess := env.m.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "owner2", sess.OwnerUserID)
	snap := env.store.Snapshot()
	require.NotNil(t, snap.PinnedOwner)
	assert.Equal(t, "owner2", snap.PinnedOwner.UserID)
}

func TestPinCapturesActiveTrack(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")

	// The owner's page content is loaded and the viewer is on track 1.
	env.store.SetPlayerOwner(&models.PlaybackOwner{UserID: "owner1", Username: "bob"})
	env.store.SetPlaylist([]models.PlaylistEntry{
		{URL: "a.mp3", Title: "A"},
		{URL: "b.mp3", Title: "B"},
	})
	env.store.SetActiveIndex(1)

	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	sess := env.m.Session()
	require.NotNil(t, sess)
	assert.Equal(t, 1, sess.CurrentIndex)
	snap := env.store.Snapshot()
	assert.Equal(t, 1, snap.ActiveIndex)
	assert.Equal(t, "b.mp3", snap.Src)

	cached, err := env.cache.LoadPinnedSession("viewer1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 1, cached.CurrentIndex)
}

func TestSetCurrentIndexUpdatesSessionAndCache(t *testing.T) {
	env := newPinEnv(t)
	ctx := context.Background()
	env.m.SetViewer(ctx, "viewer1")
	require.NoError(t, env.m.Pin(ctx, "owner1", nil))

	env.m.SetCurrentIndex(1)

	sess := env.m.Session()
	require.NotNil(t, sess)
	assert.Equal(t, 1, sess.CurrentIndex)
	cached, err := env.cache.LoadPinnedSession("viewer1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 1, cached.CurrentIndex)

	// Out-of-range selections are ignored.
	env.m.SetCurrentIndex(5)
	assert.Equal(t, 1, env.m.Session().CurrentIndex)
}

func TestSetCurrentIndexIgnoredWhileUnpinned(t *testing.T) {
	env := newPinEnv(t)
	env.m.SetViewer(context.Background(), "viewer1")

	env.m.SetCurrentIndex(1)

	assert.Nil(t, env.m.Session())
	assert.False(t, env.cache.has("viewer1"))
}
