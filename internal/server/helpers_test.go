package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"playsync/internal/arbiter"
	"playsync/internal/auth"
	"playsync/internal/bus"
	"playsync/internal/coordinator"
	"playsync/internal/models"
	"playsync/internal/pin"
	"playsync/internal/playback"
	"playsync/internal/store"
	"playsync/migrations"
)

type fakeProfile struct {
	mu    sync.Mutex
	infos map[string]*models.UserInfo
	saved []models.PlaylistEntry
}

func (f *fakeProfile) GetUserInfo(ctx context.Context, id string) (*models.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *info
	return &c, nil
}

func (f *fakeProfile) Unpin(ctx context.Context) error { return nil }

func (f *fakeProfile) SavePlaylist(ctx context.Context, entries []models.PlaylistEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = entries
	return nil
}

type testEnv struct {
	t       *testing.T
	ts      *httptest.Server
	srv     *Server
	client  *http.Client
	db      *store.Store
	bus     *bus.Bus
	arb     *arbiter.Arbiter
	pb      *playback.Store
	pin     *pin.Manager
	coord   *coordinator.Coordinator
	profile *fakeProfile
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(migrations.Files))

	b := bus.New()
	t.Cleanup(b.Close)
	arb := arbiter.New()
	pb := playback.NewStore(arb, b)
	profile := &fakeProfile{infos: map[string]*models.UserInfo{
		"alice": {
			Username: "alice",
			Playlist: []models.PlaylistEntry{
				{URL: "alice1.mp3", Title: "Alice One"},
				{URL: "alice2.mp3", Title: "Alice Two"},
			},
		},
		"bob": {
			Username: "bob",
			Playlist: []models.PlaylistEntry{{URL: "bob1.mp3", Title: "Bob One"}},
		},
	}}
	pm := pin.NewManager(profile, db, pb, b, pin.WithCooldown(0))
	coord := coordinator.New(pb, arb, pm, profile, b, db)
	srv := NewServer(db, auth.NewService(db), pb, arb, pm, coord, b)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		t:       t,
		ts:      ts,
		srv:     srv,
		client:  &http.Client{Jar: jar},
		db:      db,
		bus:     b,
		arb:     arb,
		pb:      pb,
		pin:     pm,
		coord:   coord,
		profile: profile,
	}
}

func (e *testEnv) request(method, path string, body any) *http.Response {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	return resp
}

func (e *testEnv) decode(resp *http.Response, v any) {
	e.t.Helper()
	defer resp.Body.Close()
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(v))
}

// loginAs creates the first account and leaves its session in the cookie jar.
func (e *testEnv) loginAs(username string) {
	e.t.Helper()
	resp := e.request(http.MethodPost, "/api/auth/setup", map[string]string{
		"username": username,
		"password": "password123",
	})
	resp.Body.Close()
	require.Equal(e.t, http.StatusCreated, resp.StatusCode)
}
