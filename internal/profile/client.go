// Package profile is the client for the profile service that owns user CRUD,
// playlists, pins, and listen analytics. The coordination core only consumes
// the small request/response surface defined here.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"playsync/internal/httputil"
	"playsync/internal/models"
)

// ValidateURL checks that the given URL is valid for use as the profile
// service endpoint.
var ValidateURL = httputil.ValidateBaseURL

type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

type Option func(*Client)

// WithAuthToken attaches the viewer's site session token to every request.
// Without it the client acts as an anonymous viewer.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := ValidateURL(baseURL); err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: baseURL,
		http:    httputil.NewClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("connection failed: %w", err)
	}
	defer httputil.DrainBody(resp)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, resp.StatusCode, fmt.Errorf("profile service returned status %d: %s",
			resp.StatusCode, httputil.Truncate(raw, 200))
	}
	return json.RawMessage(raw), resp.StatusCode, nil
}

// GetUserInfo fetches a user's playlist and, when called as the user
// themselves, their active pin. A 4xx or empty response is reported as
// models.ErrNotFound: for anonymous viewers and deleted users alike there is
// simply nothing to play, which is not a user-facing error.
func (c *Client) GetUserInfo(ctx context.Context, id string) (*models.UserInfo, error) {
	q := url.Values{"id": {id}}
	raw, status, err := c.do(ctx, http.MethodGet, "/api/user-info", q, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 || len(raw) == 0 {
		return nil, fmt.Errorf("user %q: %w", id, models.ErrNotFound)
	}

	var info models.UserInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decoding user info: %w", err)
	}
	return &info, nil
}

// Unpin removes the caller's current pin. The server treats this as
// idempotent, so a 4xx (no pin, or anonymous caller) is success.
func (c *Client) Unpin(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodDelete, "/api/player/pin", nil, nil)
	return err
}

// SavePlaylist persists a playlist for the authenticated viewer.
func (c *Client) SavePlaylist(ctx context.Context, entries []models.PlaylistEntry) error {
	payload := struct {
		Playlist []models.PlaylistEntry `json:"playlist"`
	}{Playlist: entries}
	_, status, err := c.do(ctx, http.MethodPost, "/api/user/save-playlist", nil, payload)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("saving playlist: status %d", status)
	}
	return nil
}

// TrackProgress submits a listen-threshold report for a track. Callers treat
// this as fire-and-forget.
func (c *Client) TrackProgress(ctx context.Context, trackID string, report models.ListenReport) error {
	path := "/api/music/" + url.PathEscape(trackID) + "/track-progress"
	_, status, err := c.do(ctx, http.MethodPost, path, nil, report)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("track progress: status %d", status)
	}
	return nil
}
