// Package version keeps track of whether a newer playsync release has been
// published, for the update hint served at /api/version.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultReleaseAPI = "https://api.github.com/repos/playsync/playsync/releases/latest"
	defaultInterval   = 12 * time.Hour
	maxReleaseBody    = 1 << 20
)

// Info is the payload served to clients.
type Info struct {
	Current         string `json:"version"`
	Latest          string `json:"latest_version,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
	ReleaseURL      string `json:"release_url,omitempty"`
}

// Checker polls the release API in the background and remembers the newest
// published version.
type Checker struct {
	current    string
	releaseAPI string
	interval   time.Duration
	client     *http.Client

	mu     sync.RWMutex
	latest string
	url    string
}

type Option func(*Checker)

func WithReleaseAPI(u string) Option {
	return func(c *Checker) { c.releaseAPI = u }
}

func WithInterval(d time.Duration) Option {
	return func(c *Checker) { c.interval = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Checker) { c.client = h }
}

func NewChecker(current string, opts ...Option) *Checker {
	c := &Checker{
		current:    strings.TrimPrefix(current, "v"),
		releaseAPI: defaultReleaseAPI,
		interval:   defaultInterval,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start polls once immediately and then on the configured interval, until ctx
// is done. Dev builds never poll; there is nothing meaningful to compare.
func (c *Checker) Start(ctx context.Context) {
	if c.current == "dev" {
		<-ctx.Done()
		return
	}
	for {
		if err := c.checkOnce(ctx); err != nil {
			log.Printf("version: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

// Info reports the current and latest-known versions. UpdateAvailable is only
// set once a poll has succeeded and found a strictly newer release.
func (c *Checker) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		Current:         c.current,
		Latest:          c.latest,
		ReleaseURL:      c.url,
		UpdateAvailable: c.current != "dev" && c.latest != "" && newerThan(c.latest, c.current),
	}
}

func (c *Checker) checkOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releaseAPI, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "playsync/"+c.current)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release API returned status %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReleaseBody)).Decode(&release); err != nil {
		return fmt.Errorf("decoding release: %w", err)
	}

	c.mu.Lock()
	c.latest = strings.TrimPrefix(release.TagName, "v")
	c.url = release.HTMLURL
	c.mu.Unlock()
	return nil
}

// newerThan reports whether version a is strictly newer than b. Only the
// numeric major.minor.patch triple is compared; pre-release and build
// suffixes are ignored.
func newerThan(a, b string) bool {
	av, bv := parseVersion(a), parseVersion(b)
	for i := range av {
		if av[i] != bv[i] {
			return av[i] > bv[i]
		}
	}
	return false
}

func parseVersion(v string) [3]int {
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}
