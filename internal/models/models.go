package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// PlaylistEntry is one track in an owner's playlist. Entries are immutable;
// ordering defines the track sequence.
type PlaylistEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// PlaybackOwner identifies whose playlist is currently loaded. A nil owner
// means no playable content is loaded.
type PlaybackOwner struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	AllowShuffle *bool  `json:"allowShuffle,omitempty"`
}

// PinnedOwnerInfo marks the loaded owner as a pin override. While set,
// page-local restrictions (e.g. page-scoped share mode) do not apply.
type PinnedOwnerInfo struct {
	UserID    string     `json:"userId"`
	Username  string     `json:"username"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// PinnedSession is a viewer's override that makes another user's playlist the
// active playback content everywhere. A nil ExpiresAt means the pin does not
// expire on its own.
type PinnedSession struct {
	OwnerUserID   string          `json:"ownerUserId"`
	OwnerUsername string          `json:"ownerUsername"`
	Playlist      []PlaylistEntry `json:"playlist"`
	CurrentIndex  int             `json:"currentIndex"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
	AllowShuffle  *bool           `json:"allowShuffle"`
}

// Expired reports whether the session's expiry is in the past at the given
// instant. Sessions without an expiry never expire.
func (p *PinnedSession) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

// ShareMode controls where the mini player follows the viewer.
type ShareMode string

const (
	ShareModePage   ShareMode = "page"
	ShareModeGlobal ShareMode = "global"
)

func (m ShareMode) Valid() bool {
	return m == ShareModePage || m == ShareModeGlobal
}

// UserInfo is the profile service's view of a user: their saved playlist and,
// for the authenticated caller, their own active pin.
type UserInfo struct {
	Username             string          `json:"username"`
	Playlist             []PlaylistEntry `json:"playlist"`
	PlaylistAllowShuffle *bool           `json:"playlistAllowShuffle,omitempty"`
	PinnedPlayer         *PinnedSession  `json:"pinnedPlayer,omitempty"`
}

// ListenReport is the one-shot threshold report sent once a track has
// actually been heard for 10% of its duration.
type ListenReport struct {
	Progress       float64 `json:"progress"`
	Duration       float64 `json:"duration"`
	StartTime      float64 `json:"startTime"`
	PlayedDuration float64 `json:"playedDuration"`
}

// User is a local viewer account.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlaybackSnapshot is the full observable state of the ownership store,
// served over the API and carried on playbackChanged events.
type PlaybackSnapshot struct {
	Playlist          []PlaylistEntry  `json:"playlist"`
	ActiveIndex       int              `json:"activeIndex"`
	Src               string           `json:"src"`
	OriginURL         string           `json:"originUrl"`
	TrackTitle        string           `json:"trackTitle"`
	Owner             *PlaybackOwner   `json:"owner"`
	PinnedOwner       *PinnedOwnerInfo `json:"pinnedOwner"`
	ShuffleAllowed    bool             `json:"shuffleAllowed"`
	ShuffleEnabled    bool             `json:"shuffleEnabled"`
	MiniPlayerEnabled bool             `json:"miniPlayerEnabled"`
	ShareMode         ShareMode        `json:"shareMode"`
}
