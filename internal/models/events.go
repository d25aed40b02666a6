package models

import "time"

// EventType names the broadcast events that cross-surface consumers react to.
type EventType string

const (
	// EventPinnedPlayerChanged fires on every pin state transition.
	EventPinnedPlayerChanged EventType = "pinnedPlayerChanged"
	// EventPlaylistChanged fires when the pinned owner's server-side playlist
	// was edited elsewhere; the pin manager must re-fetch it.
	EventPlaylistChanged EventType = "playlistChanged"
	// EventSubscriptionRenewed extends the active pin's expiry without a full
	// reconciliation pass.
	EventSubscriptionRenewed EventType = "subscriptionRenewed"
	// EventUserLogout clears all playback and pin state and releases the
	// audio arbiter.
	EventUserLogout EventType = "userLogout"
	// EventPlaybackChanged fires whenever the ownership store's observable
	// state changes.
	EventPlaybackChanged EventType = "playbackChanged"
)

// Event is a broadcast message. Exactly the payload field matching Type is
// populated; the rest are nil.
type Event struct {
	Type                EventType            `json:"type"`
	PinnedPlayerChanged *PinnedPlayerChange  `json:"pinnedPlayerChanged,omitempty"`
	SubscriptionRenewed *SubscriptionRenewal `json:"subscriptionRenewed,omitempty"`
	Playback            *PlaybackSnapshot    `json:"playback,omitempty"`
}

// PinnedPlayerChange carries the new pin state. Session is nil when the pin
// was cleared.
type PinnedPlayerChange struct {
	IsPinned bool           `json:"isPinned"`
	Session  *PinnedSession `json:"pinnedPlayer,omitempty"`
}

// SubscriptionRenewal is an externally-driven extension of the pin expiry.
type SubscriptionRenewal struct {
	SubscriptionType string    `json:"subscriptionType"`
	ExpiresAt        time.Time `json:"expiresAt"`
}
