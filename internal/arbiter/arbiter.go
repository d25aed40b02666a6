// Package arbiter brokers exclusive use of the single audio output among the
// surfaces that want it. Surfaces register claims at a priority tier; only
// one claim is granted at a time and everyone else stays paused.
package arbiter

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Priority orders competing claims. An explicit user action always outranks a
// background process.
type Priority int

const (
	// PriorityAmbient is for background previews that should never interrupt
	// anything the user asked for.
	PriorityAmbient Priority = 1
	// PriorityMiniPlayer is the page-embedded mini player widget.
	PriorityMiniPlayer Priority = 2
	// PriorityModal is the user-opened full music modal.
	PriorityModal Priority = 3
)

// Element is the arbiter's handle to a surface-owned audio element. Play may
// fail (the surface's autoplay policy rejected it); that is expected and
// leaves the element paused. The arbiter never reports state to surfaces
// directly: each surface reacts to its own element's play/pause callbacks.
type Element interface {
	Play(ctx context.Context) error
	Pause()
	Source() string
}

type claim struct {
	el       Element
	priority Priority
	seq      uint64
	// wants is set while the claim has an outstanding play request that was
	// granted or deferred, and cleared on ReleaseAll.
	wants bool
}

// Arbiter grants at most one claim system-wide.
type Arbiter struct {
	mu      sync.Mutex
	claims  map[string]*claim
	granted string
	nextSeq uint64
}

func New() *Arbiter {
	return &Arbiter{claims: make(map[string]*claim)}
}

// Register adds an element as a candidate for playback and returns its claim
// token. Registration alone requests nothing.
func (a *Arbiter) Register(el Element, priority Priority) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	token := uuid.NewString()
	a.nextSeq++
	a.claims[token] = &claim{el: el, priority: priority, seq: a.nextSeq}
	return token
}

// RequestPlay asks for the audio output on behalf of the claim. If no claim
// is granted, or the requester's priority is at least the current holder's,
// the holder is paused and the requester granted. A lower-priority request is
// silently deferred: the claim stays registered and paused, eligible for
// promotion when the holder releases.
//
// The returned bool reports whether the claim was granted. A non-nil error
// with granted=true means the element refused to start (autoplay policy);
// the grant stands and the element stays paused.
func (a *Arbiter) RequestPlay(ctx context.Context, token string) (bool, error) {
	a.mu.Lock()
	c, ok := a.claims[token]
	if !ok {
		a.mu.Unlock()
		return false, nil
	}
	c.wants = true

	if a.granted == token {
		el := c.el
		a.mu.Unlock()
		return true, el.Play(ctx)
	}

	if holder, held := a.claims[a.granted]; held && c.priority < holder.priority {
		a.mu.Unlock()
		return false, nil
	}

	var pause Element
	if holder, held := a.claims[a.granted]; held {
		pause = holder.el
	}
	a.granted = token
	el := c.el
	a.mu.Unlock()

	if pause != nil {
		pause.Pause()
	}
	return true, el.Play(ctx)
}

// Release relinquishes a claim. If it held the grant, the next-highest
// remaining claim with an outstanding request is promoted; otherwise the
// output goes idle.
func (a *Arbiter) Release(token string) {
	a.mu.Lock()
	c, ok := a.claims[token]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.claims, token)
	if a.granted != token {
		a.mu.Unlock()
		return
	}
	a.granted = ""
	next, nextToken := a.pickNextLocked()
	if next != nil {
		a.granted = nextToken
	}
	a.mu.Unlock()

	c.el.Pause()
	if next != nil {
		if err := next.Play(context.Background()); err != nil {
			log.Printf("arbiter: resuming promoted claim: %v", err)
		}
	}
}

// ReleaseAll pauses the current holder and drops every outstanding play
// request. Claims stay registered. Used on hard teardown such as closing the
// music modal.
func (a *Arbiter) ReleaseAll() {
	a.mu.Lock()
	var pause Element
	if holder, held := a.claims[a.granted]; held {
		pause = holder.el
	}
	a.granted = ""
	for _, c := range a.claims {
		c.wants = false
	}
	a.mu.Unlock()

	if pause != nil {
		pause.Pause()
	}
}

// Granted returns the token currently holding the grant, if any.
func (a *Arbiter) Granted() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.granted, a.granted != ""
}

// GrantedElement returns the element currently holding the grant, if any.
func (a *Arbiter) GrantedElement() (Element, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.claims[a.granted]
	if !ok {
		return nil, false
	}
	return c.el, true
}

// pickNextLocked finds the highest-priority claim that still wants playback
// and has a playable source. Resumption is skipped for sourceless elements
// rather than treated as an error.
func (a *Arbiter) pickNextLocked() (Element, string) {
	var best *claim
	var bestToken string
	for token, c := range a.claims {
		if !c.wants || c.el.Source() == "" {
			continue
		}
		if best == nil || c.priority > best.priority ||
			(c.priority == best.priority && c.seq > best.seq) {
			best = c
			bestToken = token
		}
	}
	if best == nil {
		return nil, ""
	}
	return best.el, bestToken
}
