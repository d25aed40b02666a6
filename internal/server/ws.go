package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"playsync/internal/arbiter"
	"playsync/internal/models"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 32
)

// wsMessage is the socket frame in both directions. Surfaces send playback
// observations and requests; the server sends broadcast events, element
// commands, and grant decisions.
type wsMessage struct {
	Type string `json:"type"`

	// Client to server.
	Surface  string  `json:"surface,omitempty"`
	Src      string  `json:"src,omitempty"`
	TrackID  string  `json:"trackId,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Position float64 `json:"position,omitempty"`
	From     float64 `json:"from,omitempty"`
	To       float64 `json:"to,omitempty"`

	// Server to client.
	Action  string        `json:"action,omitempty"`
	Granted *bool         `json:"granted,omitempty"`
	Event   *models.Event `json:"event,omitempty"`
}

// wsElement is the arbiter's handle to a surface's audio element on the other
// end of the socket. Play and Pause are relayed as commands; the position is
// extrapolated from the last report so the accumulator's interval poll keeps
// working while the surface's own tick stream is throttled.
type wsElement struct {
	send chan<- wsMessage

	mu        sync.Mutex
	src       string
	playing   bool
	lastPos   float64
	lastPosAt time.Time
}

var errSurfaceBusy = errors.New("surface send buffer full")

func (e *wsElement) Play(ctx context.Context) error {
	select {
	case e.send <- wsMessage{Type: "command", Action: "play"}:
	default:
		return errSurfaceBusy
	}
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	return nil
}

func (e *wsElement) Pause() {
	select {
	case e.send <- wsMessage{Type: "command", Action: "pause"}:
	default:
		log.Printf("ws: dropping pause command for slow surface")
	}
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
}

func (e *wsElement) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

func (e *wsElement) setSource(src string) {
	e.mu.Lock()
	e.src = src
	e.mu.Unlock()
}

func (e *wsElement) observe(pos float64, playing bool) {
	e.mu.Lock()
	e.lastPos = pos
	e.playing = playing
	e.lastPosAt = time.Now()
	e.mu.Unlock()
}

// Position extrapolates the current playback position from the last report.
func (e *wsElement) Position() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastPosAt.IsZero() {
		return 0, false
	}
	if !e.playing {
		return e.lastPos, true
	}
	return e.lastPos + time.Since(e.lastPosAt).Seconds(), true
}

// GrantedPosition reports the extrapolated position of whichever element
// holds the audio grant. Feeds the listen accumulator's poll fallback.
func (s *Server) GrantedPosition() (float64, bool) {
	el, ok := s.arb.GrantedElement()
	if !ok {
		return 0, false
	}
	wse, ok := el.(*wsElement)
	if !ok {
		return 0, false
	}
	return wse.Position()
}

func surfacePriority(surface string) arbiter.Priority {
	switch surface {
	case "modal":
		return arbiter.PriorityModal
	case "ambient":
		return arbiter.PriorityAmbient
	default:
		return arbiter.PriorityMiniPlayer
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}

	send := make(chan wsMessage, wsSendBuffer)
	events := s.bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer conn.Close()
		for {
			var msg wsMessage
			var ok bool
			select {
			case msg, ok = <-send:
				if !ok {
					return
				}
			case ev, open := <-events:
				if !open {
					return
				}
				msg = wsMessage{Type: "event", Event: &ev}
			case <-done:
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	el := &wsElement{send: send}
	var token string
	defer func() {
		if token != "" {
			s.arb.Release(token)
		}
		s.bus.Unsubscribe(events)
		close(done)
		conn.Close()
	}()

	ctx := r.Context()
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws read: %v", err)
			}
			return
		}

		switch msg.Type {
		case "register":
			if token != "" {
				s.arb.Release(token)
			}
			el.setSource(msg.Src)
			token = s.arb.Register(el, surfacePriority(msg.Surface))

		case "setSource":
			el.setSource(msg.Src)

		case "setTrack":
			el.setSource(msg.Src)
			if s.acc != nil {
				s.acc.SetTrack(msg.TrackID, msg.Src, msg.Duration)
			}

		case "requestPlay":
			if token == "" {
				continue
			}
			granted, playErr := s.arb.RequestPlay(ctx, token)
			if playErr != nil {
				log.Printf("ws: element refused play: %v", playErr)
			}
			g := granted
			select {
			case send <- wsMessage{Type: "granted", Granted: &g}:
			default:
			}

		case "play":
			el.observe(msg.Position, true)
			if s.acc != nil {
				s.acc.OnPlay(msg.Position)
			}

		case "tick":
			el.observe(msg.Position, true)
			if s.acc != nil {
				s.acc.OnTick(ctx, msg.Position)
			}

		case "pause":
			el.observe(msg.Position, false)
			if s.acc != nil {
				s.acc.OnPause(ctx, msg.Position)
			}

		case "seeked":
			el.observe(msg.To, el.playingNow())
			if s.acc != nil {
				s.acc.OnSeeked(ctx, msg.From, msg.To)
			}

		case "release":
			if token != "" {
				s.arb.Release(token)
				token = ""
			}
		}
	}
}

func (e *wsElement) playingNow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}
