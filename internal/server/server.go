// Package server exposes the coordination core over HTTP and WebSocket.
// Playback surfaces (mini player widget, music modal, profile pages) connect
// here: state reads and mutations over JSON endpoints, live events and audio
// element control over the socket.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"playsync/internal/arbiter"
	"playsync/internal/auth"
	"playsync/internal/bus"
	"playsync/internal/coordinator"
	"playsync/internal/listen"
	"playsync/internal/pin"
	"playsync/internal/playback"
	"playsync/internal/store"
	"playsync/internal/version"
)

type Server struct {
	router       chi.Router
	db           *store.Store
	auth         *auth.Service
	playback     *playback.Store
	arb          *arbiter.Arbiter
	pin          *pin.Manager
	coord        *coordinator.Coordinator
	bus          *bus.Bus
	acc          *listen.Accumulator
	checker      *version.Checker
	corsOrigin   string
	upgrader     websocket.Upgrader
	loginLimiter *authLimiter
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithAccumulator(a *listen.Accumulator) Option {
	return func(s *Server) { s.acc = a }
}

func WithVersionChecker(c *version.Checker) Option {
	return func(s *Server) { s.checker = c }
}

func NewServer(db *store.Store, authSvc *auth.Service, pb *playback.Store, arb *arbiter.Arbiter, pm *pin.Manager, coord *coordinator.Coordinator, b *bus.Bus, opts ...Option) *Server {
	srv := &Server{
		router:       chi.NewRouter(),
		db:           db,
		auth:         authSvc,
		playback:     pb,
		arb:          arb,
		pin:          pm,
		coord:        coord,
		bus:          b,
		loginLimiter: newAuthLimiter(),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     srv.checkOrigin,
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.corsOrigin == "" {
		return true
	}
	return r.Header.Get("Origin") == s.corsOrigin
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
