package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))

		r.Group(func(ar chi.Router) {
			ar.Use(s.rateLimitAuth)
			ar.Post("/auth/setup", s.handleSetup)
			ar.Post("/auth/login", s.handleLogin)
		})
		r.With(RequireAuth(s.auth)).Post("/auth/logout", s.handleLogout)
		r.Get("/auth/status", s.handleAuthStatus)

		r.Group(func(pr chi.Router) {
			pr.Use(OptionalAuth(s.auth))

			pr.Get("/me", s.handleMe)
			pr.Get("/playback", s.handleGetPlayback)
			pr.Post("/playback/navigate", s.handleNavigate)
			pr.Post("/playback/track", s.handleSelectTrack)
			pr.Post("/playback/play", s.handlePlay)
			pr.Post("/playback/pause", s.handlePause)
			pr.Post("/playback/shuffle", s.handleSetShuffle)
			pr.Post("/playback/share-mode", s.handleSetShareMode)
			pr.Post("/playback/mini-player", s.handleSetMiniPlayer)

			pr.Post("/pin", s.handlePin)
			pr.Delete("/pin", s.handleUnpin)
		})

		r.With(RequireAuth(s.auth)).Group(func(ur chi.Router) {
			ur.Put("/playlist", s.handleSavePlaylist)
			ur.Get("/prefs", s.handleGetPrefs)
			ur.Put("/prefs", s.handleSetPrefs)
			ur.Put("/owners/{id}/shuffle", s.handleSetOwnerShuffle)
		})

		r.Post("/webhooks/playlist-changed", s.handlePlaylistChangedWebhook)
		r.Post("/webhooks/subscription-renewed", s.handleSubscriptionRenewedWebhook)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(corsMiddleware(s.corsOrigin))
		r.Get("/api/ws", s.handleWS)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
