package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"playsync/internal/auth"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := s.auth.Setup(req.Username, req.Email, req.Password)
	if errors.Is(err, auth.ErrSetupComplete) {
		writeError(w, http.StatusConflict, "setup already complete")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	auth.SetSessionCookie(w, r, token)
	s.coord.SetViewer(r.Context(), user.Name)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := s.auth.Login(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		log.Printf("login: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	auth.SetSessionCookie(w, r, token)
	s.coord.SetViewer(r.Context(), user.Name)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		if err := s.auth.Logout(cookie.Value); err != nil {
			log.Printf("logout: %v", err)
		}
	}
	auth.ClearSessionCookie(w, r)
	s.coord.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe doubles as the async login check: resolving the session here is
// what unblocks pin reconciliation. A missing session resolves the viewer as
// anonymous, which is a definitive answer, not an error.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		s.coord.SetViewer(r.Context(), "")
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	s.coord.SetViewer(r.Context(), user.Name)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	required, err := s.auth.SetupRequired()
	if err != nil {
		log.Printf("auth status: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"setup_required": required})
}
