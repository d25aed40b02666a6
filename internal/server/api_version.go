package server

import "net/http"

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "version checker not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.checker.Info())
}
