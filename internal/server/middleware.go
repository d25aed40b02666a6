package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxBodySize = 1 << 20 // 1MB

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next.ServeHTTP(w, r)
	})
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authLimiter throttles login attempts per client IP. Entries idle for more
// than the prune interval are dropped to bound memory.
type authLimiter struct {
	mu       sync.Mutex
	limiters map[string]*authLimiterEntry
}

type authLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAuthLimiter() *authLimiter {
	return &authLimiter{limiters: make(map[string]*authLimiterEntry)}
}

const authLimiterPruneAfter = 15 * time.Minute

func (l *authLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > authLimiterPruneAfter {
			delete(l.limiters, k)
		}
	}

	e, ok := l.limiters[ip]
	if !ok {
		// 20 attempts, refilling one per 45 seconds.
		e = &authLimiterEntry{limiter: rate.NewLimiter(rate.Every(45*time.Second), 20)}
		l.limiters[ip] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// rateLimitAuth throttles authentication endpoints. Uses RemoteAddr directly;
// X-Forwarded-For can be spoofed by clients.
func (s *Server) rateLimitAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !s.loginLimiter.allow(ip) {
			w.Header().Set("Retry-After", "90")
			http.Error(w, `{"error":"too many attempts, try again later"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
