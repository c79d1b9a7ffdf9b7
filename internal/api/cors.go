package api

import (
	"net/http"
	"slices"
)

// originAllowed reports whether a browser origin is in the configured list.
// "*" admits every origin.
func (s *Server) originAllowed(origin string) bool {
	allowed := s.config.CORSAllowedOrigins
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// CORSMiddleware sets CORS headers for browser clients of the sync API.
// Requests without an Origin, or from an origin not listed, pass through
// untouched.
func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	if len(s.config.CORSAllowedOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !s.originAllowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
