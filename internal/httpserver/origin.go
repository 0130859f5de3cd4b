package httpserver

import (
	"net/http"
	"strings"
)

// WithOriginPolicy rejects browser requests whose Origin is not allowed and
// adds CORS headers for the ones that are. Requests without an Origin header
// (non-browser clients) pass through.
func (s *Server) WithOriginPolicy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		normalizedOrigin, ok := s.policy.Allow(originHeader, r.Host)
		if !ok {
			s.log.Debug("rejecting request from disallowed origin", "origin", originHeader, "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		next.ServeHTTP(w, r)
	})
}
