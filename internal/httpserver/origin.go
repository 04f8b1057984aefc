package httpserver

import (
	"net/http"
	"strings"
)

// withOriginPolicy rejects browser requests from origins the policy does not
// allow and adds CORS headers for the ones it does.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(r.Header.Values("Origin")) > 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		normalized, ok := s.origins.Check(r.Header.Get("Origin"), r.Host)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if normalized == "" {
			next(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalized)
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
