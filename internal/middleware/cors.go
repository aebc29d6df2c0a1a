// Package middleware provides HTTP middleware for the chat gateway.
package middleware

import (
	"net/http"
	"strings"

	"github.com/noveloffice/supportify/internal/identity"
)

// CORS returns middleware that handles CORS headers. The widget is
// embedded on customer sites, so origins beyond the static list can be
// admitted through the extra resolver (backed by the widget settings);
// a nil resolver disables that path.
func CORS(allowedOrigins []string, extra func(origin string) bool) func(http.Handler) http.Handler {
	allowedHeaders := strings.Join([]string{"Content-Type", identity.AgentHeaderName}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			explicit := false
			for _, o := range allowedOrigins {
				if o == "*" {
					allowed = true
				}
				if o == origin {
					allowed = true
					explicit = true
					break
				}
			}
			if !allowed && extra != nil && origin != "" && extra(origin) {
				allowed = true
				explicit = true
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				// Only allow credentials for explicit origins, not wildcard
				// matches. Setting Allow-Credentials with a wildcard-echoed
				// origin enables CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
