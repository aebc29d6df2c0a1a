// Package identity propagates the calling agent's identity through
// request contexts.
//
// Authentication itself is an external collaborator (the deployment
// fronts the gateway with its own auth proxy); this package only
// extracts the identity that collaborator established and provisions
// the matching agent profile on first sight.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/noveloffice/supportify/internal/store"
)

// AgentHeaderName carries the authenticated agent's email identity.
const AgentHeaderName = "X-Supportify-Agent"

type contextKey int

const agentIDKey contextKey = iota

// Agent ids are email addresses.
var agentIDPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// AgentIDFromContext extracts the agent id from the request context.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(agentIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAgentID returns a context carrying the agent id. Used by tests
// and by callers that learn the identity outside the HTTP layer.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

func agentIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(AgentHeaderName))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("agent"))
	}
	if !agentIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// Middleware injects the calling agent's identity into the request
// context and auto-provisions the agent profile. Requests without an
// identity pass through with an empty agent id; handlers that require
// one reject those themselves (visitor endpoints are identity-free).
func Middleware(repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID := agentIDFromRequest(r)
			if agentID != "" {
				if _, err := repo.EnsureAgent(r.Context(), agentID); err != nil {
					http.Error(w, `{"error":"failed to initialize agent profile"}`, http.StatusInternalServerError)
					return
				}
			}
			ctx := WithAgentID(r.Context(), agentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for session records.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
