package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/noveloffice/supportify/internal/domain"
	"github.com/noveloffice/supportify/internal/identity"
	"github.com/noveloffice/supportify/internal/store"
)

// SessionHandler serves the session documents agents reconcile against.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers the session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/sessions", h.List)
	r.Get("/api/sessions/{sessionID}", h.Get)
	r.Patch("/api/sessions/{sessionID}", h.Patch)
	r.Get("/api/sessions/{sessionID}/assignments", h.Assignments)
	r.Post("/api/sessions/{sessionID}/feedback", h.Feedback)
}

// List returns sessions ordered by most recent activity. Query params:
// resolved=0|1, owner=<agent>, limit=<n>.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{Owner: r.URL.Query().Get("owner")}
	if v := r.URL.Query().Get("resolved"); v != "" {
		resolved := v == "1" || v == "true"
		filter.Resolved = &resolved
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	sessions, err := h.repo.ListSessions(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{} // encode as [] not null
	}
	JSON(w, http.StatusOK, sessions)
}

// Get returns the full session snapshot, messages included. This is
// the reconciliation baseline: consoles fetch it on every session open
// and reconnect.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to get session", "error", err, "session", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	JSON(w, http.StatusOK, sess)
}

type sessionPatch struct {
	Resolved    *bool     `json:"resolved,omitempty"`
	VisitorName *string   `json:"visitor_name,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// Patch applies the console's attribute edits. Resolved, tags and
// visitor-name changes go through the router's debounced writers so
// rapid toggling coalesces into a single store write.
func (h *SessionHandler) Patch(w http.ResponseWriter, r *http.Request) {
	if identity.AgentIDFromContext(r.Context()) == "" {
		Error(w, http.StatusUnauthorized, "agent identity required")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	var patch sessionPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	if patch.Resolved != nil {
		h.router.SetResolved(sessionID, *patch.Resolved)
	}
	if patch.Tags != nil {
		h.router.TagSession(sessionID, *patch.Tags)
	}
	if patch.VisitorName != nil {
		h.router.EditVisitorFields(sessionID, *patch.VisitorName)
	}

	JSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// Assignments returns the session's ownership takeover history.
func (h *SessionHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	assignments, err := h.repo.Assignments(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get assignments", "error", err, "session", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get assignments")
		return
	}
	JSON(w, http.StatusOK, assignments)
}

type feedbackRequest struct {
	Ratings  int    `json:"ratings"`
	Feedback string `json:"feedback"`
}

// Feedback records the visitor's post-chat rating. Visitor-facing, no
// agent identity required.
func (h *SessionHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.repo.SetFeedback(r.Context(), sessionID, req.Ratings, req.Feedback); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to record feedback", "error", err, "session", sessionID)
		Error(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "success"})
}
