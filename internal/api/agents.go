package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/noveloffice/supportify/internal/domain"
	"github.com/noveloffice/supportify/internal/identity"
	"github.com/noveloffice/supportify/internal/presence"
	"github.com/noveloffice/supportify/internal/store"
)

// defaultCannedOwner is the path segment addressing the shared canned
// reply set rather than a personal one.
const defaultCannedOwner = "default"

// AgentHandler serves agent profiles, availability and canned replies.
type AgentHandler struct {
	*Handler
	presence *presence.Registry
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(base *Handler, reg *presence.Registry) *AgentHandler {
	return &AgentHandler{Handler: base, presence: reg}
}

// RegisterRoutes registers the agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/agents/{agentID}", h.Get)
	r.Put("/api/agents/{agentID}/availability", h.SetAvailability)
	r.Get("/api/agents/{agentID}/availability", h.GetAvailability)
	r.Put("/api/agents/{agentID}/theme", h.SetTheme)
	r.Get("/api/agents/{agentID}/canned-messages", h.GetCanned)
	r.Put("/api/agents/{agentID}/canned-messages", h.PutCanned)
}

func (h *AgentHandler) requireSelf(w http.ResponseWriter, r *http.Request) (string, bool) {
	agentID := chi.URLParam(r, "agentID")
	caller := identity.AgentIDFromContext(r.Context())
	if caller == "" {
		Error(w, http.StatusUnauthorized, "agent identity required")
		return "", false
	}
	return agentID, true
}

// Get returns the agent profile, provisioning it on first login.
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agentID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	profile, err := h.repo.EnsureAgent(r.Context(), agentID)
	if err != nil {
		slog.Error("Failed to get agent profile", "error", err, "agent", agentID)
		Error(w, http.StatusInternalServerError, "failed to get agent profile")
		return
	}
	// The live flag is the registry's, not the persisted one.
	profile.IsAvailable = h.presence.IsAvailable(agentID)
	JSON(w, http.StatusOK, profile)
}

type availabilityRequest struct {
	IsAvailable bool `json:"is_available"`
}

// SetAvailability flips the agent's availability toggle. The registry
// updates immediately; the persisted profile follows via the debounced
// writer.
func (h *AgentHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	agentID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	var req availabilityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h.presence.SetAvailability(agentID, req.IsAvailable)
	JSON(w, http.StatusOK, map[string]interface{}{"is_available": req.IsAvailable})
}

// GetAvailability returns the live availability flag.
func (h *AgentHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	JSON(w, http.StatusOK, map[string]interface{}{
		"is_available": h.presence.IsAvailable(agentID),
		"connected":    h.presence.IsConnected(agentID),
	})
}

type themeRequest struct {
	Theme string `json:"theme"`
}

// SetTheme persists the console theme preference.
func (h *AgentHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	agentID, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	var req themeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.repo.SetAgentTheme(r.Context(), agentID, req.Theme); err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			Error(w, http.StatusNotFound, "agent not found")
			return
		}
		slog.Error("Failed to set theme", "error", err, "agent", agentID)
		Error(w, http.StatusInternalServerError, "failed to set theme")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func cannedOwner(r *http.Request) string {
	agentID := chi.URLParam(r, "agentID")
	if agentID == defaultCannedOwner {
		return ""
	}
	return agentID
}

// GetCanned returns the canned replies; /api/agents/default/... reads
// the shared set.
func (h *AgentHandler) GetCanned(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.repo.GetCannedMessages(r.Context(), cannedOwner(r))
	if err != nil {
		slog.Error("Failed to get canned messages", "error", err)
		Error(w, http.StatusInternalServerError, "failed to get canned messages")
		return
	}
	if msgs == nil {
		msgs = []domain.CannedMessage{}
	}
	JSON(w, http.StatusOK, msgs)
}

// PutCanned replaces the canned replies.
func (h *AgentHandler) PutCanned(w http.ResponseWriter, r *http.Request) {
	if identity.AgentIDFromContext(r.Context()) == "" {
		Error(w, http.StatusUnauthorized, "agent identity required")
		return
	}

	var msgs []domain.CannedMessage
	if !decodeBody(w, r, &msgs) {
		return
	}

	if err := h.repo.ReplaceCannedMessages(r.Context(), cannedOwner(r), msgs); err != nil {
		slog.Error("Failed to replace canned messages", "error", err)
		Error(w, http.StatusInternalServerError, "failed to replace canned messages")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "success"})
}
