package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/noveloffice/supportify/internal/domain"
	"github.com/noveloffice/supportify/internal/identity"
	"github.com/noveloffice/supportify/internal/store"
)

// SettingsHandler serves the tag catalogue and the widget configuration.
type SettingsHandler struct {
	*Handler
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(base *Handler) *SettingsHandler {
	return &SettingsHandler{Handler: base}
}

// RegisterRoutes registers the settings routes.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/tags", h.ListTags)
	r.Post("/api/tags", h.CreateTag)
	r.Delete("/api/tags/{name}", h.DeleteTag)
	r.Get("/api/widget-settings", h.GetWidgetSettings)
	r.Put("/api/widget-settings", h.PutWidgetSettings)
}

// ListTags returns every configured tag. The widget and the console
// both read this, so no identity is required.
func (h *SettingsHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.repo.ListTags(r.Context())
	if err != nil {
		slog.Error("Failed to list tags", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list tags")
		return
	}
	if tags == nil {
		tags = []domain.Tag{}
	}
	JSON(w, http.StatusOK, tags)
}

// CreateTag adds a tag definition.
func (h *SettingsHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	if identity.AgentIDFromContext(r.Context()) == "" {
		Error(w, http.StatusUnauthorized, "agent identity required")
		return
	}

	var tag domain.Tag
	if !decodeBody(w, r, &tag) {
		return
	}
	if tag.Name == "" {
		Error(w, http.StatusBadRequest, "tag name is required")
		return
	}

	if err := h.repo.CreateTag(r.Context(), tag); err != nil {
		if errors.Is(err, store.ErrTagExists) {
			Error(w, http.StatusConflict, "tag already exists")
			return
		}
		slog.Error("Failed to create tag", "error", err, "tag", tag.Name)
		Error(w, http.StatusInternalServerError, "failed to create tag")
		return
	}
	JSON(w, http.StatusCreated, tag)
}

// DeleteTag removes a tag definition. Sessions keep any copies of the
// tag they already carry.
func (h *SettingsHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	if identity.AgentIDFromContext(r.Context()) == "" {
		Error(w, http.StatusUnauthorized, "agent identity required")
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.repo.DeleteTag(r.Context(), name); err != nil {
		slog.Error("Failed to delete tag", "error", err, "tag", name)
		Error(w, http.StatusInternalServerError, "failed to delete tag")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// GetWidgetSettings returns the widget configuration the embed script
// boots from.
func (h *SettingsHandler) GetWidgetSettings(w http.ResponseWriter, r *http.Request) {
	ws, err := h.repo.GetWidgetSettings(r.Context())
	if err != nil {
		slog.Error("Failed to get widget settings", "error", err)
		Error(w, http.StatusInternalServerError, "failed to get widget settings")
		return
	}
	JSON(w, http.StatusOK, ws)
}

// PutWidgetSettings replaces the widget configuration.
func (h *SettingsHandler) PutWidgetSettings(w http.ResponseWriter, r *http.Request) {
	if identity.AgentIDFromContext(r.Context()) == "" {
		Error(w, http.StatusUnauthorized, "agent identity required")
		return
	}

	var ws domain.WidgetSettings
	if !decodeBody(w, r, &ws) {
		return
	}

	if err := h.repo.UpdateWidgetSettings(r.Context(), &ws); err != nil {
		slog.Error("Failed to update widget settings", "error", err)
		Error(w, http.StatusInternalServerError, "failed to update widget settings")
		return
	}
	JSON(w, http.StatusOK, &ws)
}
