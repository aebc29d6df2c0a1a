package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/noveloffice/supportify/internal/identity"
	"github.com/noveloffice/supportify/internal/store"
)

// VisitorHandler serves the widget-facing endpoints: session creation
// and the visitor's own contact and location records.
type VisitorHandler struct {
	*Handler
}

// NewVisitorHandler creates a visitor handler.
func NewVisitorHandler(base *Handler) *VisitorHandler {
	return &VisitorHandler{Handler: base}
}

// RegisterRoutes registers the visitor routes.
func (h *VisitorHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/visitors", h.Create)
	r.Get("/api/visitors/{sessionID}", h.Get)
	r.Put("/api/visitors/{sessionID}/contact", h.UpdateContact)
	r.Put("/api/visitors/{sessionID}/location", h.UpdateLocation)
}

type createVisitorRequest struct {
	OperatingSystem string `json:"operating_system"`
	Referrer        string `json:"referrer"`
}

type createVisitorResponse struct {
	SessionID string `json:"session_id"`
}

// Create opens a new session for a first-time visitor. The widget
// stores the returned id and presents it on every later request.
func (h *VisitorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createVisitorRequest
	if !decodeBody(w, r, &req) {
		return
	}

	info := store.NewSessionInfo{
		IPAddress:       identity.IPFromRequest(r),
		OperatingSystem: req.OperatingSystem,
		Referrer:        req.Referrer,
	}
	sessionID, err := h.repo.CreateSession(r.Context(), info)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	slog.Info("Session created", "session", sessionID, "ip", info.IPAddress)
	JSON(w, http.StatusCreated, createVisitorResponse{SessionID: sessionID})
}

// Get returns the visitor record behind a session.
func (h *VisitorHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	details, err := h.repo.GetClientDetails(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to get client details", "error", err, "session", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get client details")
		return
	}
	JSON(w, http.StatusOK, details)
}

type contactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// UpdateContact records the visitor's contact form submission and
// mirrors the name onto the session so the console shows it.
func (h *VisitorHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req contactRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.repo.UpdateContactDetails(r.Context(), sessionID, req.Name, req.Email, req.Phone); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to update contact details", "error", err, "session", sessionID)
		Error(w, http.StatusInternalServerError, "failed to update contact details")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type locationRequest struct {
	Accuracy  float64 `json:"accuracy"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// UpdateLocation records the browser geolocation fix. Only the first
// fix is kept; later submissions are ignored.
func (h *VisitorHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req locationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.repo.UpdateLocationDetails(r.Context(), sessionID, req.Accuracy, req.Longitude, req.Latitude); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to update location", "error", err, "session", sessionID)
		Error(w, http.StatusInternalServerError, "failed to update location")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "success"})
}
