// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/noveloffice/supportify/internal/domain"
)

// Sentinel errors returned by Repository implementations.
var (
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAgentNotFound is returned when an agent profile does not exist.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrTagExists is returned when creating a tag that already exists.
	ErrTagExists = errors.New("tag already exists")
)

// ClaimResult reports the outcome of a compare-and-set claim attempt.
type ClaimResult struct {
	// Won is true when the caller now owns the session.
	Won bool
	// Owner is the owning agent after the attempt. When Won is false
	// this is the identity of the agent the caller lost to.
	Owner string
	// OwnerName is the display name recorded for the owner.
	OwnerName string
	// AlreadyOwned is true when the caller owned the session before the
	// attempt (idempotent double submit).
	AlreadyOwned bool
	// FirstClaim is true when this claim was the session's first ever
	// assignment.
	FirstClaim bool
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	// Resolved filters on the resolved flag when non-nil.
	Resolved *bool
	// Owner filters on the owning agent when non-empty.
	Owner string
	// Limit bounds the result set; 0 means no limit.
	Limit int
}

// NewSessionInfo carries the visitor metadata captured on first contact.
type NewSessionInfo struct {
	IPAddress       string
	OperatingSystem string
	Referrer        string
}

// Repository defines the interface for persisting sessions, agents and
// widget configuration.
type Repository interface {
	// CreateSession creates a session with a generated id and the
	// paired client-details record, returning the new id.
	CreateSession(ctx context.Context, info NewSessionInfo) (string, error)

	// GetSession retrieves a session with its full message history.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns sessions without message bodies, ordered by
	// most recent activity.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error)

	// AppendMessage appends a message, refreshes the last-message
	// preview fields, and applies the reopen policy: a guest message on
	// a resolved session clears the resolved flag. Returns whether the
	// session was reopened.
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (reopened bool, err error)

	// ClaimSession atomically assigns ownership of a session. The
	// update succeeds only when the current owner still equals
	// expectedOwner (empty = unclaimed) or already equals agentID.
	// A lost race is not an error: the result carries the winner.
	ClaimSession(ctx context.Context, sessionID, agentID, displayName, expectedOwner string) (*ClaimResult, error)

	// SessionOwner returns the current owning agent id, empty when
	// unclaimed.
	SessionOwner(ctx context.Context, sessionID string) (agentID, displayName string, err error)

	// SetResolved flips the resolved flag.
	SetResolved(ctx context.Context, sessionID string, resolved bool) error

	// SetTags replaces the session's tag set.
	SetTags(ctx context.Context, sessionID string, tags []string) error

	// SetFeedback records the visitor's rating and feedback text.
	SetFeedback(ctx context.Context, sessionID string, rating int, feedback string) error

	// UpdateVisitorFields updates the display fields an agent may edit.
	UpdateVisitorFields(ctx context.Context, sessionID, visitorName string) error

	// Assignments returns the session's ownership takeover history.
	Assignments(ctx context.Context, sessionID string) ([]domain.Assignment, error)

	// GetAgent retrieves an agent profile with canned messages.
	GetAgent(ctx context.Context, agentID string) (*domain.AgentProfile, error)

	// EnsureAgent returns the agent profile, provisioning an enabled
	// profile on first sight.
	EnsureAgent(ctx context.Context, agentID string) (*domain.AgentProfile, error)

	// ListAvailableAgents returns the ids of agents flagged available.
	ListAvailableAgents(ctx context.Context) ([]string, error)

	// SetAgentAvailability persists the availability flag.
	SetAgentAvailability(ctx context.Context, agentID string, available bool) error

	// SetAgentTheme persists the console theme preference.
	SetAgentTheme(ctx context.Context, agentID, theme string) error

	// GetCannedMessages returns the canned replies for an agent;
	// agentID "" addresses the shared default set.
	GetCannedMessages(ctx context.Context, agentID string) ([]domain.CannedMessage, error)

	// ReplaceCannedMessages replaces the canned replies for an agent.
	ReplaceCannedMessages(ctx context.Context, agentID string, msgs []domain.CannedMessage) error

	// GetClientDetails retrieves the visitor record for a session.
	GetClientDetails(ctx context.Context, sessionID string) (*domain.ClientDetails, error)

	// UpdateContactDetails records the visitor's contact form and
	// mirrors the name onto the session.
	UpdateContactDetails(ctx context.Context, sessionID, name, email, phone string) error

	// UpdateLocationDetails records geolocation; the first write wins.
	UpdateLocationDetails(ctx context.Context, sessionID string, accuracy, longitude, latitude float64) error

	// ListTags returns all configured tags.
	ListTags(ctx context.Context) ([]domain.Tag, error)

	// CreateTag adds a tag definition.
	CreateTag(ctx context.Context, tag domain.Tag) error

	// DeleteTag removes a tag definition.
	DeleteTag(ctx context.Context, name string) error

	// GetWidgetSettings returns the widget configuration.
	GetWidgetSettings(ctx context.Context) (*domain.WidgetSettings, error)

	// UpdateWidgetSettings replaces the widget configuration.
	UpdateWidgetSettings(ctx context.Context, ws *domain.WidgetSettings) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
