package console

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/noveloffice/supportify/internal/relay"
)

// Handlers is the typed event surface of one session subscription.
// Nil handlers are skipped.
type Handlers struct {
	OnMessage          func(relay.ReceiveMessage)
	OnAgentTyping      func(relay.AgentTyping)
	OnGuestTyping      func(relay.GuestTyping)
	OnAssignedUser     func(relay.AssignedUserDetails)
	OnAgentJoined      func(relay.AgentJoined)
	OnUserAvailability func(relay.UserAvailability)
	OnResolved         func(relay.ResolvedNotification)
}

// Subscriber routes relay frames to the handlers of the one currently
// selected session. Attaching a new session atomically detaches the
// previous one, so a stale handler can never observe another session's
// events.
type Subscriber struct {
	mu        sync.Mutex
	sessionID string
	handlers  Handlers
	claimed   bool
}

// NewSubscriber creates a subscriber with no session attached.
func NewSubscriber() *Subscriber {
	return &Subscriber{}
}

// Attach selects a session and installs its handlers, releasing any
// previous subscription first.
func (s *Subscriber) Attach(sessionID string, h Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	s.handlers = h
	s.claimed = sessionID != ""
}

// Detach releases the current subscription.
func (s *Subscriber) Detach() {
	s.Attach("", Handlers{})
}

// SessionID returns the attached session, empty when detached.
func (s *Subscriber) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Dispatch routes one relay envelope. Events scoped to a different
// session are dropped; assignedUserDetails (claim offers) pass through
// regardless of the selected session.
func (s *Subscriber) Dispatch(env relay.Envelope) {
	s.mu.Lock()
	sessionID := s.sessionID
	h := s.handlers
	claimed := s.claimed
	s.mu.Unlock()

	switch env.Event {
	case relay.EventReceiveMessage:
		var p relay.ReceiveMessage
		if decode(env.Data, &p) && claimed && p.SessionID == sessionID && h.OnMessage != nil {
			h.OnMessage(p)
		}

	case relay.EventAgentTyping:
		var p relay.AgentTyping
		if decode(env.Data, &p) && claimed && p.Room == sessionID && h.OnAgentTyping != nil {
			h.OnAgentTyping(p)
		}

	case relay.EventGuestTyping:
		var p relay.GuestTyping
		if decode(env.Data, &p) && claimed && p.Room == sessionID && h.OnGuestTyping != nil {
			h.OnGuestTyping(p)
		}

	case relay.EventAssignedUserDetails:
		var p relay.AssignedUserDetails
		if decode(env.Data, &p) && h.OnAssignedUser != nil {
			h.OnAssignedUser(p)
		}

	case relay.EventAgentJoined:
		var p relay.AgentJoined
		if decode(env.Data, &p) && claimed && p.Room == sessionID && h.OnAgentJoined != nil {
			h.OnAgentJoined(p)
		}

	case relay.EventUserAvailability:
		var p relay.UserAvailability
		if decode(env.Data, &p) && claimed && p.Room == sessionID && h.OnUserAvailability != nil {
			h.OnUserAvailability(p)
		}

	case relay.EventResolvedNotification:
		var p relay.ResolvedNotification
		if decode(env.Data, &p) && claimed && (p.SessionID == sessionID || p.Room == sessionID) && h.OnResolved != nil {
			h.OnResolved(p)
		}
	}
}

func decode(data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Debug("Dropping undecodable relay event", "error", err)
		return false
	}
	return true
}
