// Package relay fans chat events out to the connected sockets of one
// session room, and arbitrates claim offers with the session router.
//
// # Wire protocol
//
// All traffic is JSON envelopes of the form:
//
//	{ "event": "event_name", "data": { ... } }
//
// Rooms are keyed by session id. Delivery is at-most-once per connected
// socket; clients that were offline recover missed history from the
// persisted session snapshot, never from the relay.
package relay

import (
	"encoding/json"
	"time"
)

// Envelope is the wire frame for every relay event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope parses raw frame bytes into an Envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Inbound event names (client → relay).
const (
	// EventJoinRoom enters a session room. The first join also
	// identifies the connection: username "Guest" marks a visitor,
	// anything else an agent (with agentEmail).
	// Data: JoinRoom
	EventJoinRoom = "join_room"

	// EventSendMessage emits a chat message into a room. For agents
	// this runs the send rules: an unowned or foreign-owned session
	// turns the send into a claim offer instead of a delivery.
	// Data: SendMessage
	EventSendMessage = "sendMessage"

	// EventAgentTyping is a fire-and-forget typing signal from an
	// agent. Never persisted, never acknowledged; receivers expire it
	// on a timer.
	// Data: AgentTyping
	EventAgentTyping = "agentTyping"

	// EventGuestTyping is the visitor's live typing preview.
	// Data: GuestTyping
	EventGuestTyping = "guestTyping"

	// EventGetAssignedUser asks who owns a session before sending.
	// Data: GetAssignedUser
	EventGetAssignedUser = "getAssignedUser"

	// EventAssignToMe accepts a claim offer.
	// Data: AssignToMe
	EventAssignToMe = "assignToMe"

	// EventResolvedNotification toggles the resolved flag.
	// Data: ResolvedNotification
	EventResolvedNotification = "resolvedNotification"

	// EventSetAvailability updates the agent's availability toggle.
	// Data: SetAvailability
	EventSetAvailability = "setAvailability"
)

// Outbound event names (relay → client).
const (
	// EventReceiveMessage delivers a chat message to room members.
	// Data: ReceiveMessage
	EventReceiveMessage = "receiveMessage"

	// EventAssignedUserDetails answers a claim question. With a
	// non-empty assignedUser it goes to the asking agent only ("being
	// handled by X, claim anyway?"); with an empty assignedUser it is
	// the claim offer broadcast to every available agent.
	// Data: AssignedUserDetails
	EventAssignedUserDetails = "assignedUserDetails"

	// EventAgentJoined announces an accepted claim to the room.
	// Data: AgentJoined
	EventAgentJoined = "agentJoined"

	// EventUserAvailability reports the visitor's own connectivity to
	// the room's agents.
	// Data: UserAvailability
	EventUserAvailability = "userAvailability"
)

// JoinRoom payload.
type JoinRoom struct {
	Room       string `json:"room"`
	Username   string `json:"username"`
	AgentEmail string `json:"agentEmail,omitempty"`
}

// SendMessage payload.
type SendMessage struct {
	SessionID  string `json:"sessionId"`
	Username   string `json:"username"`
	Body       string `json:"msg"`
	Room       string `json:"room"`
	AgentEmail string `json:"agentEmail,omitempty"`
}

// ReceiveMessage payload.
type ReceiveMessage struct {
	SessionID   string    `json:"sessionId"`
	Username    string    `json:"username"`
	Body        string    `json:"msg"`
	Timestamp   time.Time `json:"timeStamp"`
	MessageType string    `json:"messageType"`
}

// AgentTyping payload.
type AgentTyping struct {
	Room     string `json:"room"`
	Username string `json:"user"`
}

// GuestTyping payload.
type GuestTyping struct {
	Room string `json:"room"`
	Body string `json:"msg"`
}

// GetAssignedUser payload.
type GetAssignedUser struct {
	SessionID  string `json:"sessionId"`
	Username   string `json:"user"`
	Message    string `json:"message"`
	AgentEmail string `json:"agentEmail"`
}

// AssignedUserDetails payload. AssignedUser is empty when the session
// is unclaimed (the claim offer case).
type AssignedUserDetails struct {
	SessionID    string `json:"sessionId"`
	AssignedUser string `json:"assignedUser"`
	AssignedName string `json:"assignedName,omitempty"`
	Message      string `json:"message,omitempty"`
}

// AssignToMe payload.
type AssignToMe struct {
	SessionID  string `json:"sessionId"`
	Username   string `json:"user"`
	AgentEmail string `json:"agentEmail"`
	Body       string `json:"msg,omitempty"`
}

// ResolvedNotification payload.
type ResolvedNotification struct {
	SessionID  string `json:"sessionId"`
	Username   string `json:"username"`
	Room       string `json:"room"`
	AgentEmail string `json:"agentEmail,omitempty"`
	Resolved   bool   `json:"resolved"`
}

// AgentJoined payload.
type AgentJoined struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// UserAvailability payload.
type UserAvailability struct {
	Room     string `json:"room"`
	IsOnline bool   `json:"isOnline"`
}

// SetAvailability payload.
type SetAvailability struct {
	AgentEmail  string `json:"agentEmail"`
	IsAvailable bool   `json:"isAvailable"`
}
