// Package domain defines the core types shared across the gateway.
package domain

import (
	"time"
)

// MessageKind distinguishes chat turns from synthetic activity notices.
type MessageKind string

const (
	// KindChat is a regular chat turn from a visitor or an agent.
	KindChat MessageKind = "Message"
	// KindActivity is a synthetic notice such as "X joined the chat".
	// Activity messages are never attributed to a human author when
	// messages are grouped for display.
	KindActivity MessageKind = "Activity"
)

// Sentinel author names used in message records.
const (
	AuthorGuest  = "Guest"
	AuthorSystem = "System"
)

// Message is one chat turn within a session.
type Message struct {
	Author     string      `json:"user"`
	AgentEmail string      `json:"agent_email,omitempty"`
	Body       string      `json:"message"`
	Kind       MessageKind `json:"message_type"`
	Timestamp  time.Time   `json:"time_stamp"`
}

// IsActivity reports whether the message is a synthetic activity notice.
func (m Message) IsActivity() bool {
	return m.Kind == KindActivity
}

// IsFromGuest reports whether the message was authored by the visitor.
func (m Message) IsFromGuest() bool {
	return m.Author == AuthorGuest
}

// Session is one visitor conversation. The ID doubles as the realtime
// room name.
type Session struct {
	ID               string    `json:"name"`
	VisitorName      string    `json:"visitor_name,omitempty"`
	OwnerAgentID     string    `json:"current_user,omitempty"`
	OwnerDisplayName string    `json:"agent_name,omitempty"`
	Resolved         bool      `json:"resolved"`
	Messages         []Message `json:"messages"`
	Tags             []string  `json:"tags,omitempty"`
	Rating           int       `json:"ratings,omitempty"`
	Feedback         string    `json:"feedback,omitempty"`

	// Denormalized preview fields maintained on every append.
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageBy string    `json:"last_message_by,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Claimed reports whether the session currently has an owning agent.
func (s *Session) Claimed() bool {
	return s.OwnerAgentID != ""
}

// Assignment records one ownership takeover of a session.
type Assignment struct {
	AgentID       string    `json:"user"`
	TookControlAt time.Time `json:"took_control_on_at"`
}

// lastMessagePreviewLen bounds the denormalized preview copied into
// Session.LastMessage.
const lastMessagePreviewLen = 25

// PreviewOf truncates a message body for the session-list preview.
func PreviewOf(body string) string {
	runes := []rune(body)
	if len(runes) <= lastMessagePreviewLen {
		return body
	}
	return string(runes[:lastMessagePreviewLen])
}
