// Package console implements the agent-console client logic: merging a
// persisted message snapshot with the live relay stream, grouping for
// display, typing-indicator expiry and canned-reply matching.
package console

import (
	"sync"
	"time"

	"github.com/noveloffice/supportify/internal/domain"
)

// Timeline merges one session's fetched message history with live relay
// events into a single gapless, ordered, duplicate-free sequence.
//
// Live messages are appended to the tail in arrival order — never
// sorted by timestamp — because same-room relay delivery order matches
// send order. Switching sessions re-fetches the snapshot instead of
// diffing; the snapshot is cheap and re-fetching avoids merge logic.
type Timeline struct {
	mu        sync.Mutex
	sessionID string
	messages  []domain.Message
	seen      map[messageKey]struct{}
}

// messageKey identifies a delivered message for duplicate suppression.
type messageKey struct {
	author string
	body   string
	at     int64
}

func keyOf(m domain.Message) messageKey {
	return messageKey{author: m.Author, body: m.Body, at: m.Timestamp.UnixMilli()}
}

// NewTimeline creates an empty timeline with no session selected.
func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[messageKey]struct{})}
}

// Reset replaces the timeline with a fresh snapshot for the session.
// Called on session open and on reconnect; any live messages applied
// before the reset are superseded by the snapshot.
func (t *Timeline) Reset(sessionID string, snapshot []domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessionID = sessionID
	t.messages = make([]domain.Message, len(snapshot))
	copy(t.messages, snapshot)
	t.seen = make(map[messageKey]struct{}, len(snapshot))
	for _, m := range snapshot {
		t.seen[keyOf(m)] = struct{}{}
	}
}

// Apply appends a live message to the tail. Messages for another
// session are ignored; redelivered messages are suppressed, so applying
// the same event stream twice yields an identical sequence.
func (t *Timeline) Apply(sessionID string, msg domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sessionID != t.sessionID || t.sessionID == "" {
		return
	}
	key := keyOf(msg)
	if _, dup := t.seen[key]; dup {
		return
	}
	t.seen[key] = struct{}{}
	t.messages = append(t.messages, msg)
}

// Clear drops the session selection. Called when the snapshot fetch
// fails: fail closed and force the agent back to the list rather than
// show stale or partial history.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = ""
	t.messages = nil
	t.seen = make(map[messageKey]struct{})
}

// SessionID returns the selected session, empty when none.
func (t *Timeline) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Messages returns the merged sequence in display order.
func (t *Timeline) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// EntryKind distinguishes rendered timeline entries.
type EntryKind int

const (
	// EntryDateHeader is the "March 5, 2026" separator, one per
	// calendar day.
	EntryDateHeader EntryKind = iota
	// EntryMessage is a chat bubble.
	EntryMessage
	// EntryNotice is a centered activity line, never attributed to a
	// human author.
	EntryNotice
)

// Entry is one rendered element of the timeline.
type Entry struct {
	Kind EntryKind
	// Day is set for date headers.
	Day time.Time
	// Message is set for message and notice entries.
	Message domain.Message
	// StartsGroup marks the first bubble of a run by the same author.
	StartsGroup bool
}

// Render lays out messages for display: exactly one date header per
// distinct calendar day, in chronological order, and bubble grouping by
// consecutive author. Activity notices render centered and never start
// or continue a human bubble group.
func Render(messages []domain.Message, loc *time.Location) []Entry {
	if loc == nil {
		loc = time.Local
	}

	var entries []Entry
	var lastDay string
	var lastAuthor string

	for _, msg := range messages {
		day := msg.Timestamp.In(loc)
		dayKey := day.Format("2006-01-02")
		if dayKey != lastDay {
			entries = append(entries, Entry{
				Kind: EntryDateHeader,
				Day:  time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc),
			})
			lastDay = dayKey
			lastAuthor = ""
		}

		if msg.IsActivity() {
			entries = append(entries, Entry{Kind: EntryNotice, Message: msg})
			// An activity line breaks the bubble run.
			lastAuthor = ""
			continue
		}

		entries = append(entries, Entry{
			Kind:        EntryMessage,
			Message:     msg,
			StartsGroup: msg.Author != lastAuthor,
		})
		lastAuthor = msg.Author
	}
	return entries
}
