package console

import (
	"sync"
	"time"
)

// DefaultTypingExpiry clears a typing indicator after this much silence.
const DefaultTypingExpiry = 2 * time.Second

// TypingIndicator tracks a peer's typing state with time-based expiry.
//
// Typing signals are unacknowledged and lossy; a missed "stopped
// typing" must never wedge the indicator on, so the state clears after
// a window of silence rather than waiting for a terminating event.
type TypingIndicator struct {
	expiry time.Duration

	mu     sync.Mutex
	author string
	body   string
	lastAt time.Time
}

// NewTypingIndicator creates an indicator with the given expiry window.
// Zero selects DefaultTypingExpiry.
func NewTypingIndicator(expiry time.Duration) *TypingIndicator {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingIndicator{expiry: expiry}
}

// Signal records a typing event. body carries the visitor's live
// preview text and may be empty for agent typing.
func (t *TypingIndicator) Signal(author, body string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.author = author
	t.body = body
	t.lastAt = at
}

// Active reports whether the indicator should be shown at the given
// instant, and for whom.
func (t *TypingIndicator) Active(at time.Time) (author, body string, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastAt.IsZero() || at.Sub(t.lastAt) >= t.expiry {
		return "", "", false
	}
	return t.author, t.body, true
}

// Reset clears the indicator, e.g. on session switch.
func (t *TypingIndicator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.author = ""
	t.body = ""
	t.lastAt = time.Time{}
}
