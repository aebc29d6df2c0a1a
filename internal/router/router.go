// Package router owns session assignment: who currently answers a
// visitor session, with atomic claim semantics.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/noveloffice/supportify/internal/debounce"
	"github.com/noveloffice/supportify/internal/domain"
	"github.com/noveloffice/supportify/internal/presence"
	"github.com/noveloffice/supportify/internal/store"
)

// Outcome of a send request against the session state machine.
type Outcome int

const (
	// Delivered means the sender owns the session; the message was
	// appended and may be fanned out.
	Delivered Outcome = iota
	// OfferedClaim means the session is not owned by the sender; the
	// message was withheld and a claim confirmation is required.
	OfferedClaim
)

// persistWindow coalesces resolved-flag and attribute writes.
const persistWindow = 500 * time.Millisecond

// SendResult describes what happened to a RequestSend.
type SendResult struct {
	Outcome Outcome
	// Owner and OwnerName identify the current owner when the session
	// is claimed by someone else; both empty for an unclaimed session.
	Owner     string
	OwnerName string
	// Message is the appended message when Outcome is Delivered.
	Message *domain.Message
}

// ClaimOutcome describes the result of an accepted claim.
type ClaimOutcome struct {
	Won          bool
	Owner        string
	OwnerName    string
	AlreadyOwned bool
	// Message is the claimant's message, appended on a win.
	Message *domain.Message
	// Notice is the synthetic "joined the chat" activity appended when
	// ownership actually changed hands.
	Notice *domain.Message
}

// GuestResult describes an appended visitor message.
type GuestResult struct {
	Message  domain.Message
	Reopened bool
}

// Router is the single source of truth for session ownership.
type Router struct {
	repo     store.Repository
	presence *presence.Registry

	mu sync.Mutex
	// resolvedPending overlays the store while a debounced resolved
	// write is in flight; in-memory state is authoritative until the
	// write lands.
	resolvedPending map[string]bool
	resolvedWriters map[string]*debounce.Debouncer[bool]
	tagWriters      map[string]*debounce.Debouncer[[]string]
	visitorWriters  map[string]*debounce.Debouncer[string]
}

// New creates a Router on top of the repository and presence registry.
func New(repo store.Repository, reg *presence.Registry) *Router {
	return &Router{
		repo:            repo,
		presence:        reg,
		resolvedPending: make(map[string]bool),
		resolvedWriters: make(map[string]*debounce.Debouncer[bool]),
		tagWriters:      make(map[string]*debounce.Debouncer[[]string]),
		visitorWriters:  make(map[string]*debounce.Debouncer[string]),
	}
}

// Owner returns the session's current owner, empty when unclaimed.
func (r *Router) Owner(ctx context.Context, sessionID string) (string, string, error) {
	return r.repo.SessionOwner(ctx, sessionID)
}

// RequestSend applies the send rules of the state machine:
//
//   - session owned by the sender: append and deliver immediately;
//   - session unclaimed: withhold the message and return OfferedClaim
//     with no owner — the caller broadcasts a claim offer to every
//     available agent, including the sender (no silent auto-claim);
//   - session owned by someone else: withhold and return OfferedClaim
//     carrying the owner so the sender can be asked to take over.
func (r *Router) RequestSend(ctx context.Context, sessionID, agentID, displayName, body string) (*SendResult, error) {
	owner, ownerName, err := r.repo.SessionOwner(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("look up session owner: %w", err)
	}

	if owner != agentID {
		return &SendResult{Outcome: OfferedClaim, Owner: owner, OwnerName: ownerName}, nil
	}

	msg := domain.Message{
		Author:     displayName,
		AgentEmail: agentID,
		Body:       body,
		Kind:       domain.KindChat,
		Timestamp:  time.Now(),
	}
	if _, err := r.repo.AppendMessage(ctx, sessionID, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	// Responding implies availability.
	r.presence.SetAvailability(agentID, true)

	return &SendResult{Outcome: Delivered, Message: &msg}, nil
}

// AcceptClaim atomically takes ownership of the session and appends the
// claimant's message. expectedOwner is the owner the claimant was shown
// when offered the claim (empty for an unclaimed offer); the compare-
// and-set in the store guarantees that of two racing claimants exactly
// one wins and the other learns the winner's identity. Idempotent when
// the same agent double submits.
func (r *Router) AcceptClaim(ctx context.Context, sessionID, agentID, displayName, expectedOwner, body string) (*ClaimOutcome, error) {
	res, err := r.repo.ClaimSession(ctx, sessionID, agentID, displayName, expectedOwner)
	if err != nil {
		return nil, fmt.Errorf("claim session: %w", err)
	}

	if !res.Won {
		slog.Info("Claim lost", "session", sessionID, "claimant", agentID, "owner", res.Owner)
		return &ClaimOutcome{Won: false, Owner: res.Owner, OwnerName: res.OwnerName}, nil
	}

	out := &ClaimOutcome{Won: true, Owner: agentID, OwnerName: displayName, AlreadyOwned: res.AlreadyOwned}

	if body != "" {
		msg := domain.Message{
			Author:     displayName,
			AgentEmail: agentID,
			Body:       body,
			Kind:       domain.KindChat,
			Timestamp:  time.Now(),
		}
		if _, err := r.repo.AppendMessage(ctx, sessionID, msg); err != nil {
			return nil, fmt.Errorf("append claim message: %w", err)
		}
		out.Message = &msg
	}

	if !res.AlreadyOwned {
		notice := domain.Message{
			Author:    domain.AuthorSystem,
			Body:      displayName + " joined the chat",
			Kind:      domain.KindActivity,
			Timestamp: time.Now(),
		}
		if _, err := r.repo.AppendMessage(ctx, sessionID, notice); err != nil {
			slog.Error("Failed to record join notice", "session", sessionID, "error", err)
		} else {
			out.Notice = &notice
		}
		slog.Info("Session claimed", "session", sessionID, "agent", agentID, "first", res.FirstClaim)
	}

	// Claiming a chat means the agent is responding.
	r.presence.SetAvailability(agentID, true)

	return out, nil
}

// AppendGuestMessage appends a visitor message. A guest message on a
// resolved session reopens it; the owner is unchanged. The reopen also
// cancels any in-flight resolved=true write so a toggle racing a guest
// message cannot re-resolve the session.
func (r *Router) AppendGuestMessage(ctx context.Context, sessionID, body string) (*GuestResult, error) {
	msg := domain.Message{
		Author:    domain.AuthorGuest,
		Body:      body,
		Kind:      domain.KindChat,
		Timestamp: time.Now(),
	}
	reopened, err := r.repo.AppendMessage(ctx, sessionID, msg)
	if err != nil {
		return nil, fmt.Errorf("append guest message: %w", err)
	}

	r.mu.Lock()
	if pending, ok := r.resolvedPending[sessionID]; ok && pending {
		r.resolvedPending[sessionID] = false
		if w := r.resolvedWriters[sessionID]; w != nil {
			w.Set(false)
		}
		reopened = true
	}
	r.mu.Unlock()

	return &GuestResult{Message: msg, Reopened: reopened}, nil
}

// SetResolved records the resolved flag. The in-memory state changes
// immediately; persistence is debounced. Authorization (owner or admin)
// is decided by the caller's collaborator; the router only records.
func (r *Router) SetResolved(sessionID string, resolved bool) {
	r.mu.Lock()
	r.resolvedPending[sessionID] = resolved
	w, ok := r.resolvedWriters[sessionID]
	if !ok {
		id := sessionID
		w = debounce.New(persistWindow, func(ctx context.Context, v bool) error {
			err := r.repo.SetResolved(ctx, id, v)
			if err == nil {
				r.clearPending(id)
			}
			return err
		})
		r.resolvedWriters[sessionID] = w
	}
	r.mu.Unlock()

	w.Set(resolved)
}

func (r *Router) clearPending(sessionID string) {
	r.mu.Lock()
	delete(r.resolvedPending, sessionID)
	r.mu.Unlock()
}

// IsResolved reports the session's resolved flag, preferring any
// in-flight debounced value over the persisted one.
func (r *Router) IsResolved(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	pending, ok := r.resolvedPending[sessionID]
	r.mu.Unlock()
	if ok {
		return pending, nil
	}

	sess, err := r.repo.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return sess.Resolved, nil
}

// TagSession replaces the session's tags; persistence is debounced.
func (r *Router) TagSession(sessionID string, tags []string) {
	r.mu.Lock()
	w, ok := r.tagWriters[sessionID]
	if !ok {
		id := sessionID
		w = debounce.New(persistWindow, func(ctx context.Context, v []string) error {
			return r.repo.SetTags(ctx, id, v)
		})
		r.tagWriters[sessionID] = w
	}
	r.mu.Unlock()

	w.Set(tags)
}

// EditVisitorFields updates the visitor display name; persistence is
// debounced.
func (r *Router) EditVisitorFields(sessionID, visitorName string) {
	r.mu.Lock()
	w, ok := r.visitorWriters[sessionID]
	if !ok {
		id := sessionID
		w = debounce.New(persistWindow, func(ctx context.Context, v string) error {
			return r.repo.UpdateVisitorFields(ctx, id, v)
		})
		r.visitorWriters[sessionID] = w
	}
	r.mu.Unlock()

	w.Set(visitorName)
}

// Flush forces all debounced writes through. Used on shutdown.
func (r *Router) Flush() {
	r.mu.Lock()
	var writers []interface{ Flush() }
	for _, w := range r.resolvedWriters {
		writers = append(writers, w)
	}
	for _, w := range r.tagWriters {
		writers = append(writers, w)
	}
	for _, w := range r.visitorWriters {
		writers = append(writers, w)
	}
	r.mu.Unlock()

	for _, w := range writers {
		w.Flush()
	}
}
