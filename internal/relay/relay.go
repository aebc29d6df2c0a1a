package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/noveloffice/supportify/internal/domain"
	"github.com/noveloffice/supportify/internal/presence"
	"github.com/noveloffice/supportify/internal/router"
	"github.com/noveloffice/supportify/internal/store"
	"golang.org/x/time/rate"
)

// Sender writes one event to a single connected socket.
type Sender interface {
	Send(event string, data interface{}) error
}

// role of a connection, fixed on its first join_room.
type role int

const (
	roleUnknown role = iota
	roleAgent
	roleVisitor
)

// Typing events are lossy by design; cap the inbound rate per
// connection rather than queueing them.
const (
	typingRateLimit = rate.Limit(10)
	typingRateBurst = 20
)

// pendingOffer is the per-connection claim-offer artifact. It lives for
// one offer/accept round trip and is never persisted.
type pendingOffer struct {
	expectedOwner string
	message       string
}

// Client is one connected socket, agent or visitor.
type Client struct {
	sender Sender

	mu      sync.Mutex
	role    role
	agentID string
	name    string
	room    string
	offers  map[string]pendingOffer
	typing  *rate.Limiter
}

func (c *Client) send(event string, data interface{}) {
	if err := c.sender.Send(event, data); err != nil {
		slog.Debug("Relay send failed", "event", event, "error", err)
	}
}

func (c *Client) setOffer(sessionID string, offer pendingOffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers[sessionID] = offer
}

func (c *Client) takeOffer(sessionID string) (pendingOffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	offer, ok := c.offers[sessionID]
	delete(c.offers, sessionID)
	return offer, ok
}

// AgentID returns the agent identity, empty for visitors.
func (c *Client) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// Relay owns room membership and event fan-out.
type Relay struct {
	router   *router.Router
	presence *presence.Registry
	repo     store.Repository

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

// New creates a relay on top of the session router and presence
// registry.
func New(rt *router.Router, reg *presence.Registry, repo store.Repository) *Relay {
	return &Relay{
		router:   rt,
		presence: reg,
		repo:     repo,
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
	}
}

// AddClient registers a new connection. Its role is fixed by the first
// join_room it sends.
func (r *Relay) AddClient(sender Sender) *Client {
	c := &Client{
		sender: sender,
		offers: make(map[string]pendingOffer),
		typing: rate.NewLimiter(typingRateLimit, typingRateBurst),
	}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
	return c
}

// RemoveClient drops a connection: leaves its room, releases the
// presence refcount for agents, and reports the visitor offline to the
// room's agents.
func (r *Relay) RemoveClient(c *Client) {
	c.mu.Lock()
	connRole := c.role
	agentID := c.agentID
	room := c.room
	c.mu.Unlock()

	r.mu.Lock()
	delete(r.clients, c)
	r.dropFromRoom(c, room)
	r.mu.Unlock()

	switch connRole {
	case roleAgent:
		r.presence.Disconnect(agentID)
	case roleVisitor:
		if room != "" {
			r.broadcast(room, c, EventUserAvailability, UserAvailability{Room: room, IsOnline: false})
		}
	}
}

// HandleFrame parses and dispatches one inbound frame.
func (r *Relay) HandleFrame(ctx context.Context, c *Client, data []byte) error {
	env, err := ParseEnvelope(data)
	if err != nil {
		return fmt.Errorf("parse frame: %w", err)
	}
	return r.HandleEvent(ctx, c, env)
}

// HandleEvent dispatches one inbound event.
func (r *Relay) HandleEvent(ctx context.Context, c *Client, env Envelope) error {
	switch env.Event {
	case EventJoinRoom:
		var p JoinRoom
		if err := unmarshal(env.Data, &p); err != nil {
			return err
		}
		return r.handleJoin(ctx, c, p)

	case EventSendMessage:
		var p SendMessage
		if err := unmarshal(env.Data, &p); err != nil {
			return err
		}
		return r.handleSend(ctx, c, p)

	case EventGetAssignedUser:
		var p GetAssignedUser
		if err := unmarshal(env.Data, &p); err != nil {
			return err
		}
		return r.offerClaim(ctx, c, p.SessionID, p.Message)

	case EventAssignToMe:
		var p AssignToMe
		if err := unmarshal(env.Data, &p); err != nil {
			return err
		}
		return r.handleAssign(ctx, c, p)

	case EventResolvedNotification:
		var p ResolvedNotification
		if err := unmarshal(env.Data, &p); err != nil {
			return err
		}
		return r.handleResolved(c, p)

	case EventAgentTyping:
		var p AgentTyping
		if err := unmarshal(env.Data, &p); err != nil {
			return err
		}
		if c.typing.Allow() {
			r.broadcast(p.Room, c, EventAgentTyping, p)
		}
		return nil

	case EventGuestTyping:
		var p GuestTyping
		if err := unmarshal(env.Data, &p); err != nil {
			return err
		}
		if c.typing.Allow() {
			r.broadcast(p.Room, c, EventGuestTyping, p)
		}
		return nil

	case EventSetAvailability:
		var p SetAvailability
		if err := unmarshal(env.Data, &p); err != nil {
			return err
		}
		r.presence.SetAvailability(p.AgentEmail, p.IsAvailable)
		return nil

	default:
		slog.Debug("Unknown relay event", "event", env.Event)
		return nil
	}
}

func unmarshal(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}

// handleJoin fixes the connection's identity on first join and switches
// its room. Handlers scoped to the previous room are detached before
// the new room is joined, so a stale connection can never observe
// another session's events.
func (r *Relay) handleJoin(ctx context.Context, c *Client, p JoinRoom) error {
	c.mu.Lock()
	first := c.role == roleUnknown
	if first {
		if p.AgentEmail != "" && p.Username != domain.AuthorGuest {
			c.role = roleAgent
			c.agentID = p.AgentEmail
			c.name = p.Username
		} else {
			c.role = roleVisitor
			c.name = domain.AuthorGuest
		}
	}
	connRole := c.role
	agentID := c.agentID
	prevRoom := c.room
	c.room = p.Room
	c.mu.Unlock()

	if first && connRole == roleAgent {
		r.presence.Connect(agentID)
		profile, err := r.repo.EnsureAgent(ctx, agentID)
		if err != nil {
			slog.Error("Failed to provision agent profile", "agent", agentID, "error", err)
		} else if profile.Name() != "" {
			c.mu.Lock()
			c.name = profile.Name()
			c.mu.Unlock()
		}
	}

	r.mu.Lock()
	r.dropFromRoom(c, prevRoom)
	if p.Room != "" {
		if r.rooms[p.Room] == nil {
			r.rooms[p.Room] = make(map[*Client]struct{})
		}
		r.rooms[p.Room][c] = struct{}{}
	}
	r.mu.Unlock()

	if p.Room == "" {
		return nil
	}

	switch connRole {
	case roleVisitor:
		r.broadcast(p.Room, c, EventUserAvailability, UserAvailability{Room: p.Room, IsOnline: true})
	case roleAgent:
		// Tell the joining agent whether the visitor is currently here.
		c.send(EventUserAvailability, UserAvailability{Room: p.Room, IsOnline: r.visitorOnline(p.Room)})
	}
	return nil
}

// dropFromRoom removes c from a room. Caller holds r.mu.
func (r *Relay) dropFromRoom(c *Client, room string) {
	if room == "" {
		return
	}
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Relay) visitorOnline(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for member := range r.rooms[room] {
		member.mu.Lock()
		isVisitor := member.role == roleVisitor
		member.mu.Unlock()
		if isVisitor {
			return true
		}
	}
	return false
}

// handleSend routes one chat message. Visitor messages append and fan
// out unconditionally (reopening a resolved session); agent messages go
// through the send rules and may come back as a claim offer instead.
func (r *Relay) handleSend(ctx context.Context, c *Client, p SendMessage) error {
	c.mu.Lock()
	connRole := c.role
	agentID := c.agentID
	name := c.name
	c.mu.Unlock()

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = p.Room
	}

	if connRole == roleVisitor {
		res, err := r.router.AppendGuestMessage(ctx, sessionID, p.Body)
		if err != nil {
			return err
		}
		r.broadcast(sessionID, c, EventReceiveMessage, receiveFor(sessionID, res.Message))
		if res.Reopened {
			r.broadcast(sessionID, nil, EventResolvedNotification, ResolvedNotification{
				SessionID: sessionID,
				Room:      sessionID,
				Username:  domain.AuthorGuest,
				Resolved:  false,
			})
		}
		return nil
	}

	res, err := r.router.RequestSend(ctx, sessionID, agentID, name, p.Body)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			slog.Warn("Send into missing session", "session", sessionID, "agent", agentID)
			return nil
		}
		return err
	}

	if res.Outcome == router.Delivered {
		r.broadcast(sessionID, c, EventReceiveMessage, receiveFor(sessionID, *res.Message))
		return nil
	}
	return r.offerFromResult(c, sessionID, p.Body, res.Owner, res.OwnerName)
}

// offerClaim answers "who owns this session" for a candidate message.
func (r *Relay) offerClaim(ctx context.Context, c *Client, sessionID, candidate string) error {
	owner, ownerName, err := r.router.Owner(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			slog.Warn("Claim question for missing session", "session", sessionID)
			return nil
		}
		return err
	}
	return r.offerFromResult(c, sessionID, candidate, owner, ownerName)
}

// offerFromResult distributes a claim offer. Unowned sessions offer to
// every available agent; owned sessions ask only the requester whether
// to take over.
func (r *Relay) offerFromResult(c *Client, sessionID, candidate, owner, ownerName string) error {
	if owner == "" {
		offer := pendingOffer{message: candidate}
		details := AssignedUserDetails{SessionID: sessionID, Message: candidate}
		for _, target := range r.availableAgentClients() {
			target.setOffer(sessionID, offer)
			target.send(EventAssignedUserDetails, details)
		}
		return nil
	}

	c.setOffer(sessionID, pendingOffer{expectedOwner: owner, message: candidate})
	c.send(EventAssignedUserDetails, AssignedUserDetails{
		SessionID:    sessionID,
		AssignedUser: owner,
		AssignedName: ownerName,
		Message:      candidate,
	})
	return nil
}

func (r *Relay) availableAgentClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var targets []*Client
	for c := range r.clients {
		c.mu.Lock()
		ok := c.role == roleAgent && r.presence.IsAvailable(c.agentID)
		c.mu.Unlock()
		if ok {
			targets = append(targets, c)
		}
	}
	return targets
}

// handleAssign accepts a claim. The compare-and-set in the router
// guarantees a single winner; a losing claimant is told who owns the
// session now, as a fresh takeover offer rather than an error.
func (r *Relay) handleAssign(ctx context.Context, c *Client, p AssignToMe) error {
	c.mu.Lock()
	agentID := c.agentID
	name := c.name
	c.mu.Unlock()
	if p.Username != "" {
		name = p.Username
	}

	offer, _ := c.takeOffer(p.SessionID)
	body := p.Body
	if body == "" {
		body = offer.message
	}

	out, err := r.router.AcceptClaim(ctx, p.SessionID, agentID, name, offer.expectedOwner, body)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			slog.Warn("Claim on missing session", "session", p.SessionID, "agent", agentID)
			return nil
		}
		return err
	}

	if !out.Won {
		c.setOffer(p.SessionID, pendingOffer{expectedOwner: out.Owner, message: body})
		c.send(EventAssignedUserDetails, AssignedUserDetails{
			SessionID:    p.SessionID,
			AssignedUser: out.Owner,
			AssignedName: out.OwnerName,
			Message:      body,
		})
		return nil
	}

	if out.Message != nil {
		r.broadcast(p.SessionID, c, EventReceiveMessage, receiveFor(p.SessionID, *out.Message))
	}
	if out.Notice != nil {
		r.broadcast(p.SessionID, nil, EventAgentJoined, AgentJoined{Room: p.SessionID, Username: name})
	}
	return nil
}

func (r *Relay) handleResolved(c *Client, p ResolvedNotification) error {
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = p.Room
	}
	r.router.SetResolved(sessionID, p.Resolved)
	p.Room = sessionID
	r.broadcast(sessionID, c, EventResolvedNotification, p)
	return nil
}

// broadcast fans an event out to every room member except the given
// sender. At-most-once per connected socket; failures are dropped.
func (r *Relay) broadcast(room string, except *Client, event string, data interface{}) {
	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[room]))
	for member := range r.rooms[room] {
		if member != except {
			members = append(members, member)
		}
	}
	r.mu.RUnlock()

	for _, member := range members {
		member.send(event, data)
	}
}

func receiveFor(sessionID string, msg domain.Message) ReceiveMessage {
	return ReceiveMessage{
		SessionID:   sessionID,
		Username:    msg.Author,
		Body:        msg.Body,
		Timestamp:   msg.Timestamp,
		MessageType: string(msg.Kind),
	}
}
