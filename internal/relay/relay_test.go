package relay

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/noveloffice/supportify/internal/domain"
	"github.com/noveloffice/supportify/internal/presence"
	"github.com/noveloffice/supportify/internal/router"
	"github.com/noveloffice/supportify/internal/store"
)

// fakeSender records every event sent to one connection.
type fakeSender struct {
	mu     sync.Mutex
	events []sentEvent
}

type sentEvent struct {
	event string
	data  interface{}
}

func (f *fakeSender) Send(event string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{event: event, data: data})
	return nil
}

func (f *fakeSender) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeSender) last(event string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i].data, true
		}
	}
	return nil, false
}

type fixture struct {
	relay *Relay
	repo  store.Repository
	reg   *presence.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	reg := presence.NewRegistry(repo)
	rt := router.New(repo, reg)
	return &fixture{relay: New(rt, reg, repo), repo: repo, reg: reg}
}

func (f *fixture) newSession(t *testing.T) string {
	t.Helper()
	id, err := f.repo.CreateSession(context.Background(), store.NewSessionInfo{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return id
}

// joinAgent connects an available agent into a room.
func (f *fixture) joinAgent(t *testing.T, email, name, room string) (*Client, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	c := f.relay.AddClient(s)
	if err := f.relay.HandleEvent(context.Background(), c, envelope(t, EventJoinRoom, JoinRoom{
		Room: room, Username: name, AgentEmail: email,
	})); err != nil {
		t.Fatalf("Agent join failed: %v", err)
	}
	f.reg.SetAvailability(email, true)
	return c, s
}

func (f *fixture) joinVisitor(t *testing.T, room string) (*Client, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	c := f.relay.AddClient(s)
	if err := f.relay.HandleEvent(context.Background(), c, envelope(t, EventJoinRoom, JoinRoom{
		Room: room, Username: domain.AuthorGuest,
	})); err != nil {
		t.Fatalf("Visitor join failed: %v", err)
	}
	return c, s
}

func envelope(t *testing.T, event string, payload interface{}) Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return Envelope{Event: event, Data: data}
}

func TestVisitorMessageFansOutToRoom(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)

	visitor, visitorSender := f.joinVisitor(t, id)
	_, agentSender := f.joinAgent(t, "alice@example.com", "Alice", id)

	if err := f.relay.HandleEvent(context.Background(), visitor, envelope(t, EventSendMessage, SendMessage{
		SessionID: id, Room: id, Username: domain.AuthorGuest, Body: "hello",
	})); err != nil {
		t.Fatalf("Visitor send failed: %v", err)
	}

	if agentSender.count(EventReceiveMessage) != 1 {
		t.Errorf("Agent should receive the visitor message, got %d", agentSender.count(EventReceiveMessage))
	}
	if visitorSender.count(EventReceiveMessage) != 0 {
		t.Error("Sender should not receive its own message back")
	}

	data, _ := agentSender.last(EventReceiveMessage)
	msg, ok := data.(ReceiveMessage)
	if !ok {
		t.Fatalf("Unexpected payload type %T", data)
	}
	if msg.Username != domain.AuthorGuest || msg.Body != "hello" {
		t.Errorf("Unexpected message payload: %+v", msg)
	}
}

func TestAgentSendIntoUnclaimedSessionOffersClaim(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)

	alice, aliceSender := f.joinAgent(t, "alice@example.com", "Alice", id)
	_, bobSender := f.joinAgent(t, "bob@example.com", "Bob", "")

	if err := f.relay.HandleEvent(context.Background(), alice, envelope(t, EventSendMessage, SendMessage{
		SessionID: id, Room: id, Username: "Alice", Body: "can I help?",
	})); err != nil {
		t.Fatalf("Agent send failed: %v", err)
	}

	// The message was withheld, not delivered.
	sess, err := f.repo.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("Withheld message was persisted: %v", sess.Messages)
	}

	// Every available agent got the claim offer, including the sender.
	for name, s := range map[string]*fakeSender{"alice": aliceSender, "bob": bobSender} {
		data, ok := s.last(EventAssignedUserDetails)
		if !ok {
			t.Fatalf("Agent %s did not receive the claim offer", name)
		}
		details := data.(AssignedUserDetails)
		if details.AssignedUser != "" {
			t.Errorf("Unclaimed offer should carry no owner, got %q", details.AssignedUser)
		}
		if details.Message != "can I help?" {
			t.Errorf("Offer should carry the candidate message, got %q", details.Message)
		}
	}
}

func TestAssignToMeDeliversWithheldMessage(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)

	_, visitorSender := f.joinVisitor(t, id)
	alice, _ := f.joinAgent(t, "alice@example.com", "Alice", id)

	// Offer, then accept.
	if err := f.relay.HandleEvent(context.Background(), alice, envelope(t, EventSendMessage, SendMessage{
		SessionID: id, Room: id, Username: "Alice", Body: "hi there",
	})); err != nil {
		t.Fatalf("Agent send failed: %v", err)
	}
	if err := f.relay.HandleEvent(context.Background(), alice, envelope(t, EventAssignToMe, AssignToMe{
		SessionID: id, Username: "Alice", AgentEmail: "alice@example.com",
	})); err != nil {
		t.Fatalf("AssignToMe failed: %v", err)
	}

	sess, err := f.repo.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if sess.OwnerAgentID != "alice@example.com" {
		t.Errorf("Expected owner alice@example.com, got %q", sess.OwnerAgentID)
	}
	// The withheld message plus the join notice.
	if len(sess.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(sess.Messages))
	}
	if sess.Messages[0].Body != "hi there" {
		t.Errorf("Expected withheld message delivered, got %q", sess.Messages[0].Body)
	}

	if visitorSender.count(EventReceiveMessage) != 1 {
		t.Errorf("Visitor should receive the claimed message, got %d", visitorSender.count(EventReceiveMessage))
	}
	if visitorSender.count(EventAgentJoined) != 1 {
		t.Errorf("Visitor should see the agent join, got %d", visitorSender.count(EventAgentJoined))
	}
}

func TestAssignToMeLoserGetsTakeoverOffer(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)

	alice, _ := f.joinAgent(t, "alice@example.com", "Alice", id)
	bob, bobSender := f.joinAgent(t, "bob@example.com", "Bob", id)
	ctx := context.Background()

	// Both receive the unclaimed offer.
	if err := f.relay.HandleEvent(ctx, alice, envelope(t, EventGetAssignedUser, GetAssignedUser{
		SessionID: id, Message: "on it",
	})); err != nil {
		t.Fatalf("GetAssignedUser failed: %v", err)
	}

	// Alice accepts first.
	if err := f.relay.HandleEvent(ctx, alice, envelope(t, EventAssignToMe, AssignToMe{
		SessionID: id, Username: "Alice", AgentEmail: "alice@example.com",
	})); err != nil {
		t.Fatalf("Alice AssignToMe failed: %v", err)
	}
	// Bob accepts the same stale offer and loses.
	if err := f.relay.HandleEvent(ctx, bob, envelope(t, EventAssignToMe, AssignToMe{
		SessionID: id, Username: "Bob", AgentEmail: "bob@example.com",
	})); err != nil {
		t.Fatalf("Bob AssignToMe failed: %v", err)
	}

	data, ok := bobSender.last(EventAssignedUserDetails)
	if !ok {
		t.Fatal("Bob should be told who won")
	}
	details := data.(AssignedUserDetails)
	if details.AssignedUser != "alice@example.com" {
		t.Errorf("Loser should see the winner, got %q", details.AssignedUser)
	}

	owner, _, err := f.repo.SessionOwner(ctx, id)
	if err != nil {
		t.Fatalf("Failed to read owner: %v", err)
	}
	if owner != "alice@example.com" {
		t.Errorf("Expected alice to own the session, got %q", owner)
	}
}

func TestVisitorReopenBroadcastsResolvedNotification(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)
	ctx := context.Background()

	if err := f.repo.SetResolved(ctx, id, true); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	visitor, _ := f.joinVisitor(t, id)
	_, agentSender := f.joinAgent(t, "alice@example.com", "Alice", id)

	if err := f.relay.HandleEvent(ctx, visitor, envelope(t, EventSendMessage, SendMessage{
		SessionID: id, Room: id, Username: domain.AuthorGuest, Body: "still broken",
	})); err != nil {
		t.Fatalf("Visitor send failed: %v", err)
	}

	data, ok := agentSender.last(EventResolvedNotification)
	if !ok {
		t.Fatal("Agent should be told the session reopened")
	}
	notif := data.(ResolvedNotification)
	if notif.Resolved {
		t.Error("Reopen notification should carry resolved=false")
	}
}

func TestVisitorPresenceBroadcasts(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)

	_, agentSender := f.joinAgent(t, "alice@example.com", "Alice", id)

	visitor, _ := f.joinVisitor(t, id)
	data, ok := agentSender.last(EventUserAvailability)
	if !ok {
		t.Fatal("Agent should see the visitor come online")
	}
	if !data.(UserAvailability).IsOnline {
		t.Error("Expected isOnline=true on visitor join")
	}

	f.relay.RemoveClient(visitor)
	data, _ = agentSender.last(EventUserAvailability)
	if data.(UserAvailability).IsOnline {
		t.Error("Expected isOnline=false after visitor disconnect")
	}
}

func TestAgentJoinSeesVisitorState(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)

	f.joinVisitor(t, id)
	_, agentSender := f.joinAgent(t, "alice@example.com", "Alice", id)

	data, ok := agentSender.last(EventUserAvailability)
	if !ok {
		t.Fatal("Joining agent should learn the visitor's state")
	}
	if !data.(UserAvailability).IsOnline {
		t.Error("Expected isOnline=true while the visitor is connected")
	}
}

func TestTypingRelayedNotPersisted(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)
	ctx := context.Background()

	visitor, _ := f.joinVisitor(t, id)
	_, agentSender := f.joinAgent(t, "alice@example.com", "Alice", id)

	if err := f.relay.HandleEvent(ctx, visitor, envelope(t, EventGuestTyping, GuestTyping{
		Room: id, Body: "I was wonder",
	})); err != nil {
		t.Fatalf("Typing event failed: %v", err)
	}

	if agentSender.count(EventGuestTyping) != 1 {
		t.Errorf("Agent should receive the typing preview, got %d", agentSender.count(EventGuestTyping))
	}

	sess, err := f.repo.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Error("Typing signals must never be persisted")
	}
}

func TestTypingRateLimited(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)
	ctx := context.Background()

	visitor, _ := f.joinVisitor(t, id)
	_, agentSender := f.joinAgent(t, "alice@example.com", "Alice", id)

	// Well past the burst allowance.
	for i := 0; i < 200; i++ {
		if err := f.relay.HandleEvent(ctx, visitor, envelope(t, EventGuestTyping, GuestTyping{
			Room: id, Body: "x",
		})); err != nil {
			t.Fatalf("Typing event failed: %v", err)
		}
	}

	got := agentSender.count(EventGuestTyping)
	if got >= 200 {
		t.Errorf("Typing events should be rate limited, got %d of 200", got)
	}
	if got == 0 {
		t.Error("Rate limiter should admit the initial burst")
	}
}

func TestRoomSwitchDropsOldRoom(t *testing.T) {
	f := newFixture(t)
	first := f.newSession(t)
	second := f.newSession(t)
	ctx := context.Background()

	visitor, _ := f.joinVisitor(t, first)
	agent, agentSender := f.joinAgent(t, "alice@example.com", "Alice", first)

	// The agent switches to another session.
	if err := f.relay.HandleEvent(ctx, agent, envelope(t, EventJoinRoom, JoinRoom{
		Room: second, Username: "Alice", AgentEmail: "alice@example.com",
	})); err != nil {
		t.Fatalf("Room switch failed: %v", err)
	}

	before := agentSender.count(EventReceiveMessage)
	if err := f.relay.HandleEvent(ctx, visitor, envelope(t, EventSendMessage, SendMessage{
		SessionID: first, Room: first, Username: domain.AuthorGuest, Body: "anyone?",
	})); err != nil {
		t.Fatalf("Visitor send failed: %v", err)
	}

	if agentSender.count(EventReceiveMessage) != before {
		t.Error("Agent should not receive events from the room it left")
	}
}

func TestResolvedToggleBroadcast(t *testing.T) {
	f := newFixture(t)
	id := f.newSession(t)
	ctx := context.Background()

	agent, _ := f.joinAgent(t, "alice@example.com", "Alice", id)
	_, visitorSender := f.joinVisitor(t, id)

	if err := f.relay.HandleEvent(ctx, agent, envelope(t, EventResolvedNotification, ResolvedNotification{
		SessionID: id, Username: "Alice", Resolved: true,
	})); err != nil {
		t.Fatalf("Resolved toggle failed: %v", err)
	}

	if visitorSender.count(EventResolvedNotification) != 1 {
		t.Errorf("Visitor should see the resolved toggle, got %d", visitorSender.count(EventResolvedNotification))
	}
}

func TestSetAvailabilityEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := &fakeSender{}
	c := f.relay.AddClient(s)
	if err := f.relay.HandleEvent(ctx, c, envelope(t, EventSetAvailability, SetAvailability{
		AgentEmail: "alice@example.com", IsAvailable: true,
	})); err != nil {
		t.Fatalf("SetAvailability failed: %v", err)
	}
	if !f.reg.IsAvailable("alice@example.com") {
		t.Error("Availability event should update the registry")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	f := newFixture(t)

	s := &fakeSender{}
	c := f.relay.AddClient(s)
	if err := f.relay.HandleFrame(context.Background(), c, []byte(`{"event":"mystery","data":{}}`)); err != nil {
		t.Errorf("Unknown events should be ignored, got %v", err)
	}
}

func TestMalformedFrameRejected(t *testing.T) {
	f := newFixture(t)

	s := &fakeSender{}
	c := f.relay.AddClient(s)
	if err := f.relay.HandleFrame(context.Background(), c, []byte("not json")); err == nil {
		t.Error("Malformed frames should be rejected")
	}
}
