package console

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/noveloffice/supportify/internal/domain"
	"github.com/noveloffice/supportify/internal/relay"
)

type fakeFetcher struct {
	sessions map[string]*domain.Session
	err      error
	calls    int
}

func (f *fakeFetcher) FetchSession(_ context.Context, sessionID string) (*domain.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such session")
	}
	return sess, nil
}

func frame(t *testing.T, event string, payload interface{}) relay.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return relay.Envelope{Event: event, Data: data}
}

func TestViewOpenMergesSnapshotAndLive(t *testing.T) {
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{sessions: map[string]*domain.Session{
		"s1": {ID: "s1", Messages: []domain.Message{chatAt("Guest", "hi", base)}},
	}}
	v := NewView(fetcher)

	if err := v.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if v.SessionID() != "s1" {
		t.Errorf("Expected session s1 selected, got %q", v.SessionID())
	}

	v.HandleFrame(frame(t, relay.EventReceiveMessage, relay.ReceiveMessage{
		SessionID: "s1", Username: "Alice", Body: "hello",
		Timestamp: base.Add(time.Second), MessageType: string(domain.KindChat),
	}))

	msgs := v.Timeline.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected snapshot + live message, got %d", len(msgs))
	}
	if msgs[1].Author != "Alice" || msgs[1].Body != "hello" {
		t.Errorf("Unexpected live message: %+v", msgs[1])
	}
}

func TestViewOpenFailsClosed(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("network down")}
	v := NewView(fetcher)

	if err := v.Open(context.Background(), "s1"); err == nil {
		t.Fatal("Open should surface the fetch error")
	}
	if v.SessionID() != "" {
		t.Error("Failed open should leave nothing selected")
	}
	if len(v.Timeline.Messages()) != 0 {
		t.Error("Failed open should leave no messages")
	}
}

func TestViewSwitchRefetches(t *testing.T) {
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{sessions: map[string]*domain.Session{
		"s1": {ID: "s1", Messages: []domain.Message{chatAt("Guest", "first", base)}},
		"s2": {ID: "s2", Messages: []domain.Message{chatAt("Guest", "second", base)}},
	}}
	v := NewView(fetcher)
	ctx := context.Background()

	if err := v.Open(ctx, "s1"); err != nil {
		t.Fatalf("Open s1 failed: %v", err)
	}
	if err := v.Open(ctx, "s2"); err != nil {
		t.Fatalf("Open s2 failed: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("Each open should fetch a fresh snapshot, got %d calls", fetcher.calls)
	}

	// Events for the previous session must not leak through.
	v.HandleFrame(frame(t, relay.EventReceiveMessage, relay.ReceiveMessage{
		SessionID: "s1", Username: "Alice", Body: "stale",
		Timestamp: base.Add(time.Second), MessageType: string(domain.KindChat),
	}))

	msgs := v.Timeline.Messages()
	if len(msgs) != 1 || msgs[0].Body != "second" {
		t.Errorf("Expected only s2 content, got %v", msgs)
	}
}

func TestViewTypingSignalAndExpiry(t *testing.T) {
	fetcher := &fakeFetcher{sessions: map[string]*domain.Session{"s1": {ID: "s1"}}}
	v := NewView(fetcher)

	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	current := base
	v.now = func() time.Time { return current }

	if err := v.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	v.HandleFrame(frame(t, relay.EventGuestTyping, relay.GuestTyping{Room: "s1", Body: "I was wond"}))

	author, body, active := v.Typing.Active(base.Add(time.Second))
	if !active || author != domain.AuthorGuest || body != "I was wond" {
		t.Errorf("Expected live preview, got %q %q active=%v", author, body, active)
	}
	if _, _, active := v.Typing.Active(base.Add(3 * time.Second)); active {
		t.Error("Typing indicator should expire without fresh signals")
	}
}

func TestViewAgentJoinedBecomesNotice(t *testing.T) {
	fetcher := &fakeFetcher{sessions: map[string]*domain.Session{"s1": {ID: "s1"}}}
	v := NewView(fetcher)

	if err := v.Open(context.Background(), "s1"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	v.HandleFrame(frame(t, relay.EventAgentJoined, relay.AgentJoined{Room: "s1", Username: "Alice"}))

	msgs := v.Timeline.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 notice, got %d", len(msgs))
	}
	if !msgs[0].IsActivity() || msgs[0].Body != "Alice joined the chat" {
		t.Errorf("Unexpected notice: %+v", msgs[0])
	}
}

func TestSubscriberScopesEvents(t *testing.T) {
	s := NewSubscriber()

	var got []string
	s.Attach("s1", Handlers{
		OnMessage: func(p relay.ReceiveMessage) { got = append(got, p.Body) },
	})

	s.Dispatch(frame(t, relay.EventReceiveMessage, relay.ReceiveMessage{SessionID: "s1", Body: "mine"}))
	s.Dispatch(frame(t, relay.EventReceiveMessage, relay.ReceiveMessage{SessionID: "s2", Body: "other"}))

	if len(got) != 1 || got[0] != "mine" {
		t.Errorf("Expected only the scoped message, got %v", got)
	}
}

func TestSubscriberClaimOffersPassRegardlessOfSession(t *testing.T) {
	s := NewSubscriber()

	var offers int
	s.Attach("s1", Handlers{
		OnAssignedUser: func(relay.AssignedUserDetails) { offers++ },
	})

	// Claim offers concern a session the agent has not opened yet.
	s.Dispatch(frame(t, relay.EventAssignedUserDetails, relay.AssignedUserDetails{SessionID: "s9"}))
	if offers != 1 {
		t.Errorf("Claim offers should pass regardless of selection, got %d", offers)
	}
}

func TestSubscriberDetachDropsEverything(t *testing.T) {
	s := NewSubscriber()

	var calls int
	s.Attach("s1", Handlers{
		OnMessage: func(relay.ReceiveMessage) { calls++ },
	})
	s.Detach()

	s.Dispatch(frame(t, relay.EventReceiveMessage, relay.ReceiveMessage{SessionID: "s1", Body: "late"}))
	if calls != 0 {
		t.Errorf("Detached subscriber should drop events, got %d calls", calls)
	}
}

func TestSubscriberAttachReplacesPrevious(t *testing.T) {
	s := NewSubscriber()

	var first, second int
	s.Attach("s1", Handlers{OnMessage: func(relay.ReceiveMessage) { first++ }})
	s.Attach("s2", Handlers{OnMessage: func(relay.ReceiveMessage) { second++ }})

	s.Dispatch(frame(t, relay.EventReceiveMessage, relay.ReceiveMessage{SessionID: "s1", Body: "a"}))
	s.Dispatch(frame(t, relay.EventReceiveMessage, relay.ReceiveMessage{SessionID: "s2", Body: "b"}))

	if first != 0 {
		t.Errorf("Replaced handlers should never fire, got %d", first)
	}
	if second != 1 {
		t.Errorf("Expected the new subscription to fire once, got %d", second)
	}
}
