package console

import (
	"context"
	"time"

	"github.com/noveloffice/supportify/internal/domain"
	"github.com/noveloffice/supportify/internal/relay"
)

// SnapshotFetcher fetches the persisted session document. The HTTP
// Client implements it; tests substitute fakes.
type SnapshotFetcher interface {
	FetchSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// View is the per-console state of the currently selected session: the
// merged timeline, the typing indicator and the scoped subscription.
type View struct {
	fetcher  SnapshotFetcher
	Timeline *Timeline
	Typing   *TypingIndicator

	sub *Subscriber
	now func() time.Time
}

// NewView creates a view with nothing selected.
func NewView(fetcher SnapshotFetcher) *View {
	return &View{
		fetcher:  fetcher,
		Timeline: NewTimeline(),
		Typing:   NewTypingIndicator(0),
		sub:      NewSubscriber(),
		now:      time.Now,
	}
}

// Open selects a session: fetch the snapshot, reset the timeline to it
// and attach the live subscription. On a fetch error the selection is
// cleared — fail closed, back to the session list — and the error is
// returned. Reconnects call Open again; the fresh snapshot recovers
// anything missed while offline.
func (v *View) Open(ctx context.Context, sessionID string) error {
	snapshot, err := v.fetcher.FetchSession(ctx, sessionID)
	if err != nil {
		v.Close()
		return err
	}

	v.Timeline.Reset(sessionID, snapshot.Messages)
	v.Typing.Reset()
	v.sub.Attach(sessionID, Handlers{
		OnMessage: func(p relay.ReceiveMessage) {
			v.Timeline.Apply(p.SessionID, domain.Message{
				Author:    p.Username,
				Body:      p.Body,
				Kind:      domain.MessageKind(p.MessageType),
				Timestamp: p.Timestamp,
			})
		},
		OnAgentTyping: func(p relay.AgentTyping) {
			v.Typing.Signal(p.Username, "", v.now())
		},
		OnGuestTyping: func(p relay.GuestTyping) {
			v.Typing.Signal(domain.AuthorGuest, p.Body, v.now())
		},
		OnAgentJoined: func(p relay.AgentJoined) {
			v.Timeline.Apply(p.Room, domain.Message{
				Author:    domain.AuthorSystem,
				Body:      p.Username + " joined the chat",
				Kind:      domain.KindActivity,
				Timestamp: v.now(),
			})
		},
	})
	return nil
}

// Close drops the selection and detaches all live handlers.
func (v *View) Close() {
	v.sub.Detach()
	v.Timeline.Clear()
	v.Typing.Reset()
}

// HandleFrame feeds one relay envelope into the view.
func (v *View) HandleFrame(env relay.Envelope) {
	v.sub.Dispatch(env)
}

// SessionID returns the selected session, empty when none.
func (v *View) SessionID() string {
	return v.Timeline.SessionID()
}
