package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketHandler upgrades HTTP requests into relay connections.
type WebSocketHandler struct {
	relay         *Relay
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(r *Relay, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		relay:         r,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsSender adapts websocket.Conn to the relay's Sender. Writes are
// serialized; the WebSocket library handles its own connection state so
// writes use context.Background().
type wsSender struct {
	conn *websocket.Conn
	ctx  context.Context

	mu sync.Mutex
}

func (s *wsSender) Send(event string, data interface{}) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Write(context.Background(), websocket.MessageText, frame); err != nil {
		if s.ctx.Err() != nil {
			// Connection closing, expected.
			return s.ctx.Err()
		}
		slog.Debug("WebSocket write error", "event", event, "error", err)
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection closed"); closeErr != nil {
			slog.Debug("WebSocket close error", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := h.relay.AddClient(&wsSender{conn: ws, ctx: ctx})
	defer h.relay.RemoveClient(client)

	slog.Info("Relay connection opened", "ip", r.RemoteAddr)

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				slog.Info("Relay connection closed", "ip", r.RemoteAddr)
			} else {
				slog.Debug("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		if err := h.relay.HandleFrame(ctx, client, data); err != nil {
			slog.Warn("Relay event failed", "error", err, "agent", client.AgentID())
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients (widgets embedded in native apps).
		return true
	}
	return h.allowedOrigin == "" || origin == h.allowedOrigin
}
