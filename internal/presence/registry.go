// Package presence tracks which agents are connected and available.
//
// The registry is the authoritative, server-owned copy of agent
// availability; consoles only hold a cached view. Connections are
// refcounted so an agent with several tabs open stays "connected" until
// the last one drops. Availability changes take effect in memory
// immediately; the persistence write is debounced to avoid write
// amplification under rapid toggling.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/noveloffice/supportify/internal/debounce"
	"github.com/noveloffice/supportify/internal/store"
)

const persistWindow = 500 * time.Millisecond

// Registry maintains connected-agent refcounts and availability flags.
type Registry struct {
	repo store.Repository

	mu          sync.RWMutex
	connections map[string]int
	available   map[string]bool
	writers     map[string]*debounce.Debouncer[bool]
}

// NewRegistry creates a registry backed by repo for availability
// persistence.
func NewRegistry(repo store.Repository) *Registry {
	return &Registry{
		repo:        repo,
		connections: make(map[string]int),
		available:   make(map[string]bool),
		writers:     make(map[string]*debounce.Debouncer[bool]),
	}
}

// Seed loads the persisted availability flags into memory. Called once
// at startup; afterwards the in-memory state is authoritative.
func (r *Registry) Seed(ctx context.Context) error {
	agents, err := r.repo.ListAvailableAgents(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range agents {
		r.available[id] = true
	}
	return nil
}

// Connect registers one connection for the agent. Multiple tabs produce
// multiple connections.
func (r *Registry) Connect(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[agentID]++
	slog.Debug("Agent connection registered", "agent", agentID, "connections", r.connections[agentID])
}

// Disconnect releases one connection; the agent stays connected until
// the last one drops.
func (r *Registry) Disconnect(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.connections[agentID]; ok {
		if n <= 1 {
			delete(r.connections, agentID)
			slog.Debug("Agent fully disconnected", "agent", agentID)
		} else {
			r.connections[agentID] = n - 1
		}
	}
}

// IsConnected reports whether the agent has at least one live
// connection.
func (r *Registry) IsConnected(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[agentID] > 0
}

// SetAvailability records the agent's self-reported availability. The
// in-memory flag changes immediately; the store write is debounced and
// last-write-wins. Idempotent.
func (r *Registry) SetAvailability(agentID string, available bool) {
	r.mu.Lock()
	r.available[agentID] = available
	w, ok := r.writers[agentID]
	if !ok {
		id := agentID
		w = debounce.New(persistWindow, func(ctx context.Context, v bool) error {
			return r.repo.SetAgentAvailability(ctx, id, v)
		})
		r.writers[agentID] = w
	}
	r.mu.Unlock()

	w.Set(available)
}

// IsAvailable reports the agent's availability flag. Unknown agents are
// unavailable.
func (r *Registry) IsAvailable(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[agentID]
}

// AvailableAgents returns every agent currently flagged available,
// regardless of session. This is the claim-offer audience.
func (r *Registry) AvailableAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]string, 0, len(r.available))
	for id, ok := range r.available {
		if ok {
			agents = append(agents, id)
		}
	}
	return agents
}

// Flush forces any pending availability writes. Used on shutdown.
func (r *Registry) Flush() {
	r.mu.RLock()
	writers := make([]*debounce.Debouncer[bool], 0, len(r.writers))
	for _, w := range r.writers {
		writers = append(writers, w)
	}
	r.mu.RUnlock()
	for _, w := range writers {
		w.Flush()
	}
}
