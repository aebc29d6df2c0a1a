package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/noveloffice/supportify/internal/domain"
)

func TestGetAgentProvisionsProfile(t *testing.T) {
	e := newTestEnv(t)

	resp := e.request(t, http.MethodGet, "/api/agents/alice@example.com", "alice@example.com", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var profile domain.AgentProfile
	decodeResp(t, resp, &profile)
	if profile.User != "alice@example.com" {
		t.Errorf("Expected provisioned profile, got %+v", profile)
	}
	if !profile.Enabled {
		t.Error("Provisioned profile should be enabled")
	}
}

func TestGetAgentRequiresIdentity(t *testing.T) {
	e := newTestEnv(t)

	resp := e.request(t, http.MethodGet, "/api/agents/alice@example.com", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestSetAvailabilityUpdatesRegistry(t *testing.T) {
	e := newTestEnv(t)

	resp := e.request(t, http.MethodPut, "/api/agents/alice@example.com/availability", "alice@example.com",
		map[string]bool{"is_available": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	if !e.reg.IsAvailable("alice@example.com") {
		t.Error("Registry should reflect the toggle immediately")
	}

	// The profile endpoint reports the live flag.
	resp = e.request(t, http.MethodGet, "/api/agents/alice@example.com", "alice@example.com", nil)
	var profile domain.AgentProfile
	decodeResp(t, resp, &profile)
	if !profile.IsAvailable {
		t.Error("Profile should report the live availability flag")
	}
}

func TestAvailabilityPersistedAfterFlush(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	resp := e.request(t, http.MethodPut, "/api/agents/alice@example.com/availability", "alice@example.com",
		map[string]bool{"is_available": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	e.reg.Flush()

	agents, err := e.repo.ListAvailableAgents(ctx)
	if err != nil {
		t.Fatalf("Failed to list available agents: %v", err)
	}
	if len(agents) != 1 || agents[0] != "alice@example.com" {
		t.Errorf("Expected persisted availability after flush, got %v", agents)
	}
}

func TestSetTheme(t *testing.T) {
	e := newTestEnv(t)

	resp := e.request(t, http.MethodPut, "/api/agents/alice@example.com/theme", "alice@example.com",
		map[string]string{"theme": "dark"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	profile, err := e.repo.GetAgent(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Failed to get agent: %v", err)
	}
	if profile.Theme != "dark" {
		t.Errorf("Expected theme dark, got %q", profile.Theme)
	}
}

func TestCannedMessagesDefaultSet(t *testing.T) {
	e := newTestEnv(t)

	shared := []domain.CannedMessage{
		{HotWord: "wlc", Message: "Welcome to support!"},
	}
	resp := e.request(t, http.MethodPut, "/api/agents/default/canned-messages", "alice@example.com", shared)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	// Visible through the default id...
	resp = e.request(t, http.MethodGet, "/api/agents/default/canned-messages", "alice@example.com", nil)
	var got []domain.CannedMessage
	decodeResp(t, resp, &got)
	if len(got) != 1 || got[0].HotWord != "wlc" {
		t.Errorf("Unexpected canned messages: %v", got)
	}

	// ...and independent from any personal set.
	resp = e.request(t, http.MethodGet, "/api/agents/alice@example.com/canned-messages", "alice@example.com", nil)
	var personal []domain.CannedMessage
	decodeResp(t, resp, &personal)
	if len(personal) != 0 {
		t.Errorf("Personal set should be empty, got %v", personal)
	}
}
