package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/noveloffice/supportify/internal/domain"
)

const (
	// DefaultTimeout is the default HTTP timeout used by the client.
	DefaultTimeout = 10 * time.Second

	maxResponseSize = 10 * 1024 * 1024
)

// Client talks to the gateway's HTTP API on behalf of one agent.
// It implements SnapshotFetcher.
type Client struct {
	baseURL    string
	agentID    string
	httpClient *http.Client
}

// NewClient creates a console API client for the given agent identity.
func NewClient(baseURL, agentID string) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		agentID: agentID,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("console: http %d", e.StatusCode)
	}
	return fmt.Sprintf("console: http %d: %s", e.StatusCode, e.Body)
}

// FetchSession retrieves the persisted session snapshot.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess domain.Session
	if err := c.get(ctx, "/api/sessions/"+url.PathEscape(sessionID), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions retrieves the session list for the console sidebar.
func (c *Client) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	var sessions []*domain.Session
	if err := c.get(ctx, "/api/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// FetchProfile retrieves (and on first login provisions) the agent's
// own profile, canned messages included.
func (c *Client) FetchProfile(ctx context.Context) (*domain.AgentProfile, error) {
	var profile domain.AgentProfile
	if err := c.get(ctx, "/api/agents/"+url.PathEscape(c.agentID), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateAvailability flips the agent's availability toggle.
func (c *Client) UpdateAvailability(ctx context.Context, available bool) error {
	body := map[string]bool{"is_available": available}
	return c.do(ctx, http.MethodPut, "/api/agents/"+url.PathEscape(c.agentID)+"/availability", body, nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Supportify-Agent", c.agentID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
