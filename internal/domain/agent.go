package domain

// CannedMessage is a pre-authored reply template triggered by a short
// hotword prefix ("/wlc" expands to the welcome text).
type CannedMessage struct {
	HotWord string `json:"hotWord"`
	Message string `json:"message"`
}

// AgentProfile is the persisted profile of a support agent. The User
// field (an email address) is the stable agent identity.
type AgentProfile struct {
	User        string `json:"user"`
	AgentName   string `json:"agent_name"`
	DisplayName string `json:"agent_display_name,omitempty"`
	IsAvailable bool   `json:"is_available"`
	IsAdmin     bool   `json:"is_admin"`
	Enabled     bool   `json:"enabled"`
	Theme       string `json:"theme,omitempty"`

	CannedMessages []CannedMessage `json:"canned_messages,omitempty"`
}

// Name returns the label shown to visitors: the display name when one
// is set, otherwise the plain agent name.
func (a *AgentProfile) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.AgentName
}
