package domain

// ClientDetails holds what is known about the visitor behind a session.
// Created together with the session on first contact; contact and
// location fields are filled in later by the widget.
type ClientDetails struct {
	SessionID       string  `json:"session_id"`
	Name            string  `json:"name1,omitempty"`
	Email           string  `json:"email_address,omitempty"`
	Phone           string  `json:"contact_number,omitempty"`
	IPAddress       string  `json:"ip_address,omitempty"`
	OperatingSystem string  `json:"operating_system,omitempty"`
	Referrer        string  `json:"referrer,omitempty"`
	Accuracy        float64 `json:"accuracy,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
	Latitude        float64 `json:"latitude,omitempty"`
}

// Tag is a label agents attach to sessions.
type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// WidgetSettings configures the embeddable chat widget.
type WidgetSettings struct {
	WelcomeMessage   string   `json:"welcome_message"`
	ReturningMessage string   `json:"returning_message"`
	AllowedOrigins   []string `json:"allowed_origins"`
	RestrictedPaths  []string `json:"restricted_paths"`
}
