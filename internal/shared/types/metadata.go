package types

import "time"

// AppMetadata is the resolved description of a mini-app, fetched through
// the metadata resolver. Nil on a Session until resolution completes.
type AppMetadata struct {
	AppID       string    `json:"app_id"`
	BotID       string    `json:"bot_id,omitempty"`
	ShortName   string    `json:"short_name"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	IconURL     string    `json:"icon_url,omitempty"`
	LaunchURL   string    `json:"launch_url,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Theme is the host color scheme propagated to embedded content.
type Theme struct {
	Scheme string            `json:"scheme"` // "light" or "dark"
	Params map[string]string `json:"params,omitempty"`
}

// Viewport describes the visible area granted to a surface.
type Viewport struct {
	Height     float64 `json:"height"`
	IsExpanded bool    `json:"is_expanded"`
	IsStable   bool    `json:"is_state_stable"`
}

// SafeArea is the inset area not covered by system chrome.
type SafeArea struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}
