package types

// MainButton mirrors the embedded content's main action button
// configuration.
type MainButton struct {
	Visible      bool   `json:"is_visible"`
	Active       bool   `json:"is_active"`
	Text         string `json:"text"`
	Color        string `json:"color,omitempty"`
	TextColor    string `json:"text_color,omitempty"`
	ShowProgress bool   `json:"is_progress_visible"`
}

// UIIntent accumulates the presentation state a session has requested
// through the bridge. It is mirrored on the Session so a cached surface
// can be visually restored on reattach without replaying the handshake.
type UIIntent struct {
	HeaderColor       string     `json:"header_color,omitempty"`
	HeaderColorKey    string     `json:"header_color_key,omitempty"`
	BackgroundColor   string     `json:"background_color,omitempty"`
	BackButtonVisible bool       `json:"back_button_visible"`
	SettingsVisible   bool       `json:"settings_visible"`
	CloseConfirmation bool       `json:"close_confirmation"`
	Fullscreen        bool       `json:"fullscreen"`
	MainButton        MainButton `json:"main_button"`
}
