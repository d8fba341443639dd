package bridge

// Kind is the eventType discriminator of the bridge envelope.
type Kind string

// Inbound kinds: embedded content -> host.
const (
	KindReady            Kind = "ready"
	KindExpand           Kind = "expand"
	KindClose            Kind = "close"
	KindSetHeaderColor   Kind = "set_header_color"
	KindSetBackground    Kind = "set_background_color"
	KindSetupMainButton  Kind = "setup_main_button"
	KindSetupBackButton  Kind = "setup_back_button"
	KindSetupSettings    Kind = "setup_settings_button"
	KindSetupClosing     Kind = "setup_closing_behavior"
	KindRequestTheme     Kind = "request_theme"
	KindRequestViewport  Kind = "request_viewport"
	KindRequestSafeArea  Kind = "request_safe_area"
	KindOpenPopup        Kind = "open_popup"
	KindOpenLink         Kind = "open_link"
	KindOpenInternalLink Kind = "open_internal_link"
	KindReadClipboard    Kind = "read_clipboard"
	KindHaptic           Kind = "haptic_feedback"
	KindDataSend         Kind = "data_send"
	KindRequestWrite     Kind = "request_write_access"
	KindRequestPhone     Kind = "request_phone"
	KindAddShortcut      Kind = "add_home_shortcut"
	KindCheckShortcut    Kind = "check_home_shortcut"
	KindEnterFullscreen  Kind = "request_fullscreen"
	KindExitFullscreen   Kind = "exit_fullscreen"
	KindScanQR           Kind = "scan_qr"
	KindCustomMethod     Kind = "invoke_custom_method"
	KindSwitchInline     Kind = "switch_inline_query"
	KindShareToStory     Kind = "share_to_story"
	KindBiometryInfo     Kind = "biometry_get_info"
	KindBiometryAuth     Kind = "biometry_request_auth"
	KindBiometryToken    Kind = "biometry_update_token"
)

// Outbound kinds: host -> embedded content.
const (
	KindThemeChanged      Kind = "theme_changed"
	KindViewportChanged   Kind = "viewport_changed"
	KindSafeAreaChanged   Kind = "safe_area_changed"
	KindPopupClosed       Kind = "popup_closed"
	KindClipboardData     Kind = "clipboard_data"
	KindWriteResponse     Kind = "write_access_response"
	KindPhoneResponse     Kind = "phone_response"
	KindShortcutStatus    Kind = "shortcut_status"
	KindFullscreenChanged Kind = "fullscreen_changed"
	KindBackPressed       Kind = "back_pressed"
	KindMainPressed       Kind = "main_button_pressed"
	KindSettingsPressed   Kind = "settings_pressed"
	KindCustomResult      Kind = "custom_method_result"
	KindQRResult          Kind = "qr_result"
	KindBiometryResult    Kind = "biometry_result"
	KindVisibilityChanged Kind = "visibility_changed"
)

// Message is one decoded bridge event. Payload holds the typed payload
// struct for kinds that carry one, nil otherwise.
type Message struct {
	Kind    Kind
	Payload any
}

// HeaderColorPayload carries set_header_color. Exactly one of Color
// (strict hex) or ColorKey (named host color) is set after validation.
type HeaderColorPayload struct {
	Color    string `json:"color,omitempty"`
	ColorKey string `json:"color_key,omitempty"`
}

// BackgroundColorPayload carries set_background_color.
type BackgroundColorPayload struct {
	Color string `json:"color"`
}

// MainButtonPayload carries setup_main_button.
type MainButtonPayload struct {
	IsVisible         bool   `json:"is_visible"`
	IsActive          bool   `json:"is_active"`
	Text              string `json:"text"`
	Color             string `json:"color,omitempty"`
	TextColor         string `json:"text_color,omitempty"`
	IsProgressVisible bool   `json:"is_progress_visible"`
}

// BackButtonPayload carries setup_back_button.
type BackButtonPayload struct {
	IsVisible bool `json:"is_visible"`
}

// SettingsButtonPayload carries setup_settings_button.
type SettingsButtonPayload struct {
	IsVisible bool `json:"is_visible"`
}

// ClosingBehaviorPayload carries setup_closing_behavior.
type ClosingBehaviorPayload struct {
	NeedConfirmation bool `json:"need_confirmation"`
}

// PopupButton is one button of an open_popup request.
type PopupButton struct {
	ID   string `json:"id"`
	Type string `json:"type"` // default, ok, close, cancel, destructive
	Text string `json:"text,omitempty"`
}

// PopupPayload carries open_popup.
type PopupPayload struct {
	Title   string        `json:"title,omitempty"`
	Message string        `json:"message"`
	Buttons []PopupButton `json:"buttons"`
}

// OpenLinkPayload carries open_link.
type OpenLinkPayload struct {
	URL            string `json:"url"`
	TryInstantView bool   `json:"try_instant_view"`
}

// InternalLinkPayload carries open_internal_link.
type InternalLinkPayload struct {
	Path string `json:"path_full"`
}

// ClipboardReadPayload carries read_clipboard.
type ClipboardReadPayload struct {
	ReqID string `json:"req_id"`
}

// HapticPayload carries haptic_feedback.
type HapticPayload struct {
	Type         string `json:"type"` // impact, notification, selection_change
	ImpactStyle  string `json:"impact_style,omitempty"`
	Notification string `json:"notification_type,omitempty"`
}

// DataSendPayload carries data_send.
type DataSendPayload struct {
	Data string `json:"data"`
}

// CustomMethodPayload carries invoke_custom_method.
type CustomMethodPayload struct {
	ReqID  string `json:"req_id"`
	Method string `json:"method"`
	Params []byte `json:"-"` // raw JSON params, forwarded opaquely
}

// SwitchInlinePayload carries switch_inline_query.
type SwitchInlinePayload struct {
	Query     string   `json:"query"`
	ChatTypes []string `json:"chat_types,omitempty"`
}

// ShareStoryPayload carries share_to_story.
type ShareStoryPayload struct {
	MediaURL string `json:"media_url"`
	Text     string `json:"text,omitempty"`
}

// BiometryAuthPayload carries biometry_request_auth.
type BiometryAuthPayload struct {
	Reason string `json:"reason,omitempty"`
}

// BiometryTokenPayload carries biometry_update_token.
type BiometryTokenPayload struct {
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
}

// Outbound payloads.

// ThemeChangedPayload answers request_theme and theme flips.
type ThemeChangedPayload struct {
	ThemeParams map[string]string `json:"theme_params"`
}

// ViewportChangedPayload answers request_viewport and resizes.
type ViewportChangedPayload struct {
	Height        float64 `json:"height"`
	IsExpanded    bool    `json:"is_expanded"`
	IsStateStable bool    `json:"is_state_stable"`
}

// SafeAreaChangedPayload answers request_safe_area and inset changes.
type SafeAreaChangedPayload struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// PopupClosedPayload reports which button dismissed the popup, empty
// when dismissed without a choice.
type PopupClosedPayload struct {
	ButtonID string `json:"button_id,omitempty"`
}

// ClipboardDataPayload answers read_clipboard. Data is nil when access
// was denied.
type ClipboardDataPayload struct {
	ReqID string  `json:"req_id"`
	Data  *string `json:"data"`
}

// AccessResponsePayload answers request_write_access / request_phone.
type AccessResponsePayload struct {
	Status string `json:"status"` // allowed, cancelled
}

// ShortcutStatusPayload answers shortcut operations.
type ShortcutStatusPayload struct {
	Status string `json:"status"` // added, missed, unsupported
}

// FullscreenChangedPayload reports fullscreen transitions.
type FullscreenChangedPayload struct {
	IsFullscreen bool   `json:"is_fullscreen"`
	Error        string `json:"error,omitempty"`
}

// CustomResultPayload answers invoke_custom_method.
type CustomResultPayload struct {
	ReqID  string `json:"req_id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// QRResultPayload reports a scanned QR code.
type QRResultPayload struct {
	Data string `json:"data"`
}

// BiometryResultPayload answers biometry operations.
type BiometryResultPayload struct {
	Available bool   `json:"available"`
	Granted   bool   `json:"granted"`
	Token     string `json:"token,omitempty"`
}

// VisibilityPayload reports minimize/restore to embedded content.
type VisibilityPayload struct {
	IsVisible bool `json:"is_visible"`
}
