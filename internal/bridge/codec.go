package bridge

import (
	"encoding/json"
	"net/url"
	"regexp"

	"github.com/bytedance/sonic"

	"github.com/embedkit/embedkit/internal/shared/types"
)

// envelope is the wire form of every bridge message:
// { "eventType": string, "eventData": object }.
type envelope struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidHexColor reports whether s satisfies the strict hex color
// grammar accepted over the bridge.
func ValidHexColor(s string) bool {
	return hexColorRe.MatchString(s)
}

// Decode parses one raw inbound message. Unknown kinds yield a
// DecodeError with DecodeUnrecognized; known kinds with missing or
// invalid required fields yield DecodeMalformedPayload. Either way only
// the single message is lost, the channel stays healthy.
func Decode(raw []byte) (*Message, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, &types.DecodeError{Kind: types.DecodeMalformedPayload, Reason: "invalid envelope: " + err.Error()}
	}
	if env.EventType == "" {
		return nil, &types.DecodeError{Kind: types.DecodeMalformedPayload, Reason: "missing eventType"}
	}

	kind := Kind(env.EventType)
	payload, err := decodePayload(kind, env.EventData)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: kind, Payload: payload}, nil
}

// Encode serializes an outbound message into the envelope form.
func Encode(kind Kind, payload any) ([]byte, error) {
	env := struct {
		EventType string `json:"eventType"`
		EventData any    `json:"eventData,omitempty"`
	}{EventType: string(kind), EventData: payload}
	return sonic.Marshal(env)
}

func decodePayload(kind Kind, data json.RawMessage) (any, error) {
	switch kind {
	case KindReady, KindExpand, KindClose,
		KindRequestTheme, KindRequestViewport, KindRequestSafeArea,
		KindAddShortcut, KindCheckShortcut,
		KindEnterFullscreen, KindExitFullscreen,
		KindScanQR, KindBiometryInfo:
		return nil, nil

	case KindSetHeaderColor:
		p := &HeaderColorPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if p.Color == "" && p.ColorKey == "" {
			return nil, malformed(kind, "color or color_key is required")
		}
		if p.Color != "" && !ValidHexColor(p.Color) {
			return nil, malformed(kind, "invalid hex color")
		}
		return p, nil

	case KindSetBackground:
		p := &BackgroundColorPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if !ValidHexColor(p.Color) {
			return nil, malformed(kind, "invalid hex color")
		}
		return p, nil

	case KindSetupMainButton:
		p := &MainButtonPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if p.IsVisible && p.Text == "" {
			return nil, malformed(kind, "visible button requires text")
		}
		// Invalid optional colors are ignored rather than applied.
		if p.Color != "" && !ValidHexColor(p.Color) {
			p.Color = ""
		}
		if p.TextColor != "" && !ValidHexColor(p.TextColor) {
			p.TextColor = ""
		}
		return p, nil

	case KindSetupBackButton:
		p := &BackButtonPayload{}
		return p, unmarshal(kind, data, p)

	case KindSetupSettings:
		p := &SettingsButtonPayload{}
		return p, unmarshal(kind, data, p)

	case KindSetupClosing:
		p := &ClosingBehaviorPayload{}
		return p, unmarshal(kind, data, p)

	case KindOpenPopup:
		p := &PopupPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if p.Message == "" {
			return nil, malformed(kind, "message is required")
		}
		if len(p.Buttons) == 0 || len(p.Buttons) > 3 {
			return nil, malformed(kind, "popup requires 1 to 3 buttons")
		}
		for _, b := range p.Buttons {
			switch b.Type {
			case "", "default", "ok", "close", "cancel", "destructive":
			default:
				return nil, malformed(kind, "unknown button type "+b.Type)
			}
		}
		return p, nil

	case KindOpenLink:
		p := &OpenLinkPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if !validHTTPURL(p.URL) {
			return nil, malformed(kind, "url must be absolute http(s)")
		}
		return p, nil

	case KindOpenInternalLink:
		p := &InternalLinkPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, malformed(kind, "path_full is required")
		}
		return p, nil

	case KindReadClipboard:
		p := &ClipboardReadPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if p.ReqID == "" {
			return nil, malformed(kind, "req_id is required")
		}
		return p, nil

	case KindHaptic:
		p := &HapticPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if err := validateHaptic(p); err != nil {
			return nil, err
		}
		return p, nil

	case KindDataSend:
		p := &DataSendPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if p.Data == "" {
			return nil, malformed(kind, "data is required")
		}
		return p, nil

	case KindRequestWrite:
		return nil, nil

	case KindRequestPhone:
		return nil, nil

	case KindCustomMethod:
		var wire struct {
			ReqID  string          `json:"req_id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params,omitempty"`
		}
		if err := unmarshal(kind, data, &wire); err != nil {
			return nil, err
		}
		if wire.ReqID == "" || wire.Method == "" {
			return nil, malformed(kind, "req_id and method are required")
		}
		return &CustomMethodPayload{ReqID: wire.ReqID, Method: wire.Method, Params: wire.Params}, nil

	case KindSwitchInline:
		p := &SwitchInlinePayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		for _, ct := range p.ChatTypes {
			switch ct {
			case "users", "bots", "groups", "channels":
			default:
				return nil, malformed(kind, "unknown chat type "+ct)
			}
		}
		return p, nil

	case KindShareToStory:
		p := &ShareStoryPayload{}
		if err := unmarshal(kind, data, p); err != nil {
			return nil, err
		}
		if !validHTTPURL(p.MediaURL) {
			return nil, malformed(kind, "media_url must be absolute http(s)")
		}
		return p, nil

	case KindBiometryAuth:
		p := &BiometryAuthPayload{}
		return p, unmarshal(kind, data, p)

	case KindBiometryToken:
		p := &BiometryTokenPayload{}
		return p, unmarshal(kind, data, p)

	default:
		return nil, &types.DecodeError{Kind: types.DecodeUnrecognized, EventType: string(kind)}
	}
}

func unmarshal(kind Kind, data json.RawMessage, into any) error {
	if len(data) == 0 {
		return malformed(kind, "missing eventData")
	}
	if err := sonic.Unmarshal(data, into); err != nil {
		return malformed(kind, err.Error())
	}
	return nil
}

func malformed(kind Kind, reason string) error {
	return &types.DecodeError{
		Kind:      types.DecodeMalformedPayload,
		EventType: string(kind),
		Reason:    reason,
	}
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validateHaptic(p *HapticPayload) error {
	switch p.Type {
	case "impact":
		switch p.ImpactStyle {
		case "light", "medium", "heavy", "rigid", "soft":
			return nil
		}
		return malformed(KindHaptic, "unknown impact style")
	case "notification":
		switch p.Notification {
		case "error", "success", "warning":
			return nil
		}
		return malformed(KindHaptic, "unknown notification type")
	case "selection_change":
		return nil
	default:
		return malformed(KindHaptic, "unknown haptic type")
	}
}
