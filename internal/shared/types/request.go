package types

import "github.com/embedkit/embedkit/internal/capability"

// DisplayMode selects how the host presents a session's surface.
type DisplayMode string

const (
	ModeModal      DisplayMode = "modal"
	ModeDocked     DisplayMode = "docked"
	ModeFullscreen DisplayMode = "fullscreen"
)

// PeerContext carries the conversation context a session was launched from.
type PeerContext struct {
	PeerID    string `json:"peer_id,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// LaunchRequest is an immutable description of a single launch attempt.
// Construct through NewLaunchRequest; a zero value is not valid.
type LaunchRequest struct {
	Identity     SessionIdentity
	URL          string // explicit target URL, optional
	StartParam   string
	Params       map[string]string
	Peer         *PeerContext
	Mode         DisplayMode
	CacheAllowed bool
	AutoExpand   bool
	Local        bool // launched from local/system context rather than a peer
	// Capabilities is the bridge-capability handle supplied by the host
	// for this launch. Nil means every capability is denied.
	Capabilities capability.Provider
}

// LaunchRequestBuilder accumulates launch request fields and validates
// them at Build time. Invalid combinations never reach the lifecycle.
type LaunchRequestBuilder struct {
	req LaunchRequest
}

// NewLaunchRequest starts a builder with defaults (modal, cacheable).
func NewLaunchRequest() *LaunchRequestBuilder {
	return &LaunchRequestBuilder{req: LaunchRequest{
		Mode:         ModeModal,
		CacheAllowed: true,
	}}
}

func (b *LaunchRequestBuilder) App(appID string) *LaunchRequestBuilder {
	b.req.Identity.AppID = appID
	return b
}

func (b *LaunchRequestBuilder) BotApp(botIDOrName, appName string) *LaunchRequestBuilder {
	b.req.Identity.BotID = botIDOrName
	b.req.Identity.AppName = appName
	return b
}

// Page targets an ad-hoc external page by raw URL.
func (b *LaunchRequestBuilder) Page(url string) *LaunchRequestBuilder {
	b.req.Identity.URL = url
	return b
}

// URL sets an explicit launch URL overriding resolver output.
func (b *LaunchRequestBuilder) URL(url string) *LaunchRequestBuilder {
	b.req.URL = url
	return b
}

func (b *LaunchRequestBuilder) StartParam(p string) *LaunchRequestBuilder {
	b.req.StartParam = p
	return b
}

func (b *LaunchRequestBuilder) Param(key, value string) *LaunchRequestBuilder {
	if b.req.Params == nil {
		b.req.Params = make(map[string]string)
	}
	b.req.Params[key] = value
	return b
}

func (b *LaunchRequestBuilder) Params(params map[string]string) *LaunchRequestBuilder {
	for k, v := range params {
		b.Param(k, v)
	}
	return b
}

func (b *LaunchRequestBuilder) Peer(peer PeerContext) *LaunchRequestBuilder {
	b.req.Peer = &peer
	return b
}

func (b *LaunchRequestBuilder) Mode(mode DisplayMode) *LaunchRequestBuilder {
	b.req.Mode = mode
	return b
}

func (b *LaunchRequestBuilder) CacheAllowed(allowed bool) *LaunchRequestBuilder {
	b.req.CacheAllowed = allowed
	return b
}

func (b *LaunchRequestBuilder) AutoExpand(expand bool) *LaunchRequestBuilder {
	b.req.AutoExpand = expand
	return b
}

func (b *LaunchRequestBuilder) Local(local bool) *LaunchRequestBuilder {
	b.req.Local = local
	return b
}

func (b *LaunchRequestBuilder) Capabilities(caps capability.Provider) *LaunchRequestBuilder {
	b.req.Capabilities = caps
	return b
}

// Build validates the accumulated fields and returns the immutable request.
func (b *LaunchRequestBuilder) Build() (*LaunchRequest, error) {
	if b.req.Identity.IsZero() && b.req.URL == "" {
		return nil, &ValidationError{
			Field:  "identity",
			Reason: "one of app id, url, or bot id plus app name is required",
		}
	}
	if b.req.Identity.BotID != "" && b.req.Identity.AppName == "" {
		return nil, &ValidationError{Field: "app_name", Reason: "bot-addressed launch requires an app name"}
	}
	switch b.req.Mode {
	case ModeModal, ModeDocked, ModeFullscreen:
	default:
		return nil, &ValidationError{Field: "mode", Reason: "unknown display mode"}
	}
	// A bare URL with no identity addresses the page itself.
	if b.req.Identity.IsZero() {
		b.req.Identity.URL = b.req.URL
	}

	req := b.req
	if req.Params != nil {
		params := make(map[string]string, len(req.Params))
		for k, v := range req.Params {
			params[k] = v
		}
		req.Params = params
	}
	return &req, nil
}
