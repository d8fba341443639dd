package types

import (
	"fmt"
	"strings"
)

// IdentityKind discriminates how a mini-app or page is addressed.
type IdentityKind string

const (
	// IdentityApp addresses a mini-app by its explicit app id.
	IdentityApp IdentityKind = "app"
	// IdentityBotApp addresses a mini-app by its owning bot plus app name.
	IdentityBotApp IdentityKind = "bot_app"
	// IdentityURL addresses an ad-hoc external page by raw URL.
	IdentityURL IdentityKind = "url"
)

// SessionIdentity is the stable key under which sessions and cached
// surfaces are deduplicated. Two launch requests with equal identity may
// share a cached rendering surface.
type SessionIdentity struct {
	AppID   string `json:"app_id,omitempty"`
	BotID   string `json:"bot_id,omitempty"` // owner bot id or username
	AppName string `json:"app_name,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Kind returns the addressing mode of the identity.
func (i SessionIdentity) Kind() IdentityKind {
	switch {
	case i.AppID != "":
		return IdentityApp
	case i.BotID != "" && i.AppName != "":
		return IdentityBotApp
	default:
		return IdentityURL
	}
}

// IsZero reports whether the identity carries no addressing information.
func (i SessionIdentity) IsZero() bool {
	return i.AppID == "" && i.URL == "" && (i.BotID == "" || i.AppName == "")
}

// Key returns the canonical map key for the identity. Bot usernames are
// case-insensitive, so the bot component is lowercased.
func (i SessionIdentity) Key() string {
	switch i.Kind() {
	case IdentityApp:
		return "app:" + i.AppID
	case IdentityBotApp:
		return fmt.Sprintf("bot:%s/%s", strings.ToLower(i.BotID), i.AppName)
	default:
		return "url:" + i.URL
	}
}

// String implements fmt.Stringer for log output.
func (i SessionIdentity) String() string { return i.Key() }
