// Package capability declares the host capabilities the engine can call
// on behalf of embedded content. Implementations live in the host app;
// every call may be denied, and denials always come back as negative
// responses rather than failures.
package capability

import (
	"context"
	"errors"
	"fmt"
)

// ErrDenied marks a capability the host refused or does not implement.
var ErrDenied = errors.New("capability denied")

// Popup describes a host-rendered popup requested by embedded content.
// Strings are sanitized before they reach the provider.
type Popup struct {
	Title   string
	Message string
	Buttons []PopupButton
}

// PopupButton is one choice of a Popup.
type PopupButton struct {
	ID   string
	Type string
	Text string
}

// LinkOptions tunes external link opening.
type LinkOptions struct {
	TryInstantView bool
}

// BiometryResult reports the outcome of a biometry round-trip.
type BiometryResult struct {
	Available bool
	Granted   bool
	Token     string
}

// Provider is the narrow surface through which the engine reaches host
// functionality. Blocking calls take a context bound to the requesting
// session: they are cancelled when the session is dismissed.
type Provider interface {
	// OpenLink opens an external URL outside the mini-app.
	OpenLink(url string, opts LinkOptions)

	// HandleScheme routes an internal deep link. Returns false when the
	// scheme is not handled by the host.
	HandleScheme(path string) bool

	// SwitchInlineQuery closes the session's keyboard focus and
	// switches the chat input to an inline query.
	SwitchInlineQuery(query string, chatTypes []string)

	// ShareToStory opens the host's story composer with the given media.
	ShareToStory(mediaURL, text string)

	// ShowPopup displays a popup and resolves with the pressed button
	// id, empty when dismissed without a choice.
	ShowPopup(ctx context.Context, popup Popup) (string, error)

	// ReadClipboard returns the clipboard text, or an error on denial.
	ReadClipboard(ctx context.Context) (string, error)

	// Haptic plays haptic feedback. Invalid styles never reach here.
	Haptic(kind, style string)

	// RequestWriteAccess asks the user to let the mini-app's bot write
	// to them.
	RequestWriteAccess(ctx context.Context) (bool, error)

	// RequestPhone asks the user to share their phone number with the
	// mini-app's bot.
	RequestPhone(ctx context.Context) (bool, error)

	// SendData delivers a data_send payload to the owning bot after
	// peer-message authorization.
	SendData(ctx context.Context, data string) error

	// ScanQR opens the QR scanner and resolves with the scanned text.
	ScanQR(ctx context.Context) (string, error)

	// InvokeCustomMethod forwards an opaque method invocation to the
	// host backend and returns the raw JSON result.
	InvokeCustomMethod(ctx context.Context, method string, params []byte) ([]byte, error)

	// AddShortcut / CheckShortcut manage home-screen shortcuts and
	// return a status of added, missed, or unsupported.
	AddShortcut(ctx context.Context) (string, error)
	CheckShortcut(ctx context.Context) (string, error)

	// BiometryInfo reports biometry availability without prompting.
	BiometryInfo(ctx context.Context) (BiometryResult, error)

	// UpdateBiometryToken stores or clears the biometry-protected token.
	UpdateBiometryToken(ctx context.Context, token, reason string) (bool, error)

	// RequestBiometryAuth authenticates and releases the stored token.
	RequestBiometryAuth(ctx context.Context, reason string) (BiometryResult, error)

	// NotifyAPIError surfaces a resolver (code, message) failure to the
	// host's error reporting.
	NotifyAPIError(code int, message string)
}

// Unsupported denies every capability. Useful as a default and for
// hosts that embed d-apps without bot context.
type Unsupported struct{}

var _ Provider = Unsupported{}

func (Unsupported) OpenLink(string, LinkOptions)           {}
func (Unsupported) HandleScheme(string) bool               { return false }
func (Unsupported) SwitchInlineQuery(string, []string)     {}
func (Unsupported) ShareToStory(string, string)            {}
func (Unsupported) Haptic(string, string)                  {}
func (Unsupported) NotifyAPIError(int, string)             {}
func (Unsupported) SendData(context.Context, string) error { return errDenied("data_send") }
func (Unsupported) ShowPopup(context.Context, Popup) (string, error) {
	return "", errDenied("popup")
}
func (Unsupported) ReadClipboard(context.Context) (string, error) {
	return "", errDenied("clipboard")
}
func (Unsupported) RequestWriteAccess(context.Context) (bool, error) {
	return false, nil
}
func (Unsupported) RequestPhone(context.Context) (bool, error) {
	return false, nil
}
func (Unsupported) ScanQR(context.Context) (string, error) {
	return "", errDenied("qr_scan")
}
func (Unsupported) InvokeCustomMethod(context.Context, string, []byte) ([]byte, error) {
	return nil, errDenied("custom_method")
}
func (Unsupported) AddShortcut(context.Context) (string, error) {
	return "unsupported", nil
}
func (Unsupported) CheckShortcut(context.Context) (string, error) {
	return "unsupported", nil
}
func (Unsupported) BiometryInfo(context.Context) (BiometryResult, error) {
	return BiometryResult{}, nil
}
func (Unsupported) UpdateBiometryToken(context.Context, string, string) (bool, error) {
	return false, nil
}
func (Unsupported) RequestBiometryAuth(context.Context, string) (BiometryResult, error) {
	return BiometryResult{}, nil
}

func errDenied(name string) error {
	return fmt.Errorf("%s: %w", name, ErrDenied)
}
