package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/embedkit/embedkit/internal/capability"
	"github.com/embedkit/embedkit/internal/infrastructure/logging"
	"github.com/embedkit/embedkit/internal/infrastructure/monitoring"
	"github.com/embedkit/embedkit/internal/shared/types"
)

// SessionControl is the slice of a live session the dispatcher drives.
// The lifecycle Session satisfies it.
type SessionControl interface {
	SessionID() string
	Context() context.Context
	Capabilities() capability.Provider
	Send(raw []byte) error
	Ready()
	Expand()
	RequestDismiss(force, immediate, silent bool) bool
	UpdateIntent(mutate func(*types.UIIntent))
}

// Popup throttling: rapidLimit popups whose close-to-open gap stays
// under rapidGap engage a cooldownPeriod during which further popups
// are suppressed.
const (
	rapidGap       = 150 * time.Millisecond
	rapidLimit     = 3
	cooldownPeriod = 3 * time.Second
)

// HostStateFunc types feed the dispatcher current host presentation
// state when embedded content requests it.
type (
	ThemeFunc    func() types.Theme
	ViewportFunc func() types.Viewport
	SafeAreaFunc func() types.SafeArea
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
	Theme    ThemeFunc
	Viewport ViewportFunc
	SafeArea SafeAreaFunc
}

// Dispatcher routes decoded bridge messages between embedded content
// and the session lifecycle plus host capabilities. It is stateless per
// message except for the per-session popup guard.
type Dispatcher struct {
	log      *logging.Logger
	metrics  *monitoring.Metrics
	sanitize *bluemonday.Policy
	theme    ThemeFunc
	viewport ViewportFunc
	safeArea SafeAreaFunc

	mu     sync.Mutex
	guards map[string]*popupGuard
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if opts.Theme == nil {
		opts.Theme = func() types.Theme { return types.Theme{Scheme: "light"} }
	}
	if opts.Viewport == nil {
		opts.Viewport = func() types.Viewport { return types.Viewport{IsStable: true} }
	}
	if opts.SafeArea == nil {
		opts.SafeArea = func() types.SafeArea { return types.SafeArea{} }
	}
	return &Dispatcher{
		log:      opts.Logger.Named("bridge"),
		metrics:  opts.Metrics,
		sanitize: bluemonday.StrictPolicy(),
		theme:    opts.Theme,
		viewport: opts.Viewport,
		safeArea: opts.SafeArea,
		guards:   make(map[string]*popupGuard),
	}
}

// HandleRaw decodes and dispatches one inbound frame. Undecodable
// frames are dropped and reported; they never fault the channel.
func (d *Dispatcher) HandleRaw(s SessionControl, raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		var derr *types.DecodeError
		reason := "malformed"
		if errors.As(err, &derr) && derr.Kind == types.DecodeUnrecognized {
			reason = "unrecognized"
		}
		d.metrics.BridgeDropped.WithLabelValues(reason).Inc()
		d.log.Warn("dropped inbound bridge message",
			zap.String("session", s.SessionID()),
			zap.Error(err),
		)
		return err
	}
	d.metrics.BridgeInbound.WithLabelValues(string(msg.Kind)).Inc()
	d.Dispatch(s, msg)
	return nil
}

// Dispatch routes one decoded message.
func (d *Dispatcher) Dispatch(s SessionControl, msg *Message) {
	switch msg.Kind {
	case KindReady:
		s.Ready()
		d.send(s, KindViewportChanged, viewportPayload(d.viewport()))

	case KindExpand:
		s.Expand()
		d.send(s, KindViewportChanged, viewportPayload(d.viewport()))

	case KindClose:
		s.RequestDismiss(false, false, false)

	case KindSetHeaderColor:
		p := msg.Payload.(*HeaderColorPayload)
		s.UpdateIntent(func(i *types.UIIntent) {
			i.HeaderColor = p.Color
			i.HeaderColorKey = p.ColorKey
		})

	case KindSetBackground:
		p := msg.Payload.(*BackgroundColorPayload)
		s.UpdateIntent(func(i *types.UIIntent) { i.BackgroundColor = p.Color })

	case KindSetupMainButton:
		p := msg.Payload.(*MainButtonPayload)
		s.UpdateIntent(func(i *types.UIIntent) {
			i.MainButton = types.MainButton{
				Visible:      p.IsVisible,
				Active:       p.IsActive,
				Text:         p.Text,
				Color:        p.Color,
				TextColor:    p.TextColor,
				ShowProgress: p.IsProgressVisible,
			}
		})

	case KindSetupBackButton:
		p := msg.Payload.(*BackButtonPayload)
		s.UpdateIntent(func(i *types.UIIntent) { i.BackButtonVisible = p.IsVisible })

	case KindSetupSettings:
		p := msg.Payload.(*SettingsButtonPayload)
		s.UpdateIntent(func(i *types.UIIntent) { i.SettingsVisible = p.IsVisible })

	case KindSetupClosing:
		p := msg.Payload.(*ClosingBehaviorPayload)
		s.UpdateIntent(func(i *types.UIIntent) { i.CloseConfirmation = p.NeedConfirmation })

	case KindRequestTheme:
		d.NotifyTheme(s, d.theme())

	case KindRequestViewport:
		d.send(s, KindViewportChanged, viewportPayload(d.viewport()))

	case KindRequestSafeArea:
		sa := d.safeArea()
		d.send(s, KindSafeAreaChanged, &SafeAreaChangedPayload{
			Top: sa.Top, Bottom: sa.Bottom, Left: sa.Left, Right: sa.Right,
		})

	case KindOpenPopup:
		d.handlePopup(s, msg.Payload.(*PopupPayload))

	case KindOpenLink:
		p := msg.Payload.(*OpenLinkPayload)
		s.Capabilities().OpenLink(p.URL, capability.LinkOptions{TryInstantView: p.TryInstantView})

	case KindOpenInternalLink:
		p := msg.Payload.(*InternalLinkPayload)
		if !s.Capabilities().HandleScheme(p.Path) {
			d.log.Debug("unhandled internal link",
				zap.String("session", s.SessionID()),
				zap.String("path", p.Path),
			)
		}

	case KindReadClipboard:
		p := msg.Payload.(*ClipboardReadPayload)
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			reply := &ClipboardDataPayload{ReqID: p.ReqID}
			if data, err := caps.ReadClipboard(ctx); err == nil {
				reply.Data = &data
			}
			d.send(s, KindClipboardData, reply)
		})

	case KindHaptic:
		p := msg.Payload.(*HapticPayload)
		style := p.ImpactStyle
		if p.Type == "notification" {
			style = p.Notification
		}
		s.Capabilities().Haptic(p.Type, style)

	case KindDataSend:
		p := msg.Payload.(*DataSendPayload)
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			if err := caps.SendData(ctx, p.Data); err != nil {
				d.log.Debug("data_send rejected", zap.String("session", s.SessionID()), zap.Error(err))
			}
		})

	case KindRequestWrite:
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			granted, _ := caps.RequestWriteAccess(ctx)
			d.send(s, KindWriteResponse, accessResponse(granted))
		})

	case KindRequestPhone:
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			granted, _ := caps.RequestPhone(ctx)
			d.send(s, KindPhoneResponse, accessResponse(granted))
		})

	case KindAddShortcut:
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			status, err := caps.AddShortcut(ctx)
			if err != nil {
				status = "unsupported"
			}
			d.send(s, KindShortcutStatus, &ShortcutStatusPayload{Status: status})
		})

	case KindCheckShortcut:
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			status, err := caps.CheckShortcut(ctx)
			if err != nil {
				status = "unsupported"
			}
			d.send(s, KindShortcutStatus, &ShortcutStatusPayload{Status: status})
		})

	case KindEnterFullscreen:
		s.UpdateIntent(func(i *types.UIIntent) { i.Fullscreen = true })
		d.send(s, KindFullscreenChanged, &FullscreenChangedPayload{IsFullscreen: true})

	case KindExitFullscreen:
		s.UpdateIntent(func(i *types.UIIntent) { i.Fullscreen = false })
		d.send(s, KindFullscreenChanged, &FullscreenChangedPayload{IsFullscreen: false})

	case KindScanQR:
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			data, err := caps.ScanQR(ctx)
			if err != nil {
				return
			}
			d.send(s, KindQRResult, &QRResultPayload{Data: data})
		})

	case KindCustomMethod:
		p := msg.Payload.(*CustomMethodPayload)
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			result, err := caps.InvokeCustomMethod(ctx, p.Method, p.Params)
			if ctx.Err() != nil {
				// Session gone; the result has no recipient.
				return
			}
			reply := &CustomResultPayload{ReqID: p.ReqID}
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Result = json.RawMessage(result)
			}
			d.send(s, KindCustomResult, reply)
		})

	case KindSwitchInline:
		p := msg.Payload.(*SwitchInlinePayload)
		s.Capabilities().SwitchInlineQuery(p.Query, p.ChatTypes)

	case KindShareToStory:
		p := msg.Payload.(*ShareStoryPayload)
		s.Capabilities().ShareToStory(p.MediaURL, d.sanitize.Sanitize(p.Text))

	case KindBiometryInfo:
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			info, _ := caps.BiometryInfo(ctx)
			d.send(s, KindBiometryResult, biometryPayload(info))
		})

	case KindBiometryAuth:
		p := msg.Payload.(*BiometryAuthPayload)
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			res, _ := caps.RequestBiometryAuth(ctx, d.sanitize.Sanitize(p.Reason))
			d.send(s, KindBiometryResult, biometryPayload(res))
		})

	case KindBiometryToken:
		p := msg.Payload.(*BiometryTokenPayload)
		d.async(s, func(ctx context.Context, caps capability.Provider) {
			ok, _ := caps.UpdateBiometryToken(ctx, p.Token, d.sanitize.Sanitize(p.Reason))
			d.send(s, KindBiometryResult, &BiometryResultPayload{Available: true, Granted: ok})
		})
	}
}

// handlePopup runs the anti-abuse guard, sanitizes untrusted strings,
// and resolves the popup through the host.
func (d *Dispatcher) handlePopup(s SessionControl, p *PopupPayload) {
	guard := d.guard(s.SessionID())
	if !guard.allow() {
		d.metrics.PopupsSuppressed.Inc()
		d.send(s, KindPopupClosed, &PopupClosedPayload{})
		return
	}

	popup := capability.Popup{
		Title:   d.sanitize.Sanitize(p.Title),
		Message: d.sanitize.Sanitize(p.Message),
	}
	for _, b := range p.Buttons {
		popup.Buttons = append(popup.Buttons, capability.PopupButton{
			ID:   b.ID,
			Type: b.Type,
			Text: d.sanitize.Sanitize(b.Text),
		})
	}

	d.async(s, func(ctx context.Context, caps capability.Provider) {
		buttonID, err := caps.ShowPopup(ctx, popup)
		guard.closed()
		if err != nil {
			buttonID = ""
		}
		d.send(s, KindPopupClosed, &PopupClosedPayload{ButtonID: buttonID})
	})
}

// Forget drops per-session dispatcher state after dismissal.
func (d *Dispatcher) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.guards, sessionID)
}

// NotifyTheme pushes the current theme to embedded content.
func (d *Dispatcher) NotifyTheme(s SessionControl, theme types.Theme) {
	d.send(s, KindThemeChanged, &ThemeChangedPayload{ThemeParams: theme.Params})
}

// NotifyViewport pushes a viewport change.
func (d *Dispatcher) NotifyViewport(s SessionControl, vp types.Viewport) {
	d.send(s, KindViewportChanged, viewportPayload(vp))
}

// NotifySafeArea pushes a safe-area change.
func (d *Dispatcher) NotifySafeArea(s SessionControl, sa types.SafeArea) {
	d.send(s, KindSafeAreaChanged, &SafeAreaChangedPayload{
		Top: sa.Top, Bottom: sa.Bottom, Left: sa.Left, Right: sa.Right,
	})
}

// NotifyBackPressed forwards a host back press.
func (d *Dispatcher) NotifyBackPressed(s SessionControl) {
	d.send(s, KindBackPressed, nil)
}

// NotifyMainPressed forwards a main button press.
func (d *Dispatcher) NotifyMainPressed(s SessionControl) {
	d.send(s, KindMainPressed, nil)
}

// NotifySettingsPressed forwards a settings menu selection.
func (d *Dispatcher) NotifySettingsPressed(s SessionControl) {
	d.send(s, KindSettingsPressed, nil)
}

// NotifyVisibility reports minimize/restore transitions.
func (d *Dispatcher) NotifyVisibility(s SessionControl, visible bool) {
	d.send(s, KindVisibilityChanged, &VisibilityPayload{IsVisible: visible})
}

func (d *Dispatcher) send(s SessionControl, kind Kind, payload any) {
	raw, err := Encode(kind, payload)
	if err != nil {
		d.log.Error("encode outbound message", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	if err := s.Send(raw); err != nil {
		d.log.Debug("outbound message not delivered",
			zap.String("session", s.SessionID()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	d.metrics.BridgeOutbound.WithLabelValues(string(kind)).Inc()
}

// async runs a capability call off the caller with the session's
// cancellation scope.
func (d *Dispatcher) async(s SessionControl, fn func(ctx context.Context, caps capability.Provider)) {
	ctx := s.Context()
	caps := s.Capabilities()
	go fn(ctx, caps)
}

func (d *Dispatcher) guard(sessionID string) *popupGuard {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.guards[sessionID]
	if !ok {
		g = &popupGuard{now: time.Now}
		d.guards[sessionID] = g
	}
	return g
}

func viewportPayload(vp types.Viewport) *ViewportChangedPayload {
	return &ViewportChangedPayload{
		Height:        vp.Height,
		IsExpanded:    vp.IsExpanded,
		IsStateStable: vp.IsStable,
	}
}

func accessResponse(granted bool) *AccessResponsePayload {
	if granted {
		return &AccessResponsePayload{Status: "allowed"}
	}
	return &AccessResponsePayload{Status: "cancelled"}
}

func biometryPayload(r capability.BiometryResult) *BiometryResultPayload {
	return &BiometryResultPayload{Available: r.Available, Granted: r.Granted, Token: r.Token}
}

// popupGuard throttles popup abuse. One popup may be open at a time;
// a run of rapidLimit popups whose close-to-open gap stays under
// rapidGap triggers a cooldown.
type popupGuard struct {
	mu            sync.Mutex
	now           func() time.Time
	open          bool
	lastClosed    time.Time
	rapid         int
	cooldownUntil time.Time
}

// allow reports whether the next popup may be shown, reserving the
// open state when it may.
func (g *popupGuard) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.open || now.Before(g.cooldownUntil) {
		return false
	}
	if !g.lastClosed.IsZero() && now.Sub(g.lastClosed) < rapidGap {
		g.rapid++
	} else {
		g.rapid = 1
	}
	g.open = true
	if g.rapid >= rapidLimit {
		// This popup still shows; the cooldown bites the next one.
		g.cooldownUntil = now.Add(cooldownPeriod)
		g.rapid = 0
	}
	return true
}

// closed records the popup's dismissal.
func (g *popupGuard) closed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = false
	g.lastClosed = g.now()
}
