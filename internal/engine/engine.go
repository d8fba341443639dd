// Package engine is the host-facing entry point: one Engine instance
// wires the session lifecycle, the bridge dispatcher, and the metadata
// resolver behind a small explicit API. Hosts construct it at startup
// and drive every mini-app interaction through it.
package engine

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/embedkit/embedkit/internal/bridge"
	"github.com/embedkit/embedkit/internal/capability"
	"github.com/embedkit/embedkit/internal/domain/lifecycle"
	"github.com/embedkit/embedkit/internal/infrastructure/config"
	"github.com/embedkit/embedkit/internal/infrastructure/logging"
	"github.com/embedkit/embedkit/internal/infrastructure/monitoring"
	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/embedkit/embedkit/internal/surface"
)

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("engine: session not found")

// Options wires an Engine.
type Options struct {
	Config       *config.Config
	Logger       *logging.Logger
	Metrics      *monitoring.Metrics
	Resolver     lifecycle.Resolver
	Surfaces     surface.Factory
	Events       lifecycle.Events
	Capabilities capability.Provider
	ThemeParams  map[string]string
}

// Engine owns one engine instance's lifecycle manager and dispatcher.
type Engine struct {
	log          *logging.Logger
	metrics      *monitoring.Metrics
	resolver     lifecycle.Resolver
	caps         capability.Provider
	allowedHosts []string
	mgr          *lifecycle.Manager
	dispatcher   *bridge.Dispatcher

	mu       sync.RWMutex
	theme    types.Theme
	viewport types.Viewport
	safeArea types.SafeArea
}

// engineEvents interposes on lifecycle events to clean dispatcher state
// before forwarding to the host.
type engineEvents struct {
	lifecycle.Events
	engine *Engine
}

func (e *engineEvents) StateChanged(sessionID string, state lifecycle.State) {
	if state == lifecycle.StateCached || state == lifecycle.StateDestroyed {
		e.engine.dispatcher.Forget(sessionID)
	}
	e.Events.StateChanged(sessionID, state)
}

// New builds an engine from configuration and host dependencies.
func New(opts Options) *Engine {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if opts.Events == nil {
		opts.Events = lifecycle.NopEvents{}
	}

	e := &Engine{
		log:          opts.Logger.Named("engine"),
		metrics:      opts.Metrics,
		resolver:     opts.Resolver,
		caps:         opts.Capabilities,
		allowedHosts: opts.Config.Engine.AllowedHosts,
		theme: types.Theme{
			Scheme: opts.Config.Engine.ThemeScheme,
			Params: opts.ThemeParams,
		},
		viewport: types.Viewport{IsStable: true},
	}

	e.mgr = lifecycle.NewManager(lifecycle.Options{
		Resolver:  opts.Resolver,
		Surfaces:  opts.Surfaces,
		Events:    &engineEvents{Events: opts.Events, engine: e},
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
		Locale:    opts.Config.Engine.Language,
		Theme:     opts.Config.Engine.ThemeScheme,
		MaxCached: opts.Config.Engine.MaxCached,
		CacheTTL:  opts.Config.Engine.CacheTTL,
	})

	e.dispatcher = bridge.NewDispatcher(bridge.DispatcherOptions{
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Theme:    e.Theme,
		Viewport: e.Viewport,
		SafeArea: e.SafeArea,
	})
	return e
}

// Launch attaches a session for the request within the owner context
// and returns its handle. On retryable resolution failures the handle
// is returned alongside the error so the host can present a reload UI.
func (e *Engine) Launch(ctx context.Context, req *types.LaunchRequest, owner string) (*lifecycle.Session, error) {
	if err := e.checkHost(req); err != nil {
		return nil, err
	}
	if req.Capabilities == nil {
		req.Capabilities = e.caps
	}
	return e.mgr.Attach(ctx, req, owner)
}

// Preload warms the surface cache for the request without presenting.
func (e *Engine) Preload(ctx context.Context, req *types.LaunchRequest, owner string) error {
	if err := e.checkHost(req); err != nil {
		return err
	}
	if req.Capabilities == nil {
		req.Capabilities = e.caps
	}
	return e.mgr.Preload(ctx, req, owner)
}

// checkHost gates page launches on the configured host allowlist.
// App and bot-app launches resolve through the backend and are exempt.
func (e *Engine) checkHost(req *types.LaunchRequest) error {
	if len(e.allowedHosts) == 0 || req.Identity.Kind() != types.IdentityURL {
		return nil
	}
	u, err := url.Parse(req.Identity.URL)
	if err != nil || u.Host == "" {
		return &types.ValidationError{Field: "url", Reason: "page launch requires an absolute URL"}
	}
	for _, h := range e.allowedHosts {
		if u.Host == h {
			return nil
		}
	}
	return &types.ValidationError{Field: "url", Reason: "host is not on the allowlist"}
}

// Session returns the live session with the given id.
func (e *Engine) Session(sessionID string) (*lifecycle.Session, bool) {
	return e.mgr.Get(sessionID)
}

// Sessions snapshots every live session.
func (e *Engine) Sessions() []lifecycle.Handle {
	return e.mgr.Sessions()
}

// Minimized returns the session held by the minimization slot, so the
// host can render its minimized chrome.
func (e *Engine) Minimized() (lifecycle.Handle, bool) {
	return e.mgr.Minimized()
}

// HandleBridge feeds one raw inbound bridge frame into the dispatcher.
func (e *Engine) HandleBridge(sessionID string, raw []byte) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return e.dispatcher.HandleRaw(s, raw)
}

// Dismiss requests dismissal of a session. The returned bool reports
// whether dismissal proceeded; false means a close confirmation is
// pending with the host.
func (e *Engine) Dismiss(sessionID string, force, immediate, silent bool) (bool, error) {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	return s.RequestDismiss(force, immediate, silent), nil
}

// ConfirmDismiss completes a host-confirmed dismissal.
func (e *Engine) ConfirmDismiss(sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.ConfirmDismiss()
	return nil
}

// CancelDismiss aborts a pending close confirmation.
func (e *Engine) CancelDismiss(sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.CancelDismiss()
	return nil
}

// Minimize detaches a session into the minimization slot. Embedded
// content is told it went invisible while the surface is still attached.
func (e *Engine) Minimize(sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.dispatcher.NotifyVisibility(s, false)
	return s.Minimize()
}

// Maximize restores a minimized session.
func (e *Engine) Maximize(sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.Maximize(); err != nil {
		return err
	}
	e.dispatcher.NotifyVisibility(s, true)
	return nil
}

// Expand grows a session to the expanded presentation.
func (e *Engine) Expand(sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.Expand()
	return nil
}

// Reload reloads a session's content.
func (e *Engine) Reload(ctx context.Context, sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Reload(ctx)
}

// BackPressed routes a host back press. Sessions showing the back
// button receive it over the bridge; others are dismissed.
func (e *Engine) BackPressed(sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if s.Intent().BackButtonVisible {
		e.dispatcher.NotifyBackPressed(s)
		return nil
	}
	s.RequestDismiss(false, false, false)
	return nil
}

// MainButtonPressed forwards a main button press to embedded content.
func (e *Engine) MainButtonPressed(sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.dispatcher.NotifyMainPressed(s)
	return nil
}

// SettingsPressed forwards a settings menu selection.
func (e *Engine) SettingsPressed(sessionID string) error {
	s, ok := e.mgr.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.dispatcher.NotifySettingsPressed(s)
	return nil
}

// Theme returns the current host theme.
func (e *Engine) Theme() types.Theme {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.theme
}

// Viewport returns the current viewport.
func (e *Engine) Viewport() types.Viewport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewport
}

// SafeArea returns the current safe area insets.
func (e *Engine) SafeArea() types.SafeArea {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.safeArea
}

// SetTheme switches the host theme and broadcasts it to every live
// session. Cached surfaces from the old theme stop matching future
// launches.
func (e *Engine) SetTheme(theme types.Theme) {
	e.mu.Lock()
	e.theme = theme
	e.mu.Unlock()

	e.mgr.SetTheme(theme.Scheme)
	e.broadcast(func(s *lifecycle.Session) { e.dispatcher.NotifyTheme(s, theme) })
}

// SetViewport broadcasts a viewport change.
func (e *Engine) SetViewport(vp types.Viewport) {
	e.mu.Lock()
	e.viewport = vp
	e.mu.Unlock()

	e.broadcast(func(s *lifecycle.Session) { e.dispatcher.NotifyViewport(s, vp) })
}

// SetSafeArea broadcasts a safe-area change.
func (e *Engine) SetSafeArea(sa types.SafeArea) {
	e.mu.Lock()
	e.safeArea = sa
	e.mu.Unlock()

	e.broadcast(func(s *lifecycle.Session) { e.dispatcher.NotifySafeArea(s, sa) })
}

func (e *Engine) broadcast(fn func(*lifecycle.Session)) {
	for _, h := range e.mgr.Sessions() {
		if s, ok := e.mgr.Get(h.ID); ok {
			fn(s)
		}
	}
}

// GetInfo resolves metadata for one app id without launching it.
func (e *Engine) GetInfo(ctx context.Context, appID string) (*types.AppMetadata, error) {
	return e.resolver.ResolveApp(ctx, appID)
}

// InfoResult is one BatchGetInfo outcome.
type InfoResult struct {
	AppID    string             `json:"app_id"`
	Metadata *types.AppMetadata `json:"metadata,omitempty"`
	Err      error              `json:"-"`
	Error    string             `json:"error,omitempty"`
}

// batchConcurrency bounds parallel resolver calls in BatchGetInfo.
const batchConcurrency = 4

// BatchGetInfo resolves metadata for several app ids. Failures are
// isolated per id: one revoked app never poisons the batch.
func (e *Engine) BatchGetInfo(ctx context.Context, appIDs []string) []InfoResult {
	results := make([]InfoResult, len(appIDs))
	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup

	for i, appID := range appIDs {
		wg.Add(1)
		go func(i int, appID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			meta, err := e.resolver.ResolveApp(ctx, appID)
			res := InfoResult{AppID: appID, Metadata: meta, Err: err}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
		}(i, appID)
	}
	wg.Wait()
	return results
}

// ClearCache force-dismisses every cached surface and the minimized
// session.
func (e *Engine) ClearCache() {
	e.mgr.ClearCache()
	e.log.Info("surface cache cleared")
}

// Shutdown destroys every session and stops the engine.
func (e *Engine) Shutdown() {
	e.mgr.Close()
	e.log.Info("engine stopped", zap.Duration("uptime", e.metrics.Uptime()))
}
