package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/embedkit/embedkit/internal/domain/cache"
	"github.com/embedkit/embedkit/internal/domain/slot"
	"github.com/embedkit/embedkit/internal/infrastructure/logging"
	"github.com/embedkit/embedkit/internal/infrastructure/monitoring"
	"github.com/embedkit/embedkit/internal/shared/fingerprint"
	"github.com/embedkit/embedkit/internal/shared/id"
	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/embedkit/embedkit/internal/surface"
)

var (
	// ErrNotMinimized is returned by Maximize outside the Minimized state.
	ErrNotMinimized = errors.New("lifecycle: session is not minimized")
	// ErrNotPresentable is returned by Minimize outside Ready/Expanded.
	ErrNotPresentable = errors.New("lifecycle: session is not presentable")
	// ErrSuperseded is returned when a competing attach dismissed the
	// session before it finished attaching.
	ErrSuperseded = errors.New("lifecycle: attach superseded by a newer launch")
)

// Resolver resolves launch requests into metadata and concrete launch
// URLs. Implementations run off the manager loop.
type Resolver interface {
	ResolveApp(ctx context.Context, appID string) (*types.AppMetadata, error)
	ResolveBotApp(ctx context.Context, botIDOrName, appName string) (*types.AppMetadata, error)
	ResolveLaunchURL(ctx context.Context, meta *types.AppMetadata, req *types.LaunchRequest) (string, error)
	ResolvePageLaunchURL(ctx context.Context, rawURL, pageID string) (string, error)
}

// Events is the host callback surface for lifecycle notifications.
type Events interface {
	StateChanged(sessionID string, state State)
	// DismissStarted precedes teardown; immediate skips the host's exit
	// transition, silent suppresses user-visible feedback.
	DismissStarted(sessionID string, immediate, silent bool)
	LoadFailed(sessionID string, rerr *types.ResolutionError)
	CloseConfirmationNeeded(sessionID string)
}

// NopEvents ignores every notification.
type NopEvents struct{}

func (NopEvents) StateChanged(string, State)                {}
func (NopEvents) DismissStarted(string, bool, bool)         {}
func (NopEvents) LoadFailed(string, *types.ResolutionError) {}
func (NopEvents) CloseConfirmationNeeded(string)            {}

// Options configures a Manager.
type Options struct {
	Resolver  Resolver
	Surfaces  surface.Factory
	Events    Events
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
	Locale    string
	Theme     string // scheme, participates in fingerprints
	MaxCached int
	// CacheTTL expires cached surfaces that sat unused too long. Zero
	// disables expiry.
	CacheTTL time.Duration
}

// Manager drives every session through its lifecycle and owns the
// surface cache and minimization slot. One logical loop goroutine owns
// all state; public methods suspend callers, never the loop.
type Manager struct {
	loop     *loop
	cache    *cache.Cache
	slot     *slot.Slot
	resolver Resolver
	surfaces surface.Factory
	events   Events
	log      *logging.Logger
	metrics  *monitoring.Metrics
	cacheTTL time.Duration

	// Loop-owned state.
	locale   string
	theme    string
	sessions map[string]*Session // identity key -> non-settled session
	byID     map[string]*Session
}

// NewManager creates and starts a manager.
func NewManager(opts Options) *Manager {
	if opts.Events == nil {
		opts.Events = NopEvents{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	m := &Manager{
		loop:     newLoop(),
		slot:     slot.New(),
		resolver: opts.Resolver,
		surfaces: opts.Surfaces,
		events:   opts.Events,
		log:      opts.Logger.Named("lifecycle"),
		metrics:  opts.Metrics,
		cacheTTL: opts.CacheTTL,
		locale:   opts.Locale,
		theme:    opts.Theme,
		sessions: make(map[string]*Session),
		byID:     make(map[string]*Session),
	}
	m.cache = cache.New(opts.MaxCached, m.cacheTeardown)
	return m
}

// cacheTeardown releases surfaces leaving the cache. Runs while the
// cache lock is held, on the loop.
func (m *Manager) cacheTeardown(entry *cache.Entry, reason cache.Reason) {
	entry.Surface.Detach()
	entry.Surface.Release()
	m.metrics.CacheEvictions.Inc()
	m.metrics.CacheEntries.Dec()
	m.log.Debug("cached surface torn down",
		zap.String("identity", entry.Identity.Key()),
		zap.Int("reason", int(reason)),
	)
}

// Close shuts the manager down, destroying every live session and
// cached surface.
func (m *Manager) Close() {
	_, _ = call(m.loop, context.Background(), func() struct{} {
		for _, s := range m.byID {
			m.dismiss(s, true)
		}
		m.slot.Clear()
		m.cache.RemoveAll()
		return struct{}{}
	})
	m.loop.close()
}

// Get returns the live session with the given public id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	s, err := call(m.loop, context.Background(), func() *Session { return m.byID[sessionID] })
	if err != nil || s == nil {
		return nil, false
	}
	return s, true
}

// Sessions returns handles of all live sessions.
func (m *Manager) Sessions() []Handle {
	handles, err := call(m.loop, context.Background(), func() []Handle {
		out := make([]Handle, 0, len(m.byID))
		for _, s := range m.byID {
			out = append(out, s.handleLocked())
		}
		return out
	})
	if err != nil {
		return nil
	}
	return handles
}

// Minimized returns a handle for the session occupying the
// minimization slot, if any.
func (m *Manager) Minimized() (Handle, bool) {
	h, err := call(m.loop, context.Background(), func() *Handle {
		occ, ok := m.slot.Current()
		if !ok {
			return nil
		}
		s, ok := m.byID[occ.SessionID()]
		if !ok {
			return nil
		}
		snap := s.handleLocked()
		return &snap
	})
	if err != nil || h == nil {
		return Handle{}, false
	}
	return *h, true
}

// SetTheme updates the host theme scheme. Future fingerprints use the
// new scheme, so cached surfaces from the old theme stop matching.
func (m *Manager) SetTheme(scheme string) {
	m.loop.post(func() { m.theme = scheme })
}

// ClearCache force-dismisses every cached surface and the minimized
// session.
func (m *Manager) ClearCache() {
	_, _ = call(m.loop, context.Background(), func() struct{} {
		m.slot.Clear()
		m.cache.RemoveAll()
		return struct{}{}
	})
}

// ResizeCache adjusts the surface cache capacity.
func (m *Manager) ResizeCache(maxEntries int) {
	m.loop.post(func() { m.cache.Resize(maxEntries) })
}

// attachDecision is the loop's verdict on one attach iteration.
type attachDecision struct {
	// reuse is a session the caller may use directly.
	reuse *Session
	// wait, when non-nil, must settle before the attach re-decides.
	wait <-chan struct{}
	// fresh is a placeholder session registered for this attach; the
	// caller proceeds to resolution.
	fresh *Session
}

// Attach launches or reuses a session for the request. Owner is the
// host context token; surfaces never cross owners.
//
// For any identity at most one non-dismissing session exists. Attaches
// racing a dismissal suspend until the dismissal settles. On retryable
// resolution failures the placeholder session is returned together
// with the error so the host can offer reload; revoked apps return a
// nil session after forced silent dismissal.
func (m *Manager) Attach(ctx context.Context, req *types.LaunchRequest, owner string) (*Session, error) {
	var s *Session
	for {
		decision, err := call(m.loop, ctx, func() attachDecision {
			fp := fingerprint.Compute(fingerprint.FromRequest(req, m.locale, m.theme))
			return m.decide(req, owner, fp, StateAttaching)
		})
		if err != nil {
			return nil, err
		}
		if decision.reuse != nil {
			return decision.reuse, nil
		}
		if decision.wait != nil {
			select {
			case <-decision.wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		s = decision.fresh
		break
	}

	return m.finishAttach(ctx, s)
}

// Preload resolves and loads a surface for the request without
// presenting it, leaving the result in the cache for an instant later
// launch. A valid cached or live session makes it a no-op.
func (m *Manager) Preload(ctx context.Context, req *types.LaunchRequest, owner string) error {
	decision, err := call(m.loop, ctx, func() attachDecision {
		fp := fingerprint.Compute(fingerprint.FromRequest(req, m.locale, m.theme))
		key := req.Identity.Key()
		if _, live := m.sessions[key]; live {
			return attachDecision{} // something is already there, leave it be
		}
		if entry, ok := m.cache.Get(req.Identity); ok {
			if m.entryReusable(entry, fp, owner) {
				return attachDecision{}
			}
		}
		return attachDecision{fresh: m.register(req, owner, fp, StatePreloading)}
	})
	if err != nil {
		return err
	}
	if decision.fresh == nil {
		return nil
	}

	s := decision.fresh
	meta, launchURL, rerr := m.resolve(s.ctx, req)
	if rerr != nil {
		m.loop.post(func() { m.settle(s, false) })
		return rerr
	}

	_, err = call(m.loop, ctx, func() error {
		if settled(s.state) || s.state == StateDismissing {
			return ErrSuperseded
		}
		surf, cerr := m.surfaces.Create(s.ctx)
		if cerr != nil {
			m.settle(s, false)
			return fmt.Errorf("surface creation failed: %w", cerr)
		}
		surf.Load(launchURL)
		surf.Detach()
		m.cache.Put(&cache.Entry{
			Identity:    s.identity,
			Surface:     surf,
			Fingerprint: s.fingerprint,
			Owner:       s.owner,
			Metadata:    meta,
			LoadedURL:   launchURL,
		})
		m.metrics.CacheEntries.Inc()
		m.settle(s, false)
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// decide runs on the loop and picks the reuse/wait/fresh path.
func (m *Manager) decide(req *types.LaunchRequest, owner, fp string, initial State) attachDecision {
	key := req.Identity.Key()

	if existing := m.sessions[key]; existing != nil {
		if existing.state == StateDismissing {
			return attachDecision{wait: existing.dismissed}
		}
		if existing.state == StatePreloading {
			// An in-flight preload still owns this identity. It settles
			// into the cache (or is destroyed); re-decide then.
			return attachDecision{wait: existing.dismissed}
		}
		if existing.fingerprint == fp && existing.owner == owner && !existing.failed {
			if existing.state == StateMinimized {
				if err := m.maximize(existing); err == nil {
					m.metrics.CacheHits.Inc()
					return attachDecision{reuse: existing}
				}
				if !settled(existing.state) {
					m.dismissForced(existing)
					return attachDecision{wait: existing.dismissed}
				}
				// The slot force-closed the session; proceed fresh.
			} else {
				m.metrics.CacheHits.Inc()
				return attachDecision{reuse: existing}
			}
		} else {
			// Not reusable: force the old session out first. The new
			// attach proceeds only once its dismissal settles.
			m.dismissForced(existing)
			return attachDecision{wait: existing.dismissed}
		}
	}

	if entry, ok := m.cache.Get(req.Identity); ok {
		if m.entryReusable(entry, fp, owner) {
			taken, _ := m.cache.Take(req.Identity)
			m.metrics.CacheEntries.Dec()
			m.metrics.CacheHits.Inc()
			s := m.register(req, owner, fp, StateReady)
			s.surf = taken.Surface
			s.meta = taken.Metadata
			s.intent = taken.Intent
			s.loadedURL = taken.LoadedURL
			m.events.StateChanged(string(s.id), s.state)
			return attachDecision{reuse: s}
		}
		// Stale entry: evict, teardown force-dismisses the surface.
		m.cache.Remove(req.Identity)
	}

	m.metrics.CacheMisses.Inc()
	return attachDecision{fresh: m.register(req, owner, fp, initial)}
}

// entryReusable decides whether a cached surface may serve a new
// request: fingerprint and owner must match and the entry must not
// have expired.
func (m *Manager) entryReusable(entry *cache.Entry, fp, owner string) bool {
	if entry.Fingerprint != fp || entry.Owner != owner || entry.Expired {
		return false
	}
	if m.cacheTTL > 0 && time.Since(entry.CachedAt) > m.cacheTTL {
		entry.Expired = true
		return false
	}
	return true
}

// register creates and indexes a session. Loop only.
func (m *Manager) register(req *types.LaunchRequest, owner, fp string, initial State) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id.NewSessionID(),
		identity:     req.Identity,
		request:      req,
		owner:        owner,
		fingerprint:  fp,
		mgr:          m,
		state:        initial,
		restoreState: StateReady,
		ctx:          ctx,
		cancel:       cancel,
		dismissed:    make(chan struct{}),
	}
	m.sessions[req.Identity.Key()] = s
	m.byID[string(s.id)] = s
	m.metrics.SessionsActive.Inc()
	m.metrics.SessionsLaunched.Inc()
	m.log.Info("session registered",
		zap.String("session", string(s.id)),
		zap.String("identity", s.identity.Key()),
		zap.String("state", string(initial)),
	)
	return s
}

// finishAttach performs resolution and surface setup for a fresh
// placeholder session.
func (m *Manager) finishAttach(ctx context.Context, s *Session) (*Session, error) {
	meta, launchURL, rerr := m.resolve(s.ctx, s.request)
	if rerr != nil {
		var resErr *types.ResolutionError
		if errors.As(rerr, &resErr) {
			return m.failAttach(ctx, s, resErr)
		}
		if errors.Is(rerr, context.Canceled) {
			return nil, ErrSuperseded
		}
		return m.failAttach(ctx, s, &types.ResolutionError{Code: -1, Message: rerr.Error()})
	}

	session, err := call(m.loop, ctx, func() *Session {
		if settled(s.state) || s.state == StateDismissing {
			return nil
		}
		surf, cerr := m.surfaces.Create(s.ctx)
		if cerr != nil {
			m.log.Error("surface creation failed", zap.Error(cerr))
			m.settle(s, false)
			return nil
		}
		s.meta = meta
		s.surf = surf
		s.loadedURL = launchURL
		m.setState(s, StateLoading)
		surf.Load(launchURL)
		return s
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSuperseded
	}
	return session, nil
}

// failAttach reports a resolution failure. Revoked apps are silently
// destroyed; other failures leave the session retryable.
func (m *Manager) failAttach(ctx context.Context, s *Session, rerr *types.ResolutionError) (*Session, error) {
	m.metrics.ResolveErrors.WithLabelValues(strconv.Itoa(rerr.Code)).Inc()
	_, err := call(m.loop, ctx, func() struct{} {
		if settled(s.state) {
			return struct{}{}
		}
		m.events.LoadFailed(string(s.id), rerr)
		s.Capabilities().NotifyAPIError(rerr.Code, rerr.Message)
		if rerr.Revoked() {
			// Unrecoverable: discard everything, in-flight capability
			// calls included.
			m.dismissForced(s)
		} else {
			s.failed = true
		}
		return struct{}{}
	})
	if err != nil {
		return nil, err
	}
	if rerr.Revoked() {
		return nil, rerr
	}
	return s, rerr
}

// resolve maps a request to metadata plus a concrete launch URL.
func (m *Manager) resolve(ctx context.Context, req *types.LaunchRequest) (*types.AppMetadata, string, error) {
	start := time.Now()
	defer func() {
		m.metrics.ResolveDuration.WithLabelValues(string(req.Identity.Kind())).Observe(time.Since(start).Seconds())
	}()

	switch req.Identity.Kind() {
	case types.IdentityApp:
		meta, err := m.resolver.ResolveApp(ctx, req.Identity.AppID)
		if err != nil {
			return nil, "", err
		}
		launchURL := req.URL
		if launchURL == "" {
			launchURL, err = m.resolver.ResolveLaunchURL(ctx, meta, req)
			if err != nil {
				return nil, "", err
			}
		}
		return meta, launchURL, nil

	case types.IdentityBotApp:
		meta, err := m.resolver.ResolveBotApp(ctx, req.Identity.BotID, req.Identity.AppName)
		if err != nil {
			return nil, "", err
		}
		launchURL, err := m.resolver.ResolveLaunchURL(ctx, meta, req)
		if err != nil {
			return nil, "", err
		}
		return meta, launchURL, nil

	default:
		target := req.URL
		if target == "" {
			target = req.Identity.URL
		}
		redirect, err := m.resolver.ResolvePageLaunchURL(ctx, target, "")
		if err != nil {
			return nil, "", err
		}
		meta := &types.AppMetadata{Title: pageTitle(target), LaunchURL: redirect, ResolvedAt: time.Now()}
		return meta, redirect, nil
	}
}

func pageTitle(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

// requestDismiss gates dismissal on close confirmation. Loop only.
func (m *Manager) requestDismiss(s *Session, force, immediate, silent bool) bool {
	if settled(s.state) || s.state == StateDismissing {
		return true
	}
	if !force && s.intent.CloseConfirmation {
		if !s.confirmPending {
			s.confirmPending = true
			m.events.CloseConfirmationNeeded(string(s.id))
		}
		return false
	}
	m.events.DismissStarted(string(s.id), immediate, silent)
	m.dismiss(s, silent)
	return true
}

// dismissForced is the forced, silent dismissal used by competing
// launches and revoked-app errors. Loop only.
func (m *Manager) dismissForced(s *Session) {
	m.events.DismissStarted(string(s.id), true, true)
	m.dismiss(s, true)
}

// dismiss tears a session down, degrading it into a cache entry when
// allowed. Loop only.
func (m *Manager) dismiss(s *Session, silent bool) {
	if settled(s.state) {
		return
	}

	wasMinimized := s.state == StateMinimized
	m.setState(s, StateDismissing)
	s.cancel()

	if wasMinimized {
		// Reclaim the surface from the slot; the owner always matches
		// because minimize recorded it.
		if surf, ok := m.slot.Release(s.identity, s.owner); ok {
			s.surf = surf
		}
	}

	surf := s.surf
	s.surf = nil

	cacheable := surf != nil && s.request.CacheAllowed && s.loadedURL != "" && !s.failed
	if cacheable {
		surf.Detach()
		m.cache.Put(&cache.Entry{
			Identity:    s.identity,
			Surface:     surf,
			Fingerprint: s.fingerprint,
			Owner:       s.owner,
			Metadata:    s.meta,
			Intent:      s.intent,
			LoadedURL:   s.loadedURL,
		})
		m.metrics.CacheEntries.Inc()
		m.finish(s, StateCached)
		return
	}

	if surf != nil {
		surf.Detach()
		surf.Release()
	}
	m.finish(s, StateDestroyed)
}

// settle finalizes a session whose surface was already handled
// elsewhere (slot force-close, placeholder teardown). Loop only.
func (m *Manager) settle(s *Session, cached bool) {
	if settled(s.state) {
		return
	}
	s.cancel()
	s.surf = nil
	outcome := StateDestroyed
	if cached {
		outcome = StateCached
	}
	m.finish(s, outcome)
}

// finish records the terminal state, unindexes the session, and wakes
// attaches waiting on the dismissal. Loop only.
func (m *Manager) finish(s *Session, outcome State) {
	m.setState(s, outcome)
	if m.sessions[s.identity.Key()] == s {
		delete(m.sessions, s.identity.Key())
	}
	delete(m.byID, string(s.id))
	m.metrics.SessionsActive.Dec()
	m.metrics.SessionsDismissed.WithLabelValues(string(outcome)).Inc()
	close(s.dismissed)
	m.log.Info("session settled",
		zap.String("session", string(s.id)),
		zap.String("outcome", string(outcome)),
	)
}

// minimize hands the surface to the minimization slot. Loop only.
func (m *Manager) minimize(s *Session) error {
	if s.state != StateReady && s.state != StateExpanded {
		return ErrNotPresentable
	}
	s.restoreState = s.state
	surf := s.surf
	s.surf = nil
	surf.Detach()
	m.slot.Put(s, surf)
	m.setState(s, StateMinimized)
	return nil
}

// maximize reverses minimize. Loop only.
func (m *Manager) maximize(s *Session) error {
	if s.state != StateMinimized {
		return ErrNotMinimized
	}
	surf, ok := m.slot.Release(s.identity, s.owner)
	if !ok {
		return ErrNotMinimized
	}
	s.surf = surf
	m.setState(s, s.restoreState)
	return nil
}

// Reload reloads in place, or repeats resolution when the session never
// loaded a URL. Cache identity is unchanged either way.
func (m *Manager) Reload(ctx context.Context, s *Session) error {
	needsResolve, err := call(m.loop, ctx, func() bool {
		return s.loadedURL == ""
	})
	if err != nil {
		return err
	}

	if !needsResolve {
		_, err = call(m.loop, ctx, func() struct{} {
			if s.surf != nil && !settled(s.state) && s.state != StateDismissing {
				m.setState(s, StateLoading)
				s.surf.Reload()
			}
			return struct{}{}
		})
		return err
	}

	meta, launchURL, rerr := m.resolve(s.ctx, s.request)
	if rerr != nil {
		var resErr *types.ResolutionError
		if !errors.As(rerr, &resErr) {
			resErr = &types.ResolutionError{Code: -1, Message: rerr.Error()}
		}
		_, rcErr := m.failAttach(ctx, s, resErr)
		return rcErr
	}

	_, err = call(m.loop, ctx, func() struct{} {
		if settled(s.state) || s.state == StateDismissing {
			return struct{}{}
		}
		if s.surf == nil {
			surf, cerr := m.surfaces.Create(s.ctx)
			if cerr != nil {
				m.settle(s, false)
				return struct{}{}
			}
			s.surf = surf
		}
		s.failed = false
		s.meta = meta
		s.loadedURL = launchURL
		m.setState(s, StateLoading)
		s.surf.Load(launchURL)
		return struct{}{}
	})
	return err
}

// setState records and publishes a state transition. Loop only.
func (m *Manager) setState(s *Session, next State) {
	if s.state == next && next != StateLoading {
		return
	}
	s.state = next
	m.events.StateChanged(string(s.id), next)
}
