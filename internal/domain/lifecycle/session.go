package lifecycle

import (
	"context"

	"github.com/embedkit/embedkit/internal/capability"
	"github.com/embedkit/embedkit/internal/shared/id"
	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/embedkit/embedkit/internal/surface"
)

// State represents session lifecycle states.
type State string

const (
	StatePreloading State = "preloading"
	StateAttaching  State = "attaching"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateExpanded   State = "expanded"
	StateMinimized  State = "minimized"
	StateDismissing State = "dismissing"
	StateCached     State = "cached"
	StateDestroyed  State = "destroyed"
)

// settled reports whether a state is terminal for the live session.
func settled(s State) bool {
	return s == StateCached || s == StateDestroyed
}

// Session is one live mini-app session. All mutable fields are owned by
// the manager loop; public methods marshal onto it.
type Session struct {
	id          id.SessionID
	identity    types.SessionIdentity
	request     *types.LaunchRequest
	owner       string
	fingerprint string

	mgr *Manager

	// Loop-owned state.
	state          State
	restoreState   State
	meta           *types.AppMetadata
	surf           surface.Surface
	intent         types.UIIntent
	loadedURL      string
	failed         bool
	confirmPending bool

	ctx       context.Context
	cancel    context.CancelFunc
	dismissed chan struct{}
}

// SessionID returns the public session identifier.
func (s *Session) SessionID() string { return string(s.id) }

// Identity returns the session's dedup identity.
func (s *Session) Identity() types.SessionIdentity { return s.identity }

// OwnerContext returns the host context token that launched the session.
func (s *Session) OwnerContext() string { return s.owner }

// Context returns the session's cancellation scope. Capability calls
// made on behalf of the session derive from it so dismissal cancels
// them.
func (s *Session) Context() context.Context { return s.ctx }

// Capabilities returns the host capability handle for this session.
// Never nil: sessions launched without one get the denying provider.
func (s *Session) Capabilities() capability.Provider {
	if s.request.Capabilities == nil {
		return capability.Unsupported{}
	}
	return s.request.Capabilities
}

// Dismissed is closed once the session has fully settled (cached or
// destroyed). The next attach for the same identity awaits it.
func (s *Session) Dismissed() <-chan struct{} { return s.dismissed }

// State returns the current lifecycle state.
func (s *Session) State() State {
	st, err := call(s.mgr.loop, context.Background(), func() State { return s.state })
	if err != nil {
		return StateDestroyed
	}
	return st
}

// Metadata returns the resolved metadata, nil before resolution.
func (s *Session) Metadata() *types.AppMetadata {
	meta, _ := call(s.mgr.loop, context.Background(), func() *types.AppMetadata { return s.meta })
	return meta
}

// Intent returns a snapshot of the restorable UI-intent state.
func (s *Session) Intent() types.UIIntent {
	intent, _ := call(s.mgr.loop, context.Background(), func() types.UIIntent { return s.intent })
	return intent
}

// UpdateIntent applies a mutation to the UI-intent mirror.
func (s *Session) UpdateIntent(mutate func(*types.UIIntent)) {
	s.mgr.loop.post(func() {
		if settled(s.state) {
			return
		}
		mutate(&s.intent)
	})
}

// SurfaceID returns the id of the currently attached surface, empty
// while detached.
func (s *Session) SurfaceID() string {
	sid, _ := call(s.mgr.loop, context.Background(), func() string {
		if s.surf == nil {
			return ""
		}
		return s.surf.ID()
	})
	return sid
}

// Send delivers an encoded outbound bridge message to the embedded
// content through the attached surface.
func (s *Session) Send(raw []byte) error {
	surf, err := call(s.mgr.loop, context.Background(), func() surface.Surface { return s.surf })
	if err != nil {
		return err
	}
	if surf == nil {
		return surface.ErrNotAttached
	}
	return surf.Send(raw)
}

// Ready marks the embedded content as loaded. Auto-expand requests
// recorded on the launch request take effect here.
func (s *Session) Ready() {
	s.mgr.loop.post(func() {
		if s.state != StateLoading {
			return
		}
		next := StateReady
		if s.request.AutoExpand {
			next = StateExpanded
		}
		s.mgr.setState(s, next)
	})
}

// Expand grows the session to its expanded presentation.
func (s *Session) Expand() {
	s.mgr.loop.post(func() {
		if s.state == StateReady {
			s.mgr.setState(s, StateExpanded)
		}
	})
}

// Collapse returns an expanded session to the compact presentation.
func (s *Session) Collapse() {
	s.mgr.loop.post(func() {
		if s.state == StateExpanded {
			s.mgr.setState(s, StateReady)
		}
	})
}

// RequestDismiss asks to dismiss the session. When force is false and
// the embedded content holds a close confirmation, the host is asked to
// confirm and false is returned; ConfirmDismiss completes the flow.
func (s *Session) RequestDismiss(force, immediate, silent bool) bool {
	ok, err := call(s.mgr.loop, context.Background(), func() bool {
		return s.mgr.requestDismiss(s, force, immediate, silent)
	})
	if err != nil {
		return false
	}
	return ok
}

// ConfirmDismiss completes a dismissal the host confirmed after a
// close-confirmation prompt.
func (s *Session) ConfirmDismiss() {
	s.mgr.loop.post(func() {
		if s.confirmPending && !settled(s.state) {
			s.mgr.dismiss(s, false)
		}
	})
}

// CancelDismiss clears a pending close-confirmation prompt.
func (s *Session) CancelDismiss() {
	s.mgr.loop.post(func() { s.confirmPending = false })
}

// Minimize detaches the session into the minimization slot.
func (s *Session) Minimize() error {
	res, err := call(s.mgr.loop, context.Background(), func() error {
		return s.mgr.minimize(s)
	})
	if err != nil {
		return err
	}
	return res
}

// Maximize reverses Minimize, reattaching the surface.
func (s *Session) Maximize() error {
	res, err := call(s.mgr.loop, context.Background(), func() error {
		return s.mgr.maximize(s)
	})
	if err != nil {
		return err
	}
	return res
}

// Reload reloads the session: in place when a URL already loaded,
// otherwise by repeating metadata resolution.
func (s *Session) Reload(ctx context.Context) error {
	return s.mgr.Reload(ctx, s)
}

// ForceClose settles the session as silently dismissed after its
// surface was torn down elsewhere (slot handoff or eviction). Runs on
// the manager loop; see slot.Occupant.
func (s *Session) ForceClose() {
	s.mgr.settle(s, false)
}

// Handle is an immutable snapshot handed to host-facing APIs.
type Handle struct {
	ID        string                `json:"id"`
	Identity  types.SessionIdentity `json:"identity"`
	State     State                 `json:"state"`
	SurfaceID string                `json:"surface_id,omitempty"`
	Metadata  *types.AppMetadata    `json:"metadata,omitempty"`
	Intent    types.UIIntent        `json:"intent"`
}

// handleLocked builds a snapshot; caller must be on the loop.
func (s *Session) handleLocked() Handle {
	h := Handle{
		ID:       string(s.id),
		Identity: s.identity,
		State:    s.state,
		Metadata: s.meta,
		Intent:   s.intent,
	}
	if s.surf != nil {
		h.SurfaceID = s.surf.ID()
	}
	return h
}
