// Package slot holds the single currently-minimized session and its
// detached rendering surface.
package slot

import (
	"sync"

	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/embedkit/embedkit/internal/surface"
)

// Occupant is the minimized session as the slot sees it. The interface
// is deliberately narrow so the slot never reaches into lifecycle
// internals.
type Occupant interface {
	SessionID() string
	Identity() types.SessionIdentity
	OwnerContext() string
	// ForceClose settles the occupant's state as silently dismissed.
	// The slot has already torn the surface down by the time this runs.
	ForceClose()
}

// Slot holds zero or one (session, surface) pair.
type Slot struct {
	mu       sync.Mutex
	occupant Occupant
	surf     surface.Surface
}

// New creates an empty slot.
func New() *Slot {
	return &Slot{}
}

// Put minimizes a session into the slot, force-closing any previous
// occupant first. The slot takes ownership of the surface.
func (s *Slot) Put(occupant Occupant, surf surface.Surface) {
	s.mu.Lock()
	prev, prevSurf := s.occupant, s.surf
	s.occupant = occupant
	s.surf = surf
	s.mu.Unlock()

	if prev != nil {
		teardown(prevSurf)
		prev.ForceClose()
	}
}

// Current returns the occupant, if any.
func (s *Slot) Current() (Occupant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupant, s.occupant != nil
}

// Release hands the surface back for reattachment. If the requesting
// owner context differs from the one that minimized the session, the
// occupant is force-dismissed instead and no surface is returned; a
// surface must never leak across contexts.
func (s *Slot) Release(identity types.SessionIdentity, owner string) (surface.Surface, bool) {
	s.mu.Lock()
	occupant, surf := s.occupant, s.surf
	if occupant == nil || occupant.Identity().Key() != identity.Key() {
		s.mu.Unlock()
		return nil, false
	}
	s.occupant = nil
	s.surf = nil
	s.mu.Unlock()

	if occupant.OwnerContext() != owner {
		teardown(surf)
		occupant.ForceClose()
		return nil, false
	}
	return surf, true
}

// Clear force-closes whatever occupies the slot.
func (s *Slot) Clear() {
	s.mu.Lock()
	occupant, surf := s.occupant, s.surf
	s.occupant = nil
	s.surf = nil
	s.mu.Unlock()

	if occupant != nil {
		teardown(surf)
		occupant.ForceClose()
	}
}

func teardown(surf surface.Surface) {
	if surf == nil {
		return
	}
	surf.Detach()
	surf.Release()
}
