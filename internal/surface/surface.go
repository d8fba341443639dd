// Package surface abstracts the reusable rendering surface a session
// draws into. The engine never renders pixels; it only moves surface
// handles between their single owner of the moment (Session, cache
// entry, or minimization slot) and drives load/detach/release.
package surface

import (
	"context"
	"errors"
)

// ErrNotAttached is returned by Send when no delivery channel is bound
// to the surface.
var ErrNotAttached = errors.New("surface: no bridge channel attached")

// Surface is a handle to one rendering surface. A handle is owned by
// exactly one holder at a time; holders null their reference when
// handing it over.
type Surface interface {
	// ID returns the stable surface identifier.
	ID() string

	// Load navigates the surface to the given URL.
	Load(url string)

	// Reload reloads the current document in place.
	Reload()

	// Send delivers an encoded outbound bridge message to the embedded
	// content.
	Send(raw []byte) error

	// Detach removes the surface from the host's presentation without
	// destroying it. Safe to call repeatedly.
	Detach()

	// Release tears the surface down for good. The handle must not be
	// used afterwards.
	Release()
}

// Factory creates fresh surfaces for sessions that cannot reuse a
// cached one.
type Factory interface {
	Create(ctx context.Context) (Surface, error)
}
