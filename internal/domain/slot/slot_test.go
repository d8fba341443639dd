package slot

import (
	"testing"

	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOccupant struct {
	id       string
	identity types.SessionIdentity
	owner    string
	closed   bool
}

func (o *fakeOccupant) SessionID() string               { return o.id }
func (o *fakeOccupant) Identity() types.SessionIdentity { return o.identity }
func (o *fakeOccupant) OwnerContext() string            { return o.owner }
func (o *fakeOccupant) ForceClose()                     { o.closed = true }

type fakeSurface struct {
	detached bool
	released bool
}

func (s *fakeSurface) ID() string        { return "surf_1" }
func (s *fakeSurface) Load(string)       {}
func (s *fakeSurface) Reload()           {}
func (s *fakeSurface) Send([]byte) error { return nil }
func (s *fakeSurface) Detach()           { s.detached = true }
func (s *fakeSurface) Release()          { s.released = true }

func occupantFor(app, owner string) *fakeOccupant {
	return &fakeOccupant{
		id:       "sess_" + app,
		identity: types.SessionIdentity{AppID: app},
		owner:    owner,
	}
}

func TestPutForceClosesPreviousOccupant(t *testing.T) {
	s := New()
	first := occupantFor("one", "ctx")
	firstSurf := &fakeSurface{}
	second := occupantFor("two", "ctx")

	s.Put(first, firstSurf)
	s.Put(second, &fakeSurface{})

	assert.True(t, first.closed)
	assert.True(t, firstSurf.detached)
	assert.True(t, firstSurf.released)
	assert.False(t, second.closed)
	occ, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, second.id, occ.SessionID())
}

func TestReleaseReturnsSurfaceToSameOwner(t *testing.T) {
	s := New()
	occ := occupantFor("one", "ctx")
	surf := &fakeSurface{}
	s.Put(occ, surf)

	got, ok := s.Release(occ.identity, "ctx")
	require.True(t, ok)
	assert.Same(t, surf, got)
	assert.False(t, occ.closed)

	// Slot is empty afterwards.
	_, present := s.Current()
	assert.False(t, present)
}

func TestReleaseRefusesForeignOwner(t *testing.T) {
	s := New()
	occ := occupantFor("one", "ctx-a")
	surf := &fakeSurface{}
	s.Put(occ, surf)

	got, ok := s.Release(occ.identity, "ctx-b")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.True(t, occ.closed)
	assert.True(t, surf.detached)
	assert.True(t, surf.released)
}

func TestReleaseUnknownIdentity(t *testing.T) {
	s := New()
	s.Put(occupantFor("one", "ctx"), &fakeSurface{})

	_, ok := s.Release(types.SessionIdentity{AppID: "other"}, "ctx")
	assert.False(t, ok)
	// Original occupant untouched.
	occ, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "sess_one", occ.SessionID())
	assert.False(t, occ.(*fakeOccupant).closed)
}

func TestClear(t *testing.T) {
	s := New()
	s.Clear() // empty clear is a no-op

	occ := occupantFor("one", "ctx")
	surf := &fakeSurface{}
	s.Put(occ, surf)
	s.Clear()

	assert.True(t, occ.closed)
	assert.True(t, surf.released)
	_, present := s.Current()
	assert.False(t, present)
}
