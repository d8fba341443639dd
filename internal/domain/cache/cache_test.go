package cache

import (
	"fmt"
	"testing"

	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSurface struct {
	id        string
	detached  bool
	released  bool
	loaded    string
	reloads   int
	sent      [][]byte
	sendErr   error
	destroyed bool
}

func (s *fakeSurface) ID() string      { return s.id }
func (s *fakeSurface) Load(url string) { s.loaded = url }
func (s *fakeSurface) Reload()         { s.reloads++ }
func (s *fakeSurface) Send(raw []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, raw)
	return nil
}
func (s *fakeSurface) Detach()  { s.detached = true }
func (s *fakeSurface) Release() { s.released = true; s.destroyed = true }

func entryFor(n int) (*Entry, *fakeSurface) {
	surf := &fakeSurface{id: fmt.Sprintf("surf_%d", n)}
	return &Entry{
		Identity:    types.SessionIdentity{AppID: fmt.Sprintf("app%d", n)},
		Surface:     surf,
		Fingerprint: fmt.Sprintf("fp%d", n),
		Owner:       "ctx",
	}, surf
}

func TestPutGet(t *testing.T) {
	c := New(3, nil)
	entry, _ := entryFor(1)
	c.Put(entry)

	got, ok := c.Get(entry.Identity)
	require.True(t, ok)
	assert.Same(t, entry, got)
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get(types.SessionIdentity{AppID: "missing"})
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	var evicted []*Entry
	var reasons []Reason
	c := New(2, func(e *Entry, r Reason) {
		evicted = append(evicted, e)
		reasons = append(reasons, r)
	})

	e1, s1 := entryFor(1)
	e2, _ := entryFor(2)
	e3, _ := entryFor(3)

	c.Put(e1)
	c.Put(e2)
	// Touch e1 so e2 becomes least recently used.
	_, ok := c.Get(e1.Identity)
	require.True(t, ok)

	c.Put(e3)

	require.Len(t, evicted, 1)
	assert.Equal(t, e2.Identity, evicted[0].Identity)
	assert.Equal(t, ReasonEvicted, reasons[0])
	assert.Equal(t, 2, c.Len())
	assert.False(t, s1.released, "surviving entries must not be torn down")

	_, ok = c.Get(e2.Identity)
	assert.False(t, ok)
}

func TestPutReplacesSameIdentity(t *testing.T) {
	var evicted []*Entry
	c := New(2, func(e *Entry, r Reason) {
		assert.Equal(t, ReasonRemoved, r)
		evicted = append(evicted, e)
	})

	first, _ := entryFor(1)
	second := &Entry{Identity: first.Identity, Fingerprint: "fp_new"}
	c.Put(first)
	c.Put(second)

	require.Len(t, evicted, 1)
	assert.Same(t, first, evicted[0])

	got, ok := c.Get(first.Identity)
	require.True(t, ok)
	assert.Equal(t, "fp_new", got.Fingerprint)
	assert.Equal(t, 1, c.Len())
}

func TestRemoveAllRunsTeardownForEveryEntry(t *testing.T) {
	cleared := 0
	c := New(5, func(e *Entry, r Reason) {
		assert.Equal(t, ReasonCleared, r)
		cleared++
	})

	for i := 0; i < 3; i++ {
		e, _ := entryFor(i)
		c.Put(e)
	}
	c.RemoveAll()

	assert.Equal(t, 3, cleared)
	assert.Equal(t, 0, c.Len())
}

func TestTakeSkipsTeardown(t *testing.T) {
	torn := 0
	c := New(5, func(e *Entry, r Reason) { torn++ })

	e, surf := entryFor(1)
	c.Put(e)

	got, ok := c.Take(e.Identity)
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.Equal(t, 0, torn)
	assert.False(t, surf.released)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Take(e.Identity)
	assert.False(t, ok)
}

func TestResizeEvictsDownToCapacity(t *testing.T) {
	var evicted []*Entry
	c := New(4, func(e *Entry, r Reason) {
		assert.Equal(t, ReasonEvicted, r)
		evicted = append(evicted, e)
	})

	entries := make([]*Entry, 4)
	for i := range entries {
		entries[i], _ = entryFor(i)
		c.Put(entries[i])
	}

	c.Resize(2)

	require.Len(t, evicted, 2)
	// Oldest two go first.
	assert.Equal(t, entries[0].Identity, evicted[0].Identity)
	assert.Equal(t, entries[1].Identity, evicted[1].Identity)
	assert.Equal(t, 2, c.Len())
}
