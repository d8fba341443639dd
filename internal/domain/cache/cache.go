// Package cache holds reusable rendering surfaces between sessions.
//
// The cache is a pure storage and eviction structure: it never decides
// whether an entry is actually reusable. Fingerprint and owner checks
// belong to the lifecycle manager.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/embedkit/embedkit/internal/surface"
)

// DefaultMaxEntries bounds the cache when no explicit size is configured.
const DefaultMaxEntries = 5

// Reason tells the teardown callback why an entry is leaving the cache.
type Reason int

const (
	// ReasonEvicted marks LRU pressure: the surface is detached and
	// released but host chrome may still reference it momentarily.
	ReasonEvicted Reason = iota
	// ReasonRemoved marks targeted removal by the lifecycle.
	ReasonRemoved
	// ReasonCleared marks a full RemoveAll: the surface is force
	// dismissed.
	ReasonCleared
)

// Entry is one cached, detached surface plus the state needed to decide
// reuse and to restore presentation without replaying the handshake.
type Entry struct {
	Identity    types.SessionIdentity
	Surface     surface.Surface
	Fingerprint string
	Expired     bool
	// CachedAt is stamped at Put; the lifecycle derives expiry from it.
	CachedAt time.Time
	// Owner is a back-reference token identifying the context that
	// cached the entry. It never owns the context.
	Owner    string
	Metadata *types.AppMetadata
	Intent   types.UIIntent
	// LoadedURL lets a reattached session skip resolution and loading.
	LoadedURL string
}

// TeardownFunc runs for every entry leaving the cache, before the entry
// is dropped. It runs with the cache lock held and must not call back
// into the cache.
type TeardownFunc func(entry *Entry, reason Reason)

// Cache is a bounded LRU map from identity key to Entry.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	teardown TeardownFunc
}

// New creates a cache bounded to maxEntries. A teardown callback is
// required so evicted surfaces are never leaked silently.
func New(maxEntries int, teardown TeardownFunc) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		capacity: maxEntries,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		teardown: teardown,
	}
}

// Get returns the entry for the identity and marks it most recently
// used. No validity checks happen here.
func (c *Cache) Get(identity types.SessionIdentity) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[identity.Key()]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*Entry), true
}

// Put stores an entry under its identity, replacing any previous entry
// for the same identity (the replaced entry is torn down as removed).
// Insertion beyond capacity evicts the least-recently-used entry.
func (c *Cache) Put(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now()
	}

	key := entry.Identity.Key()
	if el, ok := c.items[key]; ok {
		prev := el.Value.(*Entry)
		el.Value = entry
		c.order.MoveToFront(el)
		c.runTeardown(prev, ReasonRemoved)
		return
	}

	c.items[key] = c.order.PushFront(entry)
	c.evictOverCapacityLocked()
}

// Remove drops the entry for the identity, if any, tearing it down.
func (c *Cache) Remove(identity types.SessionIdentity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[identity.Key()]
	if !ok {
		return false
	}
	c.dropLocked(el, ReasonRemoved)
	return true
}

// Take removes and returns the entry without running teardown. The
// caller assumes ownership of the surface.
func (c *Cache) Take(identity types.SessionIdentity) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[identity.Key()]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*Entry)
	c.order.Remove(el)
	delete(c.items, entry.Identity.Key())
	return entry, true
}

// RemoveAll force-dismisses every cached surface and clears the cache.
func (c *Cache) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; el = el.Next() {
		c.runTeardown(el.Value.(*Entry), ReasonCleared)
	}
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Resize adjusts the capacity, evicting LRU entries that no longer fit.
func (c *Cache) Resize(maxEntries int) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = maxEntries
	c.evictOverCapacityLocked()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) evictOverCapacityLocked() {
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		c.dropLocked(oldest, ReasonEvicted)
	}
}

func (c *Cache) dropLocked(el *list.Element, reason Reason) {
	entry := el.Value.(*Entry)
	c.order.Remove(el)
	delete(c.items, entry.Identity.Key())
	c.runTeardown(entry, reason)
}

func (c *Cache) runTeardown(entry *Entry, reason Reason) {
	if c.teardown != nil {
		c.teardown(entry, reason)
	}
}
