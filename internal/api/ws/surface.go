package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/embedkit/embedkit/internal/bridge"
	"github.com/embedkit/embedkit/internal/shared/id"
	"github.com/embedkit/embedkit/internal/surface"
)

// Surfaces creates WebSocket-backed rendering surfaces. A surface
// exists before any client connects; outbound frames queue until the
// embedded content opens its bridge channel.
type Surfaces struct {
	mu       sync.Mutex
	surfaces map[string]*wsSurface
}

// NewSurfaces creates the factory.
func NewSurfaces() *Surfaces {
	return &Surfaces{surfaces: make(map[string]*wsSurface)}
}

// Create builds a fresh detached surface.
func (f *Surfaces) Create(_ context.Context) (surface.Surface, error) {
	s := &wsSurface{
		id:      string(id.NewSurfaceID()),
		factory: f,
	}
	f.mu.Lock()
	f.surfaces[s.id] = s
	f.mu.Unlock()
	return s, nil
}

// lookup returns the surface with the given id.
func (f *Surfaces) lookup(surfaceID string) (*wsSurface, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.surfaces[surfaceID]
	return s, ok
}

func (f *Surfaces) drop(surfaceID string) {
	f.mu.Lock()
	delete(f.surfaces, surfaceID)
	f.mu.Unlock()
}

// maxPending bounds the outbound queue of a surface with no connected
// client. Overflow drops the oldest frames; embedded content re-syncs
// state through request_* messages on connect anyway.
const maxPending = 256

// wsSurface is one rendering surface bridged over a WebSocket. The
// engine side treats it as an opaque surface handle; the connected
// client renders the loaded URL and speaks the bridge protocol.
type wsSurface struct {
	id      string
	factory *Surfaces

	// wmu serializes frame writes; gorilla connections permit only one
	// concurrent writer, and the dispatcher sends from many goroutines.
	wmu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  [][]byte
	url      string
	released bool
}

func (s *wsSurface) ID() string { return s.id }

// Load points the surface at a URL. Connected clients are told to
// navigate; otherwise the navigation frame waits with the rest of the
// queue.
func (s *wsSurface) Load(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	s.push(s.navigateFrame(url))
}

func (s *wsSurface) Reload() {
	s.mu.Lock()
	url := s.url
	s.mu.Unlock()
	if url != "" {
		s.push(s.navigateFrame(url))
	}
}

// navigate is the host-internal control frame telling the client which
// document to render. It shares the envelope shape with bridge events
// but is not part of the inbound protocol.
func (s *wsSurface) navigateFrame(url string) []byte {
	raw, err := bridge.Encode(bridge.Kind("navigate"), map[string]string{"url": url})
	if err != nil {
		return nil
	}
	return raw
}

// Send queues or delivers one outbound bridge frame.
func (s *wsSurface) Send(raw []byte) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return surface.ErrNotAttached
	}
	conn := s.conn
	if conn == nil {
		s.queueLocked(raw)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *wsSurface) push(raw []byte) {
	if raw == nil {
		return
	}
	_ = s.Send(raw)
}

func (s *wsSurface) queueLocked(raw []byte) {
	if len(s.pending) >= maxPending {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, raw)
}

// attach binds a client connection and flushes queued frames. Holding
// the write lock across the flush keeps queued frames ahead of any
// Send that races the attach.
func (s *wsSurface) attach(conn *websocket.Conn) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return surface.ErrNotAttached
	}
	if prev := s.conn; prev != nil {
		prev.Close()
	}
	s.conn = conn
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, raw := range pending {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return err
		}
	}
	return nil
}

// drop unbinds a client connection, if it is still the current one.
func (s *wsSurface) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// Detach removes the surface from presentation. The channel stays up;
// frames sent while detached queue for the next attach.
func (s *wsSurface) Detach() {}

// Release tears the surface down for good.
func (s *wsSurface) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	conn := s.conn
	s.conn = nil
	s.pending = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.factory.drop(s.id)
}
