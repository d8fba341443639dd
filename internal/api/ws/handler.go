package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/embedkit/embedkit/internal/engine"
	"github.com/embedkit/embedkit/internal/infrastructure/logging"
	"github.com/embedkit/embedkit/internal/infrastructure/monitoring"
	"github.com/embedkit/embedkit/internal/shared/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the host embedding layer
	},
}

// Handler serves the bridge channel: one WebSocket per attached
// surface, carrying the JSON envelope protocol both ways.
type Handler struct {
	engine   *engine.Engine
	surfaces *Surfaces
	log      *logging.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates the bridge channel handler.
func NewHandler(eng *engine.Engine, surfaces *Surfaces, log *logging.Logger, metrics *monitoring.Metrics) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Handler{engine: eng, surfaces: surfaces, log: log.Named("ws"), metrics: metrics}
}

// HandleConnection upgrades GET /sessions/:id/bridge and pumps frames
// between the client and the dispatcher until either side goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	sessionID := c.Param("id")
	s, ok := h.engine.Session(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	surf, ok := h.surfaces.lookup(s.SurfaceID())
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session has no attached surface"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("bridge upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Sessions can reconnect their bridge channel; a per-connection id
	// keeps interleaved log lines attributable.
	connID := uuid.NewString()

	h.metrics.WSConnections.Inc()
	defer h.metrics.WSConnections.Dec()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := surf.attach(conn); err != nil {
		h.log.Warn("bridge attach failed",
			zap.String("session", sessionID),
			zap.Error(err),
		)
		return
	}
	defer surf.dropConn(conn)

	h.log.Info("bridge channel open",
		zap.String("session", sessionID),
		zap.String("surface", surf.ID()),
		zap.String("conn", connID),
	)

	// Close the channel when the session settles.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.Dismissed():
			// WriteControl is safe alongside the surface's frame writes.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session dismissed"),
				time.Now().Add(writeWait))
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("bridge read error", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if err := h.engine.HandleBridge(sessionID, raw); err != nil {
			if errors.Is(err, engine.ErrSessionNotFound) {
				return
			}
			// Decode failures were already logged and counted; the
			// channel itself stays healthy.
			var derr *types.DecodeError
			if !errors.As(err, &derr) {
				h.log.Warn("bridge dispatch failed", zap.String("session", sessionID), zap.Error(err))
			}
		}
	}
}
