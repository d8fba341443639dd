// Package http exposes the host-facing REST API over the engine:
// launch, preload, session control, metadata lookup, cache management,
// and host presentation-state updates.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/embedkit/embedkit/internal/domain/lifecycle"
	"github.com/embedkit/embedkit/internal/engine"
	"github.com/embedkit/embedkit/internal/infrastructure/logging"
	"github.com/embedkit/embedkit/internal/infrastructure/monitoring"
	"github.com/embedkit/embedkit/internal/shared/types"
)

// Handlers bundles the REST handlers and their dependencies.
type Handlers struct {
	engine  *engine.Engine
	log     *logging.Logger
	metrics *monitoring.Metrics
	started time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(eng *engine.Engine, log *logging.Logger, metrics *monitoring.Metrics) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Handlers{engine: eng, log: log.Named("http"), metrics: metrics, started: time.Now()}
}

// Root describes the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "embedkit",
		"status":  "running",
	})
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).String(),
	})
}

// launchRequest is the wire form of launch and preload calls.
type launchRequest struct {
	AppID        string            `json:"app_id,omitempty"`
	BotID        string            `json:"bot_id,omitempty"`
	AppName      string            `json:"app_name,omitempty"`
	URL          string            `json:"url,omitempty"`
	StartParam   string            `json:"start_param,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	Mode         string            `json:"mode,omitempty"`
	CacheAllowed *bool             `json:"cache_allowed,omitempty"`
	AutoExpand   bool              `json:"auto_expand,omitempty"`
	PeerID       string            `json:"peer_id,omitempty"`
	Owner        string            `json:"owner" binding:"required"`
}

func (r *launchRequest) build() (*types.LaunchRequest, error) {
	b := types.NewLaunchRequest()
	if r.AppID != "" {
		b.App(r.AppID)
	}
	if r.BotID != "" {
		b.BotApp(r.BotID, r.AppName)
	}
	if r.URL != "" {
		b.URL(r.URL)
	}
	if r.StartParam != "" {
		b.StartParam(r.StartParam)
	}
	if len(r.Params) > 0 {
		b.Params(r.Params)
	}
	if r.Mode != "" {
		b.Mode(types.DisplayMode(r.Mode))
	}
	if r.CacheAllowed != nil {
		b.CacheAllowed(*r.CacheAllowed)
	}
	if r.AutoExpand {
		b.AutoExpand(true)
	}
	if r.PeerID != "" {
		b.Peer(types.PeerContext{PeerID: r.PeerID})
	}
	return b.Build()
}

// Launch attaches a session and returns its handle.
func (h *Handlers) Launch(c *gin.Context) {
	var wire launchRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := wire.build()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.engine.Launch(c.Request.Context(), req, wire.Owner)
	if err != nil {
		h.launchError(c, s, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse(s))
}

// launchError maps attach failures. Retryable resolution failures still
// carry the session handle so the host can offer a reload.
func (h *Handlers) launchError(c *gin.Context, s *lifecycle.Session, err error) {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		return
	}
	var rerr *types.ResolutionError
	if errors.As(err, &rerr) {
		status := http.StatusBadGateway
		if rerr.Revoked() {
			status = http.StatusGone
		}
		body := gin.H{"error": rerr.Message, "code": rerr.Code}
		if s != nil {
			body["session"] = sessionResponse(s)
		}
		c.JSON(status, body)
		return
	}
	if errors.Is(err, lifecycle.ErrSuperseded) {
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer launch"})
		return
	}
	h.log.Error("launch failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Preload warms the cache for a launch request.
func (h *Handlers) Preload(c *gin.Context) {
	var wire launchRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := wire.build()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.Preload(c.Request.Context(), req, wire.Owner); err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		var rerr *types.ResolutionError
		if errors.As(err, &rerr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": rerr.Message, "code": rerr.Code})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "preloaded"})
}

func sessionResponse(s *lifecycle.Session) gin.H {
	return gin.H{
		"id":         s.SessionID(),
		"state":      s.State(),
		"surface_id": s.SurfaceID(),
		"metadata":   s.Metadata(),
		"intent":     s.Intent(),
	}
}

// ListSessions snapshots all live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.engine.Sessions()})
}

// GetMinimized returns the session occupying the minimization slot.
func (h *Handlers) GetMinimized(c *gin.Context) {
	handle, ok := h.engine.Minimized()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no minimized session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": handle})
}

// GetSession returns one session.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.engine.Session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sessionResponse(s))
}

// Dismiss requests dismissal. force=true skips close confirmation.
func (h *Handlers) Dismiss(c *gin.Context) {
	force := c.Query("force") == "true"
	silent := c.Query("silent") == "true"
	immediate := c.Query("immediate") == "true"

	proceeded, err := h.engine.Dismiss(c.Param("id"), force, immediate, silent)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if !proceeded {
		c.JSON(http.StatusAccepted, gin.H{"status": "confirmation_pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

// ConfirmDismiss completes a pending close confirmation.
func (h *Handlers) ConfirmDismiss(c *gin.Context) {
	h.sessionOp(c, h.engine.ConfirmDismiss)
}

// CancelDismiss aborts a pending close confirmation.
func (h *Handlers) CancelDismiss(c *gin.Context) {
	h.sessionOp(c, h.engine.CancelDismiss)
}

// Minimize detaches the session into the minimization slot.
func (h *Handlers) Minimize(c *gin.Context) {
	h.sessionOp(c, h.engine.Minimize)
}

// Maximize restores a minimized session.
func (h *Handlers) Maximize(c *gin.Context) {
	h.sessionOp(c, h.engine.Maximize)
}

// Expand grows the session presentation.
func (h *Handlers) Expand(c *gin.Context) {
	h.sessionOp(c, h.engine.Expand)
}

// Reload reloads session content.
func (h *Handlers) Reload(c *gin.Context) {
	err := h.engine.Reload(c.Request.Context(), c.Param("id"))
	h.opResult(c, err)
}

// BackPressed routes a host back press.
func (h *Handlers) BackPressed(c *gin.Context) {
	h.sessionOp(c, h.engine.BackPressed)
}

// MainButtonPressed forwards a main button press.
func (h *Handlers) MainButtonPressed(c *gin.Context) {
	h.sessionOp(c, h.engine.MainButtonPressed)
}

// SettingsPressed forwards a settings selection.
func (h *Handlers) SettingsPressed(c *gin.Context) {
	h.sessionOp(c, h.engine.SettingsPressed)
}

func (h *Handlers) sessionOp(c *gin.Context, op func(string) error) {
	h.opResult(c, op(c.Param("id")))
}

func (h *Handlers) opResult(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, engine.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrNotMinimized), errors.Is(err, lifecycle.ErrNotPresentable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GetInfo resolves metadata for one app without launching it.
func (h *Handlers) GetInfo(c *gin.Context) {
	meta, err := h.engine.GetInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		var rerr *types.ResolutionError
		if errors.As(err, &rerr) && rerr.Revoked() {
			c.JSON(http.StatusGone, gin.H{"error": rerr.Message, "code": rerr.Code})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// BatchGetInfo resolves metadata for several apps with per-id error
// isolation.
func (h *Handlers) BatchGetInfo(c *gin.Context) {
	var body struct {
		IDs []string `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results := h.engine.BatchGetInfo(c.Request.Context(), body.IDs)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// ClearCache force-dismisses every cached surface.
func (h *Handlers) ClearCache(c *gin.Context) {
	h.engine.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// SetTheme updates the host theme and broadcasts it.
func (h *Handlers) SetTheme(c *gin.Context) {
	var theme types.Theme
	if err := c.ShouldBindJSON(&theme); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.SetTheme(theme)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetViewport updates the viewport and broadcasts it.
func (h *Handlers) SetViewport(c *gin.Context) {
	var vp types.Viewport
	if err := c.ShouldBindJSON(&vp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.SetViewport(vp)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetSafeArea updates safe-area insets and broadcasts them.
func (h *Handlers) SetSafeArea(c *gin.Context) {
	var sa types.SafeArea
	if err := c.ShouldBindJSON(&sa); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.SetSafeArea(sa)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
