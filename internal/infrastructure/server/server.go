// Package server wires configuration, the engine, and the host-facing
// API into one runnable HTTP server.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/embedkit/embedkit/internal/api/http"
	"github.com/embedkit/embedkit/internal/api/middleware"
	"github.com/embedkit/embedkit/internal/api/ws"
	"github.com/embedkit/embedkit/internal/capability"
	"github.com/embedkit/embedkit/internal/domain/lifecycle"
	"github.com/embedkit/embedkit/internal/engine"
	"github.com/embedkit/embedkit/internal/infrastructure/config"
	"github.com/embedkit/embedkit/internal/infrastructure/logging"
	"github.com/embedkit/embedkit/internal/infrastructure/monitoring"
	"github.com/embedkit/embedkit/internal/metadata"
	"github.com/embedkit/embedkit/internal/surface"
)

// Options are optional overrides for NewServer. Zero values take the
// production defaults.
type Options struct {
	Resolver     lifecycle.Resolver
	Surfaces     surface.Factory
	Capabilities capability.Provider
	Events       lifecycle.Events
	ThemeParams  map[string]string
}

// Server runs the host-facing API over one engine instance.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	engine  *engine.Engine
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer builds a fully wired server from configuration.
func NewServer(cfg *config.Config, opts Options) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("initializing embedkit server",
		zap.String("host_app", cfg.Engine.HostAppName),
		zap.String("port", cfg.Server.Port),
		zap.String("resolver", cfg.Resolver.BaseURL),
	)

	metrics := monitoring.NewMetrics()

	resolver := opts.Resolver
	if resolver == nil {
		resolver = metadata.New(cfg.Resolver, logger)
	}

	var wsSurfaces *ws.Surfaces
	surfaces := opts.Surfaces
	if surfaces == nil {
		wsSurfaces = ws.NewSurfaces()
		surfaces = wsSurfaces
	}

	eng := engine.New(engine.Options{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Resolver:     resolver,
		Surfaces:     surfaces,
		Events:       opts.Events,
		Capabilities: opts.Capabilities,
		ThemeParams:  opts.ThemeParams,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := apihttp.NewHandlers(eng, logger, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Session lifecycle
	router.POST("/sessions/launch", handlers.Launch)
	router.POST("/sessions/preload", handlers.Preload)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/minimized", handlers.GetMinimized)
	router.GET("/sessions/:id", handlers.GetSession)
	router.DELETE("/sessions/:id", handlers.Dismiss)
	router.POST("/sessions/:id/confirm-dismiss", handlers.ConfirmDismiss)
	router.POST("/sessions/:id/cancel-dismiss", handlers.CancelDismiss)
	router.POST("/sessions/:id/minimize", handlers.Minimize)
	router.POST("/sessions/:id/maximize", handlers.Maximize)
	router.POST("/sessions/:id/expand", handlers.Expand)
	router.POST("/sessions/:id/reload", handlers.Reload)

	// Host chrome events
	router.POST("/sessions/:id/back", handlers.BackPressed)
	router.POST("/sessions/:id/main-button", handlers.MainButtonPressed)
	router.POST("/sessions/:id/settings", handlers.SettingsPressed)

	// Metadata lookup
	router.GET("/apps/:id", handlers.GetInfo)
	router.POST("/apps/batch-info", handlers.BatchGetInfo)

	// Cache and host presentation state
	router.DELETE("/cache", handlers.ClearCache)
	router.PUT("/host/theme", handlers.SetTheme)
	router.PUT("/host/viewport", handlers.SetViewport)
	router.PUT("/host/safe-area", handlers.SetSafeArea)

	// Bridge channel
	if wsSurfaces != nil {
		wsHandler := ws.NewHandler(eng, wsSurfaces, logger, metrics)
		router.GET("/sessions/:id/bridge", wsHandler.HandleConnection)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry(), promhttp.HandlerOpts{},
	)))

	logger.Info("server initialized")

	return &Server{
		router:  router,
		engine:  eng,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Engine exposes the wired engine, mainly for embedding hosts and tests.
func (s *Server) Engine() *engine.Engine { return s.engine }

// Router exposes the gin router for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts the server down, destroying every session.
func (s *Server) Close() error {
	s.logger.Info("shutting down")

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}
	s.engine.Shutdown()
	s.logger.Sync()
	return nil
}
