package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsLaunched  prometheus.Counter
	SessionsDismissed *prometheus.CounterVec

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheEntries   prometheus.Gauge

	// Bridge metrics
	BridgeInbound    *prometheus.CounterVec
	BridgeOutbound   *prometheus.CounterVec
	BridgeDropped    *prometheus.CounterVec
	PopupsSuppressed prometheus.Counter

	// Resolver metrics
	ResolveDuration *prometheus.HistogramVec
	ResolveErrors   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry so
// multiple engines (and tests) never collide on registration.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_sessions_active",
			Help: "Sessions not yet destroyed or cached",
		}),
		SessionsLaunched: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_sessions_launched_total",
			Help: "Total sessions launched",
		}),
		SessionsDismissed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_sessions_dismissed_total",
				Help: "Total sessions dismissed, by outcome",
			},
			[]string{"outcome"}, // cached, destroyed
		),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_cache_hits_total",
			Help: "Attach calls served from the surface cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_cache_misses_total",
			Help: "Attach calls that created a fresh surface",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_cache_evictions_total",
			Help: "Cache entries evicted or invalidated",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_cache_entries",
			Help: "Current cached surface count",
		}),

		BridgeInbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_bridge_inbound_total",
				Help: "Inbound bridge messages by kind",
			},
			[]string{"kind"},
		),
		BridgeOutbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_bridge_outbound_total",
				Help: "Outbound bridge messages by kind",
			},
			[]string{"kind"},
		),
		BridgeDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_bridge_dropped_total",
				Help: "Bridge messages dropped at decode, by reason",
			},
			[]string{"reason"}, // unrecognized, malformed
		),
		PopupsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_popups_suppressed_total",
			Help: "Popup requests suppressed by the anti-abuse guard",
		}),

		ResolveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_resolve_duration_seconds",
				Help:    "Metadata resolution duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		ResolveErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_resolve_errors_total",
				Help: "Metadata resolution failures by code",
			},
			[]string{"code"},
		),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_ws_connections",
			Help: "Open bridge WebSocket connections",
		}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
