/*
Package monitoring provides Prometheus metrics for the mini-app engine.

Tracked concerns: HTTP requests against the host-facing API, session
lifecycle (launched, active, dismissed by outcome), surface cache
behavior (hits, misses, evictions), bridge traffic by kind and dropped
messages by reason, popup throttling, metadata resolution latency and
failure codes, and open bridge WebSocket connections.

Each Metrics value owns its registry, so tests and multiple engine
instances never collide on registration:

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
