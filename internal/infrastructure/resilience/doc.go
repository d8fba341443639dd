// Package resilience provides a circuit breaker for unreliable
// upstreams, used by the metadata resolver so a failing resolution
// backend degrades into fast local errors instead of piling up
// timeouts.
//
// The breaker trips open after a run of consecutive failures, rejects
// traffic for a cooldown, then half-opens and admits a bounded number
// of probes. Probes all succeeding closes it again; any probe failing
// reopens it.
package resilience
