// Package main is the entry point for the embedkit server.
//
// The server wraps the embedding engine in a host-facing HTTP API:
// launch, preload, and control of mini-app sessions, metadata lookup,
// cache management, and the per-session WebSocket bridge channel that
// embedded content speaks the event protocol over.
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML overlay via -config
//   - Defaults for development
//
// Usage:
//
//	./server
//	./server -config config.yaml
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown, dismissing every session
package main
