// Package types provides shared data structures for the mini-app engine.
//
// This package defines the core value types exchanged between the
// lifecycle engine, the bridge, and host-facing APIs:
//
//   - SessionIdentity: stable dedup key for sessions and cached surfaces
//   - LaunchRequest: validated, immutable launch description
//   - AppMetadata: resolved mini-app description
//   - UIIntent: restorable presentation state mirrored from the bridge
//   - Theme, Viewport, SafeArea: host presentation values
//
// It also carries the engine-wide error taxonomy (ValidationError,
// DecodeError, ResolutionError, CapabilityError).
//
// Example Usage:
//
//	req, err := types.NewLaunchRequest().
//	    BotApp("durger_king_bot", "shop").
//	    StartParam("promo").
//	    Mode(types.ModeModal).
//	    Build()
package types
