package types

import "fmt"

// CodeAppRevoked is the distinguished resolution error class for apps
// that were revoked or never existed. Sessions hitting it are
// unrecoverable and dismissed silently.
const CodeAppRevoked = 460

// ValidationError reports a malformed LaunchRequest. It is raised at
// construction and never reaches the lifecycle.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid launch request: %s: %s", e.Field, e.Reason)
}

// DecodeErrorKind classifies bridge decode failures.
type DecodeErrorKind int

const (
	// DecodeUnrecognized marks an unknown eventType.
	DecodeUnrecognized DecodeErrorKind = iota
	// DecodeMalformedPayload marks a known eventType with a payload that
	// failed validation.
	DecodeMalformedPayload
)

// DecodeError reports a single undecodable bridge message. It is logged
// and dropped by the dispatcher, never propagated across the channel.
type DecodeError struct {
	Kind      DecodeErrorKind
	EventType string
	Reason    string
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case DecodeUnrecognized:
		return fmt.Sprintf("unrecognized bridge event %q", e.EventType)
	default:
		return fmt.Sprintf("malformed payload for %q: %s", e.EventType, e.Reason)
	}
}

// ResolutionError reports a metadata resolution failure as the (code,
// message) pair surfaced by the resolver service.
type ResolutionError struct {
	Code    int
	Message string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed: %d %s", e.Code, e.Message)
}

// Revoked reports whether the error belongs to the revoked/not-found
// class that forces immediate silent dismissal.
func (e *ResolutionError) Revoked() bool { return e.Code == CodeAppRevoked }

// CapabilityError reports a failed or denied host capability call. It is
// resolved as a negative protocol response, never thrown across the
// bridge.
type CapabilityError struct {
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
