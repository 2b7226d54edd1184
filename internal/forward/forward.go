// Package forward delivers captured dialogue to the remote dialogue service.
//
// [Forwarder] is the single outbound boundary used by the capture engine.
// [Mantella] implements it over HTTP; [Dispatcher] wraps any Forwarder with a
// bounded queue so callers never block on the network. Delivery is
// at-most-once: failures are reported and logged, never retried.
package forward

import "context"

// Kind distinguishes live forwards from replayed backlogs.
type Kind string

const (
	// KindLive is a single exchange forwarded as it happens.
	KindLive Kind = "live"

	// KindReplay is a participant's concatenated backlog.
	KindReplay Kind = "replay"
)

// Message is one payload for the remote service.
type Message struct {
	// Text is the rendered dialogue.
	Text string

	// CharacterName is the responder the dialogue belongs to.
	CharacterName string

	Kind Kind

	// Lines is the number of exchanges contained in Text.
	Lines int
}

// Forwarder delivers a message. Implementations must be safe for concurrent
// use. Errors wrap [dialogue.ErrForwardFailed].
type Forwarder interface {
	Forward(ctx context.Context, msg Message) error
}

// Func adapts an ordinary function to [Forwarder].
type Func func(ctx context.Context, msg Message) error

// Forward calls f(ctx, msg).
func (f Func) Forward(ctx context.Context, msg Message) error { return f(ctx, msg) }
