package dialogue

import "errors"

// Error taxonomy. None of these are fatal; the engine logs and swallows them
// on the event path. Wrap with fmt.Errorf and test with errors.Is.
var (
	// ErrInputRejected marks an utterance dropped at ingestion (empty speaker
	// text, ignored responder).
	ErrInputRejected = errors.New("input rejected")

	// ErrSourceUnavailable marks a session-membership source that could not
	// be initialised. It puts the engine into degraded mode.
	ErrSourceUnavailable = errors.New("session source unavailable")

	// ErrMalformedPersistedState is returned when persisted bytes cannot be
	// decoded.
	ErrMalformedPersistedState = errors.New("malformed persisted state")

	// ErrForwardFailed marks a message the remote service did not accept.
	ErrForwardFailed = errors.New("forward failed")
)

// Kind returns the stable log attribute value for one of the taxonomy
// errors, or "internal" for anything else.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInputRejected):
		return "input_rejected"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrMalformedPersistedState):
		return "malformed_persisted_state"
	case errors.Is(err, ErrForwardFailed):
		return "forward_failed"
	default:
		return "internal"
	}
}
