// Package dialogue defines the core value types shared by the capture
// pipeline: participant identities, captured exchanges, raw utterance events,
// and the error taxonomy used across the engine.
package dialogue

import (
	"strconv"
	"strings"
)

// DefaultSpeakerName is used when the event source cannot supply the name of
// the initiating speaker.
const DefaultSpeakerName = "Player"

// DefaultResponderName is used when a replayed exchange carries no responder
// name.
const DefaultResponderName = "NPC"

// ParticipantID is the stable identity of an in-world actor. It is an opaque
// unsigned key; the only operations the engine performs on it are equality
// and decimal formatting.
type ParticipantID uint32

// String returns the decimal representation used as the persisted map key.
func (p ParticipantID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// ParseParticipantID parses the decimal form produced by [ParticipantID.String].
func ParseParticipantID(s string) (ParticipantID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return ParticipantID(v), nil
}

// Exchange is one captured speaker line paired with the responder's reply.
type Exchange struct {
	// SpeakerText is the initiating line. Never empty.
	SpeakerText string

	// SpeakerName is the display name of the initiator.
	SpeakerName string

	// ResponseText is the space-joined response, possibly empty.
	ResponseText string

	// ResponderName is the display name of the responding participant.
	ResponderName string

	// Timestamp is the simulation time in hours at capture. Informational only.
	Timestamp float64
}

// Utterance is a raw, unfiltered event as reported by the event source.
type Utterance struct {
	SpeakerText       string
	SpeakerName       string
	ResponderID       ParticipantID
	ResponderName     string
	ResponseFragments []string
	Timestamp         float64

	// SayOnce is set when the source marks the line as one-time-only. Such
	// greetings are never treated as generic.
	SayOnce bool
}

// JoinFragments joins response fragments with single spaces, skipping empty
// fragments.
func JoinFragments(fragments []string) string {
	var b strings.Builder
	for _, f := range fragments {
		if f == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f)
	}
	return b.String()
}
