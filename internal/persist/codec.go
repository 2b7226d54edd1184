// Package persist converts the pending store to and from durable bytes.
//
// Two layers are involved. The codec ([Encode], [Decode]) maps a
// [pending.Snapshot] to a JSON object keyed by the decimal participant id,
// each value an ordered array of lines. The container ([EncodeState],
// [DecodeState]) wraps that JSON in a typed, versioned record so it can share
// a save file with records written by other components.
//
// Decoding never touches live state: it returns a fresh snapshot or an error
// wrapping [dialogue.ErrMalformedPersistedState].
package persist

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/pending"
)

// line is the wire shape of one exchange. The first three fields are
// required on decode; names are optional and omitted when empty.
type line struct {
	PlayerQuery   *string  `json:"playerQuery"`
	NPCResponse   *string  `json:"npcResponse"`
	GameTimeHours *float64 `json:"gameTimeHours"`
	PlayerName    string   `json:"playerName,omitempty"`
	NPCName       string   `json:"npcName,omitempty"`
}

// Encode serialises snap. Timestamps must be finite. Text must be valid
// UTF-8: invalid bytes come back as U+FFFD after a round trip.
func Encode(snap pending.Snapshot) ([]byte, error) {
	wire := make(map[string][]line, len(snap))
	for id, seq := range snap {
		lines := make([]line, len(seq))
		for i, e := range seq {
			if math.IsNaN(e.Timestamp) || math.IsInf(e.Timestamp, 0) {
				return nil, fmt.Errorf("persist: encode: participant %s line %d: non-finite timestamp", id, i)
			}
			lines[i] = line{
				PlayerQuery:   ptr(e.SpeakerText),
				NPCResponse:   ptr(e.ResponseText),
				GameTimeHours: ptr(e.Timestamp),
				PlayerName:    e.SpeakerName,
				NPCName:       e.ResponderName,
			}
		}
		wire[id.String()] = lines
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("persist: encode: %w", err)
	}
	return b, nil
}

// Decode parses bytes produced by [Encode]. Any structural problem, a
// missing required field, or a key that is not a canonical uint32 yields an
// error wrapping [dialogue.ErrMalformedPersistedState].
func Decode(b []byte) (pending.Snapshot, error) {
	var wire map[string][]line
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, malformed("decode json: %v", err)
	}
	snap := make(pending.Snapshot, len(wire))
	for key, lines := range wire {
		id, err := dialogue.ParseParticipantID(key)
		if err != nil || id.String() != key {
			return nil, malformed("invalid participant key %q", key)
		}
		seq := make([]dialogue.Exchange, 0, len(lines))
		for i, l := range lines {
			if l.PlayerQuery == nil || l.NPCResponse == nil || l.GameTimeHours == nil {
				return nil, malformed("participant %s line %d: missing required field", key, i)
			}
			seq = append(seq, dialogue.Exchange{
				SpeakerText:   *l.PlayerQuery,
				SpeakerName:   l.PlayerName,
				ResponseText:  *l.NPCResponse,
				ResponderName: l.NPCName,
				Timestamp:     *l.GameTimeHours,
			})
		}
		if len(seq) > 0 {
			snap[id] = seq
		}
	}
	return snap, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("persist: %w: %s", dialogue.ErrMalformedPersistedState, fmt.Sprintf(format, args...))
}

func ptr[T any](v T) *T { return &v }
