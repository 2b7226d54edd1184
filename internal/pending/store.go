// Package pending holds exchanges captured while their responder was not part
// of an active session.
//
// The store keeps one FIFO sequence per participant. Entries are created
// lazily by [Store.Append] and only ever disappear in full through
// [Store.TakeAll] or a wholesale [Store.ReplaceAll].
//
// A Store is not safe for concurrent use; its owner (the capture engine)
// serialises access.
package pending

import "github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"

// Snapshot is a point-in-time copy of the store contents.
type Snapshot map[dialogue.ParticipantID][]dialogue.Exchange

// Store is an ordered-per-key buffer of exchanges awaiting a session.
type Store struct {
	entries map[dialogue.ParticipantID][]dialogue.Exchange
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[dialogue.ParticipantID][]dialogue.Exchange)}
}

// Append adds e to the end of id's sequence, creating it if absent.
// Duplicates are stored verbatim.
func (s *Store) Append(id dialogue.ParticipantID, e dialogue.Exchange) {
	s.entries[id] = append(s.entries[id], e)
}

// TakeAll removes and returns the full sequence for id. ok is false when the
// store holds nothing for id.
func (s *Store) TakeAll(id dialogue.ParticipantID) (exchanges []dialogue.Exchange, ok bool) {
	exchanges, ok = s.entries[id]
	if !ok {
		return nil, false
	}
	delete(s.entries, id)
	return exchanges, true
}

// Peek returns a copy of id's sequence without removing it.
func (s *Store) Peek(id dialogue.ParticipantID) []dialogue.Exchange {
	src, ok := s.entries[id]
	if !ok {
		return nil
	}
	out := make([]dialogue.Exchange, len(src))
	copy(out, src)
	return out
}

// Snapshot returns a deep copy suitable for serialisation.
func (s *Store) Snapshot() Snapshot {
	out := make(Snapshot, len(s.entries))
	for id, seq := range s.entries {
		cp := make([]dialogue.Exchange, len(seq))
		copy(cp, seq)
		out[id] = cp
	}
	return out
}

// ReplaceAll discards the current contents and installs a copy of snap.
// Keys with empty sequences are dropped.
func (s *Store) ReplaceAll(snap Snapshot) {
	entries := make(map[dialogue.ParticipantID][]dialogue.Exchange, len(snap))
	for id, seq := range snap {
		if len(seq) == 0 {
			continue
		}
		cp := make([]dialogue.Exchange, len(seq))
		copy(cp, seq)
		entries[id] = cp
	}
	s.entries = entries
}

// Len returns the number of participants with pending exchanges.
func (s *Store) Len() int { return len(s.entries) }

// Count returns the total number of pending exchanges across participants.
func (s *Store) Count() int {
	n := 0
	for _, seq := range s.entries {
		n += len(seq)
	}
	return n
}
