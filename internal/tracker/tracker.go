// Package tracker mirrors the externally managed session membership.
//
// The tracker never decides when a session starts or ends. It stores the
// most recent participant set reported by the membership source and answers
// membership queries against it. A session is active iff the set is
// non-empty.
package tracker

import (
	"slices"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
)

// Tracker holds the latest session snapshot. It is not safe for concurrent
// use; the capture engine serialises access.
type Tracker struct {
	members map[dialogue.ParticipantID]struct{}
}

// New returns a Tracker with no active session.
func New() *Tracker {
	return &Tracker{members: make(map[dialogue.ParticipantID]struct{})}
}

// UpdateSnapshot replaces the tracked set with ids and returns the
// participants that were not present before, in ascending order.
func (t *Tracker) UpdateSnapshot(ids []dialogue.ParticipantID) []dialogue.ParticipantID {
	next := make(map[dialogue.ParticipantID]struct{}, len(ids))
	var joined []dialogue.ParticipantID
	for _, id := range ids {
		if _, dup := next[id]; dup {
			continue
		}
		next[id] = struct{}{}
		if _, was := t.members[id]; !was {
			joined = append(joined, id)
		}
	}
	t.members = next
	slices.Sort(joined)
	return joined
}

// Add inserts id and reports whether it was newly added.
func (t *Tracker) Add(id dialogue.ParticipantID) bool {
	if _, ok := t.members[id]; ok {
		return false
	}
	t.members[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (t *Tracker) Remove(id dialogue.ParticipantID) bool {
	if _, ok := t.members[id]; !ok {
		return false
	}
	delete(t.members, id)
	return true
}

// IsSessionActive reports whether any participant is tracked.
func (t *Tracker) IsSessionActive() bool { return len(t.members) > 0 }

// Contains reports whether id is in the current snapshot.
func (t *Tracker) Contains(id dialogue.ParticipantID) bool {
	_, ok := t.members[id]
	return ok
}

// Clear empties the snapshot.
func (t *Tracker) Clear() {
	t.members = make(map[dialogue.ParticipantID]struct{})
}

// Participants returns the tracked ids in ascending order.
func (t *Tracker) Participants() []dialogue.ParticipantID {
	out := make([]dialogue.ParticipantID, 0, len(t.members))
	for id := range t.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
