package pending

import (
	"testing"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
)

func ex(text string) dialogue.Exchange {
	return dialogue.Exchange{SpeakerText: text, SpeakerName: "Player", ResponseText: "reply to " + text, ResponderName: "Lydia"}
}

func TestAppendPreservesOrder(t *testing.T) {
	t.Parallel()

	s := New()
	s.Append(42, ex("E1"))
	s.Append(7, ex("other"))
	s.Append(42, ex("E2"))
	s.Append(42, ex("E3"))

	got, ok := s.TakeAll(42)
	if !ok {
		t.Fatal("TakeAll(42) reported absent")
	}
	want := []string{"E1", "E2", "E3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].SpeakerText != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].SpeakerText, w)
		}
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestTakeAllRemovesEntry(t *testing.T) {
	t.Parallel()

	s := New()
	if _, ok := s.TakeAll(1); ok {
		t.Fatal("TakeAll on empty store reported present")
	}
	s.Append(1, ex("a"))
	if _, ok := s.TakeAll(1); !ok {
		t.Fatal("first TakeAll reported absent")
	}
	if _, ok := s.TakeAll(1); ok {
		t.Fatal("second TakeAll reported present")
	}
}

func TestAppendStoresDuplicates(t *testing.T) {
	t.Parallel()

	s := New()
	s.Append(1, ex("same"))
	s.Append(1, ex("same"))
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	t.Parallel()

	s := New()
	s.Append(1, ex("a"))
	snap := s.Snapshot()
	snap[1][0].SpeakerText = "mutated"
	snap[2] = []dialogue.Exchange{ex("b")}

	if got := s.Peek(1)[0].SpeakerText; got != "a" {
		t.Errorf("store mutated through snapshot: %q", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestReplaceAll(t *testing.T) {
	t.Parallel()

	s := New()
	s.Append(1, ex("old"))
	s.ReplaceAll(Snapshot{
		2: {ex("new")},
		3: {},
	})

	if _, ok := s.TakeAll(1); ok {
		t.Error("old entry survived ReplaceAll")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (empty sequences dropped)", s.Len())
	}
	if got := s.Peek(2); len(got) != 1 || got[0].SpeakerText != "new" {
		t.Errorf("Peek(2) = %+v", got)
	}
}
