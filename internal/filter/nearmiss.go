package filter

import "github.com/antzucaro/matchr"

// nearMissThreshold is the Jaro-Winkler similarity above which a
// non-matching line is reported as a likely blacklist typo.
const nearMissThreshold = 0.92

// Hint describes a line that almost matched a blacklist entry.
type Hint struct {
	List  string // "player" or "npc"
	Text  string
	Entry string
	Score float64
}

// NearMisses returns blacklist entries that are similar to, but not equal
// to, the exchange's lines. Hints are diagnostic only and never change the
// outcome of [Filter.Decide].
func (f *Filter) NearMisses(in Input) []Hint {
	var hints []Hint
	if h, ok := nearest("player", in.SpeakerText, f.rules.PlayerLineBlacklist); ok {
		hints = append(hints, h)
	}
	if h, ok := nearest("npc", in.ResponseText, f.rules.NPCLineBlacklist); ok {
		hints = append(hints, h)
	}
	return hints
}

func nearest(list, text string, entries []string) (Hint, bool) {
	if text == "" {
		return Hint{}, false
	}
	best := Hint{List: list, Text: text}
	for _, e := range entries {
		if e == text {
			return Hint{}, false
		}
		if s := matchr.JaroWinkler(text, e, false); s > best.Score {
			best.Score = s
			best.Entry = e
		}
	}
	if best.Score < nearMissThreshold {
		return Hint{}, false
	}
	return best, true
}
