// Package filter decides whether a captured exchange is noise.
//
// The rules are purely lexical and evaluated in a fixed order; the first rule
// that matches determines the [Reason]. A [Filter] is immutable after
// construction and safe for concurrent use.
package filter

import "strings"

// Reason identifies which rule suppressed an exchange.
type Reason int

const (
	// ReasonNone means the exchange is forwardable.
	ReasonNone Reason = iota

	// ReasonDuplicate means the speaker text repeats the previous one.
	ReasonDuplicate

	// ReasonPlayerBlacklist means the speaker text is blacklisted.
	ReasonPlayerBlacklist

	// ReasonNPCBlacklist means the response text is blacklisted.
	ReasonNPCBlacklist

	// ReasonGenericGreeting means the speaker text is a repeatable greeting.
	ReasonGenericGreeting

	// ReasonShortReply means the response has too few words.
	ReasonShortReply
)

// String returns the metric/log label for r.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDuplicate:
		return "duplicate"
	case ReasonPlayerBlacklist:
		return "player_blacklist"
	case ReasonNPCBlacklist:
		return "npc_blacklist"
	case ReasonGenericGreeting:
		return "generic_greeting"
	case ReasonShortReply:
		return "short_reply"
	default:
		return "unknown"
	}
}

// Suppressed reports whether r is any reason other than [ReasonNone].
func (r Reason) Suppressed() bool { return r != ReasonNone }

// Rules is the configuration the filter evaluates against.
type Rules struct {
	PlayerLineBlacklist []string
	NPCLineBlacklist    []string

	// GenericGreetings are the greeting tokens suppressed when
	// FilterNonUniqueGreetings is on.
	GenericGreetings         []string
	FilterNonUniqueGreetings bool

	FilterShortReplies bool

	// MinWordCount is the smallest response word count that passes the short
	// reply rule. Values below 1 are treated as 1.
	MinWordCount int
}

// Input is one exchange to classify.
type Input struct {
	SpeakerText  string
	ResponseText string

	// SayOnce marks a line the source flags as one-time-only.
	SayOnce bool

	// LastSpeakerText is the current dedup cursor value. Empty means no
	// exchange has been processed yet.
	LastSpeakerText string
}

// Filter is a compiled [Rules] set.
type Filter struct {
	rules     Rules
	players   map[string]struct{}
	npcs      map[string]struct{}
	greetings map[string]struct{}
	minWords  int
}

// New compiles rules into a [Filter].
func New(rules Rules) *Filter {
	f := &Filter{
		rules:     rules,
		players:   toSet(rules.PlayerLineBlacklist),
		npcs:      toSet(rules.NPCLineBlacklist),
		greetings: toSet(rules.GenericGreetings),
		minWords:  rules.MinWordCount,
	}
	if f.minWords < 1 {
		f.minWords = 1
	}
	return f
}

// Rules returns the rules f was compiled from.
func (f *Filter) Rules() Rules { return f.rules }

// Decide evaluates the rules in order and returns the first matching reason,
// or [ReasonNone]. Blacklist matches are exact and case-sensitive.
func (f *Filter) Decide(in Input) Reason {
	if in.LastSpeakerText != "" && in.SpeakerText == in.LastSpeakerText {
		return ReasonDuplicate
	}
	if _, ok := f.players[in.SpeakerText]; ok {
		return ReasonPlayerBlacklist
	}
	if _, ok := f.npcs[in.ResponseText]; ok {
		return ReasonNPCBlacklist
	}
	if f.rules.FilterNonUniqueGreetings && !in.SayOnce && f.isGreeting(in.SpeakerText) {
		return ReasonGenericGreeting
	}
	if f.rules.FilterShortReplies && WordCount(in.ResponseText) < f.minWords {
		return ReasonShortReply
	}
	return ReasonNone
}

// ShouldSuppress is shorthand for Decide(in).Suppressed().
func (f *Filter) ShouldSuppress(in Input) bool {
	return f.Decide(in).Suppressed()
}

// isGreeting reports whether text is a greeting token, either in full or by
// its leading word with trailing punctuation removed.
func (f *Filter) isGreeting(text string) bool {
	if _, ok := f.greetings[text]; ok {
		return true
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := strings.TrimRight(fields[0], ",.!?")
	_, ok := f.greetings[first]
	return ok
}

// WordCount returns the number of whitespace-delimited words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}
