package capture

import (
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/filter"
)

// Settings are the hot-swappable dialogue rules of an [Engine].
type Settings struct {
	// Enabled gates capture entirely. When false, CaptureUtterance is a no-op.
	Enabled bool

	// Rules configure the noise filter.
	Rules filter.Rules

	// IgnoreNames lists responder names whose lines are never captured.
	// Matching is exact and case-sensitive.
	IgnoreNames []string

	// RetainNonParticipantLines buffers a copy of lines that are forwarded
	// live while the responder is outside the active session.
	RetainNonParticipantLines bool

	// PlayerName replaces an empty speaker name.
	PlayerName string

	// Debug logs every decision at info level.
	Debug bool
}

// DefaultSettings returns the rules used when no configuration is available.
func DefaultSettings() Settings {
	return Settings{
		Enabled: true,
		Rules: filter.Rules{
			PlayerLineBlacklist: []string{
				"Stage1Hello",
				"I want you to..",
				"Goodbye. (Remove from Mantella conversation)",
			},
			NPCLineBlacklist:         []string{"Can I help you?", "Farewell", "See you later"},
			GenericGreetings:         []string{"Hello", "CYRGenericHello"},
			FilterNonUniqueGreetings: true,
			FilterShortReplies:       true,
			MinWordCount:             4,
		},
		RetainNonParticipantLines: true,
		PlayerName:                dialogue.DefaultSpeakerName,
	}
}

func (s Settings) ignoreSet() map[string]struct{} {
	m := make(map[string]struct{}, len(s.IgnoreNames))
	for _, n := range s.IgnoreNames {
		m[n] = struct{}{}
	}
	return m
}
