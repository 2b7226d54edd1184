package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only the dialogue rules and the log level can be applied without restart;
// other changed sections are listed in RestartRequired.
type ConfigDiff struct {
	DialogueChanged bool
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names changed sections that take effect only after a
	// restart (e.g., "mantella", "persistence").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.DialogueChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.DialogueChanged = !dialogueEqual(old.Dialogue, new.Dialogue)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFile != new.Server.LogFile ||
		old.Server.LogRotation != new.Server.LogRotation {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Mantella != new.Mantella {
		d.RestartRequired = append(d.RestartRequired, "mantella")
	}
	if old.Persistence != new.Persistence {
		d.RestartRequired = append(d.RestartRequired, "persistence")
	}
	return d
}

func dialogueEqual(a, b DialogueConfig) bool {
	return a.EnableVanillaDialogueTracking == b.EnableVanillaDialogueTracking &&
		a.FilterShortReplies == b.FilterShortReplies &&
		a.FilterShortRepliesMinWordCount == b.FilterShortRepliesMinWordCount &&
		a.FilterNonUniqueGreetings == b.FilterNonUniqueGreetings &&
		a.DebugLogVanillaDialogue == b.DebugLogVanillaDialogue &&
		a.RetainNonParticipantLines == b.RetainNonParticipantLines &&
		a.PlayerName == b.PlayerName &&
		slices.Equal(a.PlayerLineBlacklist, b.PlayerLineBlacklist) &&
		slices.Equal(a.NPCLineBlacklist, b.NPCLineBlacklist) &&
		slices.Equal(a.NPCNamesToIgnore, b.NPCNamesToIgnore) &&
		slices.Equal(a.GenericGreetings, b.GenericGreetings)
}
