// Package config provides the configuration schema, loader, hot-reload
// watcher, and diffing for the vanilla dialogue service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Backend selects where persisted dialogue state is stored.
type Backend string

const (
	// BackendFile stores one file per slot in a directory.
	BackendFile Backend = "file"

	// BackendSQLite stores slots in a local SQLite database.
	BackendSQLite Backend = "sqlite"

	// BackendPostgres stores slots in PostgreSQL.
	BackendPostgres Backend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendFile, BackendSQLite, BackendPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Mantella    MantellaConfig    `yaml:"mantella"`
	Dialogue    DialogueConfig    `yaml:"dialogue"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8099").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, duplicates logs into a size-rotated file.
	LogFile string `yaml:"log_file"`

	LogRotation LogRotationConfig `yaml:"log_rotation"`
}

// LogRotationConfig bounds the size and retention of the log file.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// MantellaConfig locates the remote dialogue service.
type MantellaConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Port     int           `yaml:"port"`
	Route    string        `yaml:"route"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`

	// QueueSize bounds the number of messages waiting for delivery.
	QueueSize int `yaml:"queue_size"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the remote service.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DialogueConfig holds the capture rules. Key names match the plugin's
// configuration file.
type DialogueConfig struct {
	EnableVanillaDialogueTracking  bool     `yaml:"EnableVanillaDialogueTracking"`
	FilterShortReplies             bool     `yaml:"FilterShortReplies"`
	FilterShortRepliesMinWordCount int      `yaml:"FilterShortRepliesMinWordCount"`
	FilterNonUniqueGreetings       bool     `yaml:"FilterNonUniqueGreetings"`
	DebugLogVanillaDialogue        bool     `yaml:"DebugLogVanillaDialogue"`
	PlayerLineBlacklist            []string `yaml:"PlayerLineBlacklist"`
	NPCLineBlacklist               []string `yaml:"NPCLineBlacklist"`
	NPCNamesToIgnore               []string `yaml:"NPCNamesToIgnore"`
	GenericGreetings               []string `yaml:"GenericGreetings"`

	// RetainNonParticipantLines keeps a buffered copy of lines forwarded
	// live while the responder is outside the active session.
	RetainNonParticipantLines bool `yaml:"RetainNonParticipantLines"`

	// PlayerName replaces an empty speaker name.
	PlayerName string `yaml:"PlayerName"`
}

// PersistenceConfig selects and configures the save slot backend.
type PersistenceConfig struct {
	Backend Backend `yaml:"backend"`

	// Path is a directory for the file backend or a database file for sqlite.
	Path string `yaml:"path"`

	PostgresDSN string `yaml:"postgres_dsn"`

	// Slot names the record written by save and read by load.
	Slot string `yaml:"slot"`

	// Autosave is a 5-field cron expression. Empty disables autosave.
	Autosave string `yaml:"autosave"`
}

// Default returns the configuration used for absent keys and when no file
// exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8099",
			LogLevel:   LogInfo,
			LogRotation: LogRotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
			},
		},
		Mantella: MantellaConfig{
			BaseURL:   "http://localhost",
			Port:      4999,
			Route:     "add_message",
			Username:  "user",
			Password:  "pass",
			Timeout:   3 * time.Second,
			QueueSize: 256,
			Breaker: BreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Dialogue: DialogueConfig{
			EnableVanillaDialogueTracking:  true,
			FilterShortReplies:             true,
			FilterShortRepliesMinWordCount: 4,
			FilterNonUniqueGreetings:       true,
			PlayerLineBlacklist: []string{
				"Stage1Hello",
				"I want you to..",
				"Goodbye. (Remove from Mantella conversation)",
			},
			NPCLineBlacklist:          []string{"Can I help you?", "Farewell", "See you later"},
			NPCNamesToIgnore:          []string{},
			GenericGreetings:          []string{"Hello", "CYRGenericHello"},
			RetainNonParticipantLines: true,
			PlayerName:                "Player",
		},
		Persistence: PersistenceConfig{
			Backend:  BackendFile,
			Path:     "saves",
			Slot:     "default",
			Autosave: "*/5 * * * *",
		},
	}
}
