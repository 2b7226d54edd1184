package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvMantellaPort     = "MANTELLA_PORT"
	EnvMantellaUsername = "MANTELLA_USERNAME"
	EnvMantellaPassword = "MANTELLA_PASSWORD"
	EnvPostgresDSN      = "VANILLA_DIALOGUE_POSTGRES_DSN"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. A missing file yields
// [Default] with a warning; a present but invalid file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return finish(Default(), os.LookupEnv)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := fromBytes(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Environment overrides are not applied.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	return finish(cfg, func(string) (string, bool) { return "", false })
}

func fromBytes(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return finish(cfg, lookup)
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

func finish(cfg *Config, lookup func(string) (string, bool)) (*Config, error) {
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides transport credentials and the PostgreSQL DSN from the
// environment. lookup is usually [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMantellaPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", EnvMantellaPort, v, err)
		}
		cfg.Mantella.Port = port
	}
	if v, ok := lookup(EnvMantellaUsername); ok {
		cfg.Mantella.Username = v
	}
	if v, ok := lookup(EnvMantellaPassword); ok {
		cfg.Mantella.Password = v
	}
	if v, ok := lookup(EnvPostgresDSN); ok && v != "" {
		cfg.Persistence.PostgresDSN = v
	}
	return nil
}

// Normalize clamps values that have a safe lower bound.
func Normalize(cfg *Config) {
	if cfg.Dialogue.FilterShortRepliesMinWordCount < 1 {
		slog.Warn("dialogue.FilterShortRepliesMinWordCount below 1, clamping",
			"value", cfg.Dialogue.FilterShortRepliesMinWordCount)
		cfg.Dialogue.FilterShortRepliesMinWordCount = 1
	}
	if cfg.Dialogue.PlayerName == "" {
		cfg.Dialogue.PlayerName = "Player"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.LogRotation; r.MaxSizeMB < 0 || r.MaxBackups < 0 || r.MaxAgeDays < 0 {
		errs = append(errs, errors.New("server.log_rotation values must not be negative"))
	}

	// Mantella
	m := cfg.Mantella
	if m.BaseURL == "" {
		errs = append(errs, errors.New("mantella.base_url is required"))
	}
	if m.Port < 1 || m.Port > 65535 {
		errs = append(errs, fmt.Errorf("mantella.port %d is out of range [1, 65535]", m.Port))
	}
	if m.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("mantella.timeout %s must be positive", m.Timeout))
	}
	if m.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("mantella.queue_size %d must be at least 1", m.QueueSize))
	}
	if m.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("mantella.breaker.max_failures %d must not be negative", m.Breaker.MaxFailures))
	}
	if m.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("mantella.breaker.reset_timeout %s must not be negative", m.Breaker.ResetTimeout))
	}

	// Persistence
	p := cfg.Persistence
	if !p.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("persistence.backend %q is invalid; valid values: file, sqlite, postgres", p.Backend))
	}
	if (p.Backend == BackendFile || p.Backend == BackendSQLite) && p.Path == "" {
		errs = append(errs, fmt.Errorf("persistence.path is required for backend %q", p.Backend))
	}
	if p.Backend == BackendPostgres && p.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("persistence.postgres_dsn is required for backend %q (or set %s)", p.Backend, EnvPostgresDSN))
	}
	if p.Slot == "" {
		errs = append(errs, errors.New("persistence.slot is required"))
	}
	if p.Autosave != "" {
		if _, err := cron.ParseStandard(p.Autosave); err != nil {
			errs = append(errs, fmt.Errorf("persistence.autosave %q: %w", p.Autosave, err))
		}
	}

	return errors.Join(errs...)
}
