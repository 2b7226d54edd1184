// Package savestore keeps persisted dialogue state in named slots.
//
// The engine produces an opaque container (see package persist); a [Store]
// only moves those bytes to and from durable storage. Three backends are
// provided: a directory of files, a SQLite database, and PostgreSQL.
package savestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/config"
)

// ErrNotFound is returned by [Store.Get] when the slot has never been written.
var ErrNotFound = errors.New("savestore: slot not found")

// Store reads and writes slot contents. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put replaces the contents of slot.
	Put(ctx context.Context, slot string, data []byte) error

	// Get returns the contents of slot or [ErrNotFound].
	Get(ctx context.Context, slot string) ([]byte, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Open creates the store selected by cfg.
func Open(ctx context.Context, cfg config.PersistenceConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case config.BackendFile, "":
		s, err = NewFileStore(cfg.Path)
	case config.BackendSQLite:
		s, err = OpenSQLite(ctx, cfg.Path)
	case config.BackendPostgres:
		s, err = OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("savestore: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ValidateSlot rejects names that are empty or could escape the file store
// directory.
func ValidateSlot(slot string) error {
	if slot == "" {
		return errors.New("savestore: slot name is empty")
	}
	if strings.ContainsAny(slot, `/\`) || slot == "." || slot == ".." || strings.ContainsRune(slot, 0) {
		return fmt.Errorf("savestore: invalid slot name %q", slot)
	}
	return nil
}
