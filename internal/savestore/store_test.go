package savestore_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/config"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/savestore"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s savestore.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, savestore.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	first := []byte("HIST\x01\x00\x00\x00first")
	if err := s.Put(ctx, "default", first); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "default")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Errorf("Get = %q, want %q", got, first)
	}

	second := []byte("second")
	if err := s.Put(ctx, "default", second); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err = s.Get(ctx, "default")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Errorf("Get after overwrite = %q, want %q", got, second)
	}

	if err := s.Put(ctx, "empty", nil); err != nil {
		t.Fatalf("Put empty: %v", err)
	}
	if got, err := s.Get(ctx, "empty"); err != nil || len(got) != 0 {
		t.Errorf("Get(empty) = %q, %v", got, err)
	}

	if err := s.Put(ctx, "../escape", first); err == nil {
		t.Error("Put with path separator should fail")
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	s, err := savestore.NewFileStore(filepath.Join(t.TempDir(), "saves"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	s, err := savestore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := savestore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Put(ctx, "default", []byte("kept")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Close()

	s, err = savestore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "default")
	if err != nil || string(got) != "kept" {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.PersistenceConfig
		wantErr bool
	}{
		{name: "file", cfg: config.PersistenceConfig{Backend: config.BackendFile, Path: filepath.Join(dir, "files")}},
		{name: "sqlite", cfg: config.PersistenceConfig{Backend: config.BackendSQLite, Path: filepath.Join(dir, "db.sqlite")}},
		{name: "postgres without dsn", cfg: config.PersistenceConfig{Backend: config.BackendPostgres}, wantErr: true},
		{name: "unknown", cfg: config.PersistenceConfig{Backend: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := savestore.Open(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					s.Close()
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			s.Close()
		})
	}
}

func TestValidateSlot(t *testing.T) {
	t.Parallel()
	tests := []struct {
		slot string
		ok   bool
	}{
		{"default", true},
		{"slot-1.autosave", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		err := savestore.ValidateSlot(tt.slot)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateSlot(%q) = %v, want ok=%v", tt.slot, err, tt.ok)
		}
	}
}
