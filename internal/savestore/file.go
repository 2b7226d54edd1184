package savestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// slotExt is appended to slot names to form file names.
const slotExt = ".vdsave"

// FileStore keeps each slot in its own file inside a directory.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("savestore: file store directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("savestore: create %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes data to a temporary file and renames it over the slot file so
// readers never observe a partial write.
func (s *FileStore) Put(_ context.Context, slot string, data []byte) error {
	if err := ValidateSlot(slot); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, slot+".*.tmp")
	if err != nil {
		return fmt.Errorf("savestore: put %q: %w", slot, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("savestore: put %q: %w", slot, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("savestore: put %q: %w", slot, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("savestore: put %q: %w", slot, err)
	}
	if err := os.Rename(tmp.Name(), s.path(slot)); err != nil {
		return fmt.Errorf("savestore: put %q: %w", slot, err)
	}
	return nil
}

// Get reads the slot file.
func (s *FileStore) Get(_ context.Context, slot string) ([]byte, error) {
	if err := ValidateSlot(slot); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(slot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("savestore: get %q: %w", slot, err)
	}
	return data, nil
}

// Ping checks that the directory still exists.
func (s *FileStore) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("savestore: ping: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("savestore: ping: %q is not a directory", s.dir)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(slot string) string {
	return filepath.Join(s.dir, slot+slotExt)
}
