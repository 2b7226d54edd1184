package savestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
)

// Slot binds a [Store] to one slot name and remembers whether the last
// operation failed, so readiness checks can report a broken backend without
// the event path ever seeing an error.
type Slot struct {
	store   Store
	name    string
	metrics *observe.Metrics
	failing atomic.Bool
}

// NewSlot returns a Slot over store. A nil metrics uses
// [observe.DefaultMetrics].
func NewSlot(store Store, name string, metrics *observe.Metrics) *Slot {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Slot{store: store, name: name, metrics: metrics}
}

// Name returns the slot name.
func (s *Slot) Name() string { return s.name }

// Failing reports whether the most recent read or write failed.
func (s *Slot) Failing() bool { return s.failing.Load() }

// Write stores data in the slot.
func (s *Slot) Write(ctx context.Context, data []byte) error {
	err := s.store.Put(ctx, s.name, data)
	s.record(ctx, "store_write", err)
	if err != nil {
		return fmt.Errorf("savestore: write slot %q: %w", s.name, err)
	}
	return nil
}

// Read returns the slot contents. A slot that was never written yields
// [ErrNotFound] and is not counted as a failure.
func (s *Slot) Read(ctx context.Context) ([]byte, error) {
	data, err := s.store.Get(ctx, s.name)
	if errors.Is(err, ErrNotFound) {
		s.failing.Store(false)
		s.metrics.RecordPersist(ctx, "store_read", "not_found")
		return nil, err
	}
	s.record(ctx, "store_read", err)
	if err != nil {
		return nil, fmt.Errorf("savestore: read slot %q: %w", s.name, err)
	}
	return data, nil
}

// Ping checks the backend and updates the failing flag.
func (s *Slot) Ping(ctx context.Context) error {
	err := s.store.Ping(ctx)
	s.failing.Store(err != nil)
	return err
}

func (s *Slot) record(ctx context.Context, op string, err error) {
	s.failing.Store(err != nil)
	status := "ok"
	if err != nil {
		status = "error"
		observe.Logger(ctx).Error("save slot operation failed", "op", op, "slot", s.name, "err", err)
	}
	s.metrics.RecordPersist(ctx, op, status)
}
