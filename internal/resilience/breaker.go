// Package resilience guards calls to the remote dialogue service.
//
// [Breaker] is a three-state circuit breaker. After MaxFailures consecutive
// failures it opens and rejects calls with [ErrOpen] until ResetTimeout has
// passed; then a single probe call is let through. A successful probe closes
// the breaker, a failed one re-opens it. Nothing is retried: every call is
// attempted at most once.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
)

// ErrOpen is returned by [Breaker.Do] without calling the function while the
// breaker is open or a probe is already in flight.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name used in logs and health output.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes a [Breaker].
type Config struct {
	// Name labels log lines and health checks. Default: "remote".
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange, if set, is called after each transition without the
	// breaker's lock held.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Stats is a point-in-time view of a [Breaker].
type Stats struct {
	State               State
	ConsecutiveFailures int

	// OpenedAt is when the breaker last opened. Zero while it never has.
	OpenedAt time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker. Zero config fields take their defaults.
func NewBreaker(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do calls fn unless the breaker rejects the call. An error caused only by
// the caller's own cancellation does not count as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx)
	failed := err != nil && ctx.Err() == nil
	b.settle(ctx, probe, failed, err)
	return err
}

// State reports the current state. An open breaker whose reset timeout has
// passed reports half-open, since the next call will probe.
func (b *Breaker) State() State {
	return b.Stats().State
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{State: b.state, ConsecutiveFailures: b.failures, OpenedAt: b.openedAt}
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		s.State = StateHalfOpen
	}
	return s
}

// Reset closes the breaker and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state, b.failures, b.probing = StateClosed, 0, false
	b.mu.Unlock()
	b.changed(from, StateClosed)
}

// admit decides whether a call may proceed and whether it is the probe.
func (b *Breaker) admit(ctx context.Context) (probe bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		b.mu.Unlock()
		observe.Logger(ctx).Info("circuit breaker probing remote service", "name", b.cfg.Name)
		b.changed(from, StateHalfOpen)
		return true, nil
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false, ErrOpen
		}
		b.probing = true
		b.mu.Unlock()
		return true, nil
	}
	b.mu.Unlock()
	return false, nil
}

func (b *Breaker) settle(ctx context.Context, probe, failed bool, err error) {
	b.mu.Lock()
	from := b.state
	if probe {
		b.probing = false
	}
	switch {
	case !failed && (probe || b.state == StateClosed):
		b.failures = 0
		b.state = StateClosed
	case failed && probe:
		b.state = StateOpen
		b.openedAt = b.cfg.Now()
	case failed:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.state = StateOpen
			b.openedAt = b.cfg.Now()
		}
	}
	to, failures := b.state, b.failures
	b.mu.Unlock()

	if from == to {
		return
	}
	log := observe.Logger(ctx)
	switch to {
	case StateOpen:
		log.Warn("circuit breaker opened, forwarding paused",
			"name", b.cfg.Name, "consecutive_failures", failures, "err", err)
	case StateClosed:
		log.Info("circuit breaker closed, remote service recovered", "name", b.cfg.Name)
	}
	b.changed(from, to)
}

func (b *Breaker) changed(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
