package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/resilience"
)

// Pinger is a dependency that can verify its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a checker that calls p.Ping.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Flag returns a checker that fails with msg while bad reports true.
func Flag(name, msg string, bad func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if bad() {
			return errors.New(msg)
		}
		return nil
	}}
}

// Breaker returns a checker that fails while cb is open. A half-open breaker
// is reported healthy so that probe traffic can close it.
func Breaker(cb *resilience.Breaker) Checker {
	return Checker{Name: "breaker_" + cb.Name(), Check: func(context.Context) error {
		if s := cb.Stats(); s.State == resilience.StateOpen {
			return fmt.Errorf("circuit open since %s after %d failures",
				s.OpenedAt.Format(time.RFC3339), s.ConsecutiveFailures)
		}
		return nil
	}}
}
