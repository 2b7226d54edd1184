// Package mock provides a test double for [forward.Forwarder].
package mock

import (
	"context"
	"sync"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/forward"
)

// Forwarder records every message it receives. Set Err to make Forward fail;
// set Block to a channel to make Forward wait until it is closed or the
// context ends.
type Forwarder struct {
	mu sync.Mutex

	// Err is returned by every Forward call when non-nil.
	Err error

	// Block, when non-nil, delays Forward until it is closed.
	Block chan struct{}

	// Delivered receives each message after it is recorded, if non-nil.
	Delivered chan forward.Message

	messages []forward.Message
}

var _ forward.Forwarder = (*Forwarder)(nil)

// Forward implements [forward.Forwarder].
func (f *Forwarder) Forward(ctx context.Context, msg forward.Message) error {
	f.mu.Lock()
	block := f.Block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.messages = append(f.messages, msg)
	err := f.Err
	delivered := f.Delivered
	f.mu.Unlock()

	if delivered != nil {
		delivered <- msg
	}
	return err
}

// Messages returns a copy of all recorded messages.
func (f *Forwarder) Messages() []forward.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]forward.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// Texts returns the text of every recorded message.
func (f *Forwarder) Texts() []string {
	msgs := f.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// Reset clears recorded messages.
func (f *Forwarder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}
