package forward

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
)

// DefaultQueueSize is the dispatcher queue capacity when none is configured.
const DefaultQueueSize = 256

// drainTimeout bounds delivery of messages still queued at shutdown.
const drainTimeout = 2 * time.Second

type job struct {
	ctx      context.Context
	msg      Message
	enqueued time.Time
}

// Dispatcher hands messages to a downstream [Forwarder] on a single worker
// goroutine. [Dispatcher.Forward] never blocks: when the queue is full the
// message is dropped and an error wrapping [dialogue.ErrForwardFailed] is
// returned. Messages are delivered in enqueue order.
type Dispatcher struct {
	next    Forwarder
	queue   chan job
	metrics *observe.Metrics
	onError func(Message, error)

	// mu orders enqueues against shutdown: once shut is set under the write
	// lock no Forward can add to the queue, so the final drain sees every
	// message that was accepted.
	mu        sync.RWMutex
	shut      bool
	closeOnce sync.Once
	closed    chan struct{}
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity. Default: [DefaultQueueSize].
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithErrorHandler registers a callback invoked on the worker goroutine for
// every failed delivery.
func WithErrorHandler(fn func(Message, error)) DispatcherOption {
	return func(d *Dispatcher) { d.onError = fn }
}

var _ Forwarder = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher in front of next. Call [Dispatcher.Run]
// to start delivery.
func NewDispatcher(next Forwarder, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		next:   next,
		queue:  make(chan job, DefaultQueueSize),
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Forward enqueues msg. The caller's cancellation does not apply to the
// delivery; its trace context does.
func (d *Dispatcher) Forward(ctx context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.shut {
		d.metrics.RecordForward(ctx, string(msg.Kind), "dropped")
		observe.Logger(ctx).Warn("forward dispatcher closed, message dropped",
			"kind", dialogue.Kind(dialogue.ErrForwardFailed),
			"character", msg.CharacterName,
			"lines", msg.Lines,
		)
		return fmt.Errorf("forward: dispatcher closed: %w", dialogue.ErrForwardFailed)
	}
	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), msg: msg, enqueued: time.Now()}:
		return nil
	default:
		d.metrics.RecordForward(ctx, string(msg.Kind), "dropped")
		observe.Logger(ctx).Warn("forward queue full, message dropped",
			"kind", dialogue.Kind(dialogue.ErrForwardFailed),
			"character", msg.CharacterName,
			"lines", msg.Lines,
		)
		return fmt.Errorf("forward: queue full (%d): %w", cap(d.queue), dialogue.ErrForwardFailed)
	}
}

// Pending returns the number of queued messages.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run delivers queued messages until ctx is cancelled or [Dispatcher.Close]
// is called, then makes a bounded attempt to deliver what is still queued.
// It always returns nil so it can run in an errgroup.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case <-d.closed:
			d.drain()
			return nil
		case j := <-d.queue:
			d.deliver(j.ctx, j)
		}
	}
}

// Close stops accepting new messages and ends Run after draining.
func (d *Dispatcher) Close() error {
	d.shutdown()
	return nil
}

func (d *Dispatcher) shutdown() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.shut = true
		d.mu.Unlock()
		close(d.closed)
	})
}

func (d *Dispatcher) drain() {
	d.shutdown()
	deadline, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case j := <-d.queue:
			if deadline.Err() != nil {
				d.metrics.RecordForward(j.ctx, string(j.msg.Kind), "dropped")
				observe.Logger(j.ctx).Warn("shutdown drain timed out, message dropped",
					"kind", dialogue.Kind(dialogue.ErrForwardFailed),
					"character", j.msg.CharacterName,
					"lines", j.msg.Lines,
				)
				continue
			}
			ctx, stop := context.WithDeadline(j.ctx, mustDeadline(deadline))
			d.deliver(ctx, j)
			stop()
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	start := time.Now()
	err := d.next.Forward(ctx, j.msg)
	elapsed := time.Since(start)

	log := observe.Logger(ctx)
	if err != nil {
		d.metrics.RecordForward(ctx, string(j.msg.Kind), "error")
		log.Warn("forward failed",
			"kind", dialogue.Kind(err),
			"mode", j.msg.Kind,
			"character", j.msg.CharacterName,
			"lines", j.msg.Lines,
			"err", err,
		)
		if d.onError != nil {
			d.onError(j.msg, err)
		}
		return
	}
	d.metrics.RecordForward(ctx, string(j.msg.Kind), "ok")
	d.metrics.ForwardDuration.Record(ctx, elapsed.Seconds())
	log.Debug("forwarded",
		"mode", j.msg.Kind,
		"character", j.msg.CharacterName,
		"lines", j.msg.Lines,
		"queued_for", start.Sub(j.enqueued),
		"duration", elapsed,
	)
}

func mustDeadline(ctx context.Context) time.Time {
	dl, _ := ctx.Deadline()
	return dl
}
