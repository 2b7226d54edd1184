// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/mikastamm/mantella-vanilla-dialogue"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture pipeline ---

	// ExchangesCaptured counts exchanges that passed ingestion checks and
	// reached the filter.
	ExchangesCaptured metric.Int64Counter

	// ExchangesSuppressed counts filtered exchanges. Use with attribute:
	//   attribute.String("reason", ...)
	ExchangesSuppressed metric.Int64Counter

	// InputsRejected counts utterances dropped before the filter. Use with
	// attribute:
	//   attribute.String("cause", ...)
	InputsRejected metric.Int64Counter

	// ExchangesBuffered counts exchanges appended to the pending store.
	ExchangesBuffered metric.Int64Counter

	// ExchangesFlushed counts buffered exchanges released by a replay.
	ExchangesFlushed metric.Int64Counter

	// --- Forwarding ---

	// MessagesForwarded counts outbound messages. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	MessagesForwarded metric.Int64Counter

	// ForwardDuration tracks successful delivery latency.
	ForwardDuration metric.Float64Histogram

	// --- State gauges ---

	// PendingParticipants is the number of participants with a backlog.
	PendingParticipants metric.Int64Gauge

	// PendingExchanges is the total number of buffered exchanges.
	PendingExchanges metric.Int64Gauge

	// SessionParticipants is the size of the current session snapshot.
	SessionParticipants metric.Int64Gauge

	// --- Persistence ---

	// PersistOperations counts save/load/revert calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	PersistOperations metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for a
// local HTTP service with a 3s client timeout.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ExchangesCaptured, err = m.Int64Counter("vanilla_dialogue.exchanges.captured",
		metric.WithDescription("Exchanges that reached the filter."),
	); err != nil {
		return nil, err
	}
	if met.ExchangesSuppressed, err = m.Int64Counter("vanilla_dialogue.exchanges.suppressed",
		metric.WithDescription("Exchanges suppressed by the filter, by reason."),
	); err != nil {
		return nil, err
	}
	if met.InputsRejected, err = m.Int64Counter("vanilla_dialogue.inputs.rejected",
		metric.WithDescription("Utterances rejected at ingestion, by cause."),
	); err != nil {
		return nil, err
	}
	if met.ExchangesBuffered, err = m.Int64Counter("vanilla_dialogue.exchanges.buffered",
		metric.WithDescription("Exchanges appended to the pending store."),
	); err != nil {
		return nil, err
	}
	if met.ExchangesFlushed, err = m.Int64Counter("vanilla_dialogue.exchanges.flushed",
		metric.WithDescription("Buffered exchanges released by replay."),
	); err != nil {
		return nil, err
	}
	if met.MessagesForwarded, err = m.Int64Counter("vanilla_dialogue.messages.forwarded",
		metric.WithDescription("Outbound messages by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.PersistOperations, err = m.Int64Counter("vanilla_dialogue.persist.operations",
		metric.WithDescription("Save, load and revert operations by status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ForwardDuration, err = m.Float64Histogram("vanilla_dialogue.forward.duration",
		metric.WithDescription("Latency of successful deliveries to the dialogue service."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.PendingParticipants, err = m.Int64Gauge("vanilla_dialogue.pending.participants",
		metric.WithDescription("Participants with buffered exchanges."),
	); err != nil {
		return nil, err
	}
	if met.PendingExchanges, err = m.Int64Gauge("vanilla_dialogue.pending.exchanges",
		metric.WithDescription("Total buffered exchanges."),
	); err != nil {
		return nil, err
	}
	if met.SessionParticipants, err = m.Int64Gauge("vanilla_dialogue.session.participants",
		metric.WithDescription("Participants in the current session snapshot."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vanilla_dialogue.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSuppressed increments the suppression counter for reason.
func (m *Metrics) RecordSuppressed(ctx context.Context, reason string) {
	m.ExchangesSuppressed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordRejected increments the ingestion rejection counter for cause.
func (m *Metrics) RecordRejected(ctx context.Context, cause string) {
	m.InputsRejected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cause", cause)),
	)
}

// RecordForward increments the forwarded-message counter.
func (m *Metrics) RecordForward(ctx context.Context, mode, status string) {
	m.MessagesForwarded.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordPersist increments the persistence operation counter.
func (m *Metrics) RecordPersist(ctx context.Context, op, status string) {
	m.PersistOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordState sets the pending and session gauges.
func (m *Metrics) RecordState(ctx context.Context, pendingParticipants, pendingExchanges, sessionParticipants int) {
	m.PendingParticipants.Record(ctx, int64(pendingParticipants))
	m.PendingExchanges.Record(ctx, int64(pendingExchanges))
	m.SessionParticipants.Record(ctx, int64(sessionParticipants))
}
