package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordSuppressed(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSuppressed(ctx, "duplicate")
	m.RecordSuppressed(ctx, "duplicate")
	m.RecordSuppressed(ctx, "short_reply")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "vanilla_dialogue.exchanges.suppressed", "reason", "duplicate"); got != 2 {
		t.Errorf("duplicate = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "vanilla_dialogue.exchanges.suppressed", "reason", "short_reply"); got != 1 {
		t.Errorf("short_reply = %d, want 1", got)
	}
}

func TestRecordForward(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordForward(ctx, "live", "ok")
	m.RecordForward(ctx, "replay", "error")
	m.RecordForward(ctx, "replay", "error")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "vanilla_dialogue.messages.forwarded", "status", "error"); got != 2 {
		t.Errorf("error = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "vanilla_dialogue.messages.forwarded", "mode", "live"); got != 1 {
		t.Errorf("live = %d, want 1", got)
	}
}

func TestRecordRejectedAndPersist(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRejected(ctx, "empty_speaker_text")
	m.RecordPersist(ctx, "load", "malformed")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "vanilla_dialogue.inputs.rejected", "cause", "empty_speaker_text"); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "vanilla_dialogue.persist.operations", "status", "malformed"); got != 1 {
		t.Errorf("persist = %d, want 1", got)
	}
}

func TestRecordState(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordState(context.Background(), 2, 5, 3)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"vanilla_dialogue.pending.participants", 2},
		{"vanilla_dialogue.pending.exchanges", 5},
		{"vanilla_dialogue.session.participants", 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			g, ok := met.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 gauge", tc.name)
			}
			if len(g.DataPoints) != 1 || g.DataPoints[0].Value != tc.want {
				t.Errorf("data points = %+v, want value %d", g.DataPoints, tc.want)
			}
		})
	}
}

func TestForwardDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.ForwardDuration.Record(ctx, 0.02)
	m.ForwardDuration.Record(ctx, 1.5)

	rm := collect(t, reader)
	met := findMetric(rm, "vanilla_dialogue.forward.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Errorf("histogram data points = %+v, want count 2", hist.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
