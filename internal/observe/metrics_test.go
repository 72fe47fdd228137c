package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

func hasAttr(set attribute.Set, key, value string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	tests := []struct {
		name string
		hist metric.Float64Histogram
	}{
		{"troupe.agent.duration", m.AgentDuration},
		{"troupe.render.duration", m.RenderDuration},
		{"troupe.playback.duration", m.PlaybackDuration},
		{"troupe.transcribe.duration", m.TranscribeDuration},
	}
	for _, tt := range tests {
		tt.hist.Record(ctx, 0.75)
	}

	rm := collect(t, reader)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			if met == nil {
				t.Fatalf("metric %q not found", tt.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tt.name)
			}
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Errorf("data points = %+v, want one sample", hist.DataPoints)
			}
		})
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "error")

	met := findMetric(collect(t, reader), "troupe.provider.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, "status", "ok") {
			if dp.Value != 2 {
				t.Errorf("counter value = %d, want 2", dp.Value)
			}
			return
		}
	}
	t.Error("data point with status=ok not found")
}

func TestRecordVoiceMessage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVoiceMessage(ctx, "piper", OutcomePlayed)
	m.RecordVoiceMessage(ctx, "", OutcomeSkipped)

	met := findMetric(collect(t, reader), "troupe.voice.messages")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("got %d data points, want 2", len(sum.DataPoints))
	}
	var played bool
	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, "actor", "piper") && hasAttr(dp.Attributes, "outcome", OutcomePlayed) {
			played = dp.Value == 1
		}
	}
	if !played {
		t.Error("played data point for piper not recorded")
	}
}

func TestVoiceQueueDepth(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.VoiceQueueDepth.Add(ctx, 3)
	m.VoiceQueueDepth.Add(ctx, -1)

	met := findMetric(collect(t, reader), "troupe.voice.queue_depth")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Errorf("queue depth = %+v, want 2", sum.DataPoints)
	}
}

func TestObserveSince(t *testing.T) {
	m, reader := newTestMetrics(t)
	ObserveSince(context.Background(), m.RenderDuration, time.Now().Add(-2*time.Second), Attr("actor", "echo"))

	met := findMetric(collect(t, reader), "troupe.render.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	dp := hist.DataPoints[0]
	if dp.Sum < 2 {
		t.Errorf("sum = %v, want >= 2", dp.Sum)
	}
	if !hasAttr(dp.Attributes, "actor", "echo") {
		t.Error("actor attribute missing")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
