package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	var seenCID string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		seenCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	handler := Middleware(m)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if seenCID == "" || rec.Header().Get("X-Correlation-ID") != seenCID {
		t.Errorf("correlation id: handler saw %q, header %q", seenCID, rec.Header().Get("X-Correlation-ID"))
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("spans = %v", spans)
	}

	met := findMetric(collect(t, reader), "troupe.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v", hist.DataPoints)
	}
	attrs := hist.DataPoints[0].Attributes
	if v, _ := attrs.Value(attribute.Key("route")); v.AsString() != "GET /readyz" {
		t.Errorf("route = %q", v.AsString())
	}
	if v, _ := attrs.Value(attribute.Key("status")); v.AsString() != "503" {
		t.Errorf("status = %q", v.AsString())
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader := newTestMetrics(t)
	handler := Middleware(m)(http.NewServeMux())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret/123", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}

	hist := findMetric(collect(t, reader), "troupe.http.request.duration").Data.(metricdata.Histogram[float64])
	if v, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("route")); v.AsString() != "unmatched" {
		t.Errorf("route = %q, want unmatched", v.AsString())
	}
}

func TestLevelFor(t *testing.T) {
	for status, want := range map[int]slog.Level{
		200: slog.LevelDebug,
		404: slog.LevelWarn,
		503: slog.LevelError,
	} {
		if got := levelFor(status); got != want {
			t.Errorf("levelFor(%d) = %v, want %v", status, got, want)
		}
	}
}
