package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumentedMux serves a small route table behind [Middleware] with
// in-memory metric and span recording.
func instrumentedMux(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-CID", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/camera/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return Middleware(m)(mux), reader, exp
}

func histogramPoint(t *testing.T, rm metricdata.ResourceMetrics, route string) *metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(rm, "moodlens.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("http duration metric is not a histogram")
	}
	for i, dp := range hist.DataPoints {
		if v, ok := dp.Attributes.Value("route"); ok && v.AsString() == route {
			return &hist.DataPoints[i]
		}
	}
	return nil
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := instrumentedMux(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want 32 hex chars", cid)
	}
	if seen := rec.Header().Get("X-Seen-CID"); seen != cid {
		t.Errorf("handler saw correlation ID %q, response carries %q", seen, cid)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h, _, _ := instrumentedMux(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Seen-CID"); got != traceID {
		t.Errorf("handler correlation ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	h, _, exp := instrumentedMux(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/camera/start", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "POST /api/camera/start" {
		t.Errorf("span name = %q, want the matched pattern", spans[0].Name)
	}
	var status int64
	for _, kv := range spans[0].Attributes {
		if string(kv.Key) == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	if status != http.StatusInternalServerError {
		t.Errorf("span status attribute = %d, want 500", status)
	}
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	h, reader, _ := instrumentedMux(t)

	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/state", nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/such/path", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/another/missing", nil))

	rm := collect(t, reader)

	state := histogramPoint(t, rm, "GET /api/state")
	if state == nil {
		t.Fatal("no data point for GET /api/state")
	}
	if state.Count != 2 {
		t.Errorf("GET /api/state count = %d, want 2", state.Count)
	}
	if v, _ := state.Attributes.Value("status"); v.AsInt64() != http.StatusOK {
		t.Errorf("status attribute = %d, want 200", v.AsInt64())
	}

	missing := histogramPoint(t, rm, unmatchedRoute)
	if missing == nil {
		t.Fatal("no data point for unmatched routes")
	}
	if missing.Count != 2 {
		t.Errorf("unmatched count = %d, want 2 (paths must share one series)", missing.Count)
	}
}

func TestMiddleware_PassesThroughHijacker(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	var hijackable, unwrapped bool
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, hijackable = w.(http.Hijacker)
		_, unwrapped = w.(interface{ Unwrap() http.ResponseWriter })
		w.WriteHeader(http.StatusNoContent)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/state/ws", nil))

	if !hijackable {
		t.Error("wrapped writer should implement http.Hijacker")
	}
	if !unwrapped {
		t.Error("wrapped writer should expose Unwrap")
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	t.Parallel()

	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("expected error when the underlying writer cannot hijack")
	}
	if rec.status != http.StatusOK {
		t.Errorf("status = %d, want unchanged 200", rec.status)
	}
}
