// Package observe wires moodlens into OpenTelemetry: the metric instruments
// recorded by the capture session, scheduler and HTTP layer, span helpers
// that carry the capture session ID, and the Prometheus bridge that serves
// everything at the metrics path.
//
// Components take a *[Metrics] in their config and fall back to
// [DefaultMetrics] on the global provider. Tests build their own with
// [NewMetrics] over a ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all moodlens metrics.
const meterName = "github.com/MrWong99/moodlens"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CycleDuration tracks one extract-vote-publish inference cycle.
	CycleDuration metric.Float64Histogram

	// AcquireDuration tracks how long the capture device took to answer.
	AcquireDuration metric.Float64Histogram

	// --- Value histograms ---

	// Confidence records the confidence of every published result.
	Confidence metric.Float64Histogram

	// --- Counters ---

	// Cycles counts inference cycles. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"skipped")
	Cycles metric.Int64Counter

	// Acquisitions counts camera acquisitions. Use with attribute:
	//   attribute.String("status", "active"|"denied"|"cancelled")
	Acquisitions metric.Int64Counter

	// Classifications counts published labels. Use with attribute:
	//   attribute.String("label", ...)
	Classifications metric.Int64Counter

	// Votes counts individual ensemble votes. Use with attribute:
	//   attribute.String("label", ...)
	Votes metric.Int64Counter

	// ProviderErrors counts feature/vote source errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCameras tracks the number of live capture sessions.
	ActiveCameras metric.Int64UpDownCounter

	// ActiveDetections tracks the number of running schedulers.
	ActiveDetections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning a
// sub-millisecond stub cycle up to a slow permission prompt.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30,
}

// confidenceBuckets partitions the [0.5, 1.0) confidence range.
var confidenceBuckets = []float64{
	0.5, 0.6, 0.7, 0.8, 0.9, 1.0,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CycleDuration, err = m.Float64Histogram("moodlens.cycle.duration",
		metric.WithDescription("Latency of one inference cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AcquireDuration, err = m.Float64Histogram("moodlens.camera.acquire.duration",
		metric.WithDescription("Time until the capture device granted or denied access."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Confidence, err = m.Float64Histogram("moodlens.classification.confidence",
		metric.WithDescription("Confidence of published classification results."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Cycles, err = m.Int64Counter("moodlens.cycles",
		metric.WithDescription("Total inference cycles by status."),
	); err != nil {
		return nil, err
	}
	if met.Acquisitions, err = m.Int64Counter("moodlens.camera.acquisitions",
		metric.WithDescription("Total camera acquisitions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Classifications, err = m.Int64Counter("moodlens.classifications",
		metric.WithDescription("Total published classifications by label."),
	); err != nil {
		return nil, err
	}
	if met.Votes, err = m.Int64Counter("moodlens.votes",
		metric.WithDescription("Total ensemble votes by label."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("moodlens.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCameras, err = m.Int64UpDownCounter("moodlens.active_cameras",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveDetections, err = m.Int64UpDownCounter("moodlens.active_detections",
		metric.WithDescription("Number of running inference schedulers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("moodlens.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// DefaultMetrics returns the process-wide [Metrics] built on the global
// meter provider at first use.
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

// RecordCycle records one inference cycle's duration and status.
func (m *Metrics) RecordCycle(ctx context.Context, d time.Duration, status string) {
	m.CycleDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	m.Cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordClassification records a published label and its confidence.
func (m *Metrics) RecordClassification(ctx context.Context, label string, confidence float64) {
	m.Classifications.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
	m.Confidence.Record(ctx, confidence)
}

// RecordVotes adds n votes for label.
func (m *Metrics) RecordVotes(ctx context.Context, label string, n int) {
	m.Votes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("label", label)))
}

// RecordAcquisition records the outcome of a camera request and how long the
// device took to answer.
func (m *Metrics) RecordAcquisition(ctx context.Context, d time.Duration, status string) {
	m.AcquireDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	m.Acquisitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordProviderError counts one failure of a feature or vote source.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
