// Package observe provides application-wide observability primitives for the
// decoder service: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all decoder metrics.
const meterName = "github.com/voxlex/fwdtree"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Per-frame search histograms ---

	// FrameDuration tracks wall-clock time spent in one Search.Step call.
	FrameDuration metric.Float64Histogram

	// BestScore tracks the per-frame global best score, for dashboards that
	// want to watch the score trajectory of a running decode.
	BestScore metric.Float64Histogram

	// --- Counters ---

	// BeamWidenEvents counts frames where the histogram-based dynamic beam
	// had to widen past the configured beam because MaxHMMPF was exceeded.
	BeamWidenEvents metric.Int64Counter

	// RenormalizeEvents counts frames where running scores were
	// renormalized to avoid underflow.
	RenormalizeEvents metric.Int64Counter

	// WordExits counts word-exit backpointer entries saved. Use with
	// attribute: attribute.String("kind", "filler"|"word").
	WordExits metric.Int64Counter

	// WordExitCapDrops counts word-exit entries invalidated by the
	// per-frame word-exit cap.
	WordExitCapDrops metric.Int64Counter

	// BPTableGrowths counts backpointer table (or its score stack) doubling
	// events across a decoder's lifetime.
	BPTableGrowths metric.Int64Counter

	// ActiveListGrowths counts active-list capacity growth events.
	ActiveListGrowths metric.Int64Counter

	// UtterancesDecoded counts completed utterances. Use with attribute:
	// attribute.String("status", "ok"|"error").
	UtterancesDecoded metric.Int64Counter

	// --- Gauges ---

	// ActiveNonrootChans tracks the number of currently active non-root
	// tree channels.
	ActiveNonrootChans metric.Int64UpDownCounter

	// ActiveWords tracks the number of currently active multi-phone words.
	ActiveWords metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live decode sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// single-frame decoder processing, which is expected to complete in well
// under 100ms to keep pace with 100fps feature extraction.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// scoreBuckets defines histogram bucket boundaries for log-domain acoustic
// scores, which in practice span a wide negative range.
var scoreBuckets = []float64{
	-1e8, -1e7, -1e6, -1e5, -1e4, -1e3, -1e2, -1e1, 0,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameDuration, err = m.Float64Histogram("fwdtree.frame.duration",
		metric.WithDescription("Wall-clock time to process one decoder frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BestScore, err = m.Float64Histogram("fwdtree.frame.best_score",
		metric.WithDescription("Per-frame global best Viterbi score."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BeamWidenEvents, err = m.Int64Counter("fwdtree.beam.widen_events",
		metric.WithDescription("Frames where the dynamic beam widened past the configured beam."),
	); err != nil {
		return nil, err
	}
	if met.RenormalizeEvents, err = m.Int64Counter("fwdtree.score.renormalize_events",
		metric.WithDescription("Frames where active HMM scores were renormalized to avoid underflow."),
	); err != nil {
		return nil, err
	}
	if met.WordExits, err = m.Int64Counter("fwdtree.bptable.word_exits",
		metric.WithDescription("Backpointer entries saved, by word kind."),
	); err != nil {
		return nil, err
	}
	if met.WordExitCapDrops, err = m.Int64Counter("fwdtree.bptable.word_exit_cap_drops",
		metric.WithDescription("Backpointer entries invalidated by the per-frame word-exit cap."),
	); err != nil {
		return nil, err
	}
	if met.BPTableGrowths, err = m.Int64Counter("fwdtree.bptable.growths",
		metric.WithDescription("Backpointer table or score stack doubling events."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListGrowths, err = m.Int64Counter("fwdtree.activelist.growths",
		metric.WithDescription("Active-list capacity growth events."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDecoded, err = m.Int64Counter("fwdtree.utterances.decoded",
		metric.WithDescription("Completed utterances, by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveNonrootChans, err = m.Int64UpDownCounter("fwdtree.active.nonroot_chans",
		metric.WithDescription("Number of currently active non-root tree channels."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWords, err = m.Int64UpDownCounter("fwdtree.active.words",
		metric.WithDescription("Number of currently active multi-phone words."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("fwdtree.active.sessions",
		metric.WithDescription("Number of live decode sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("fwdtree.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWordExit is a convenience method that records a word-exit counter
// increment with the standard attribute set.
func (m *Metrics) RecordWordExit(ctx context.Context, kind string) {
	m.WordExits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUtteranceDecoded is a convenience method that records a completed
// utterance counter increment.
func (m *Metrics) RecordUtteranceDecoded(ctx context.Context, status string) {
	m.UtterancesDecoded.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
