// Package metrics exposes the per-layer prometheus instruments the entity
// store stack records against (spec §2.12): hits, misses, fills, evictions,
// mirror errors, durable-queue depth, and decode latency. Grounded on the
// teacher pack's cuemby-warren/pkg/metrics/metrics.go Timer/ObserveDuration
// idiom, rendered as an injectable struct rather than package-level
// variables registered on prometheus' global default registry, so more than
// one Store instance (and more than one test) can run without colliding.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Store holds every counter/gauge/histogram one entity-store stack records
// against, all registered on the *prometheus.Registry supplied to New.
type Store struct {
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheFills  *prometheus.CounterVec
	Evictions   *prometheus.CounterVec
	MirrorErrors *prometheus.CounterVec

	QueueDepth *prometheus.GaugeVec

	DecodeLatency  *prometheus.HistogramVec
	RequestLatency *prometheus.HistogramVec
}

// New constructs a Store and registers every instrument on reg. reg must not
// be nil; callers pass prometheus.NewRegistry() rather than reaching for
// prometheus.DefaultRegisterer, so test suites and multiple Store instances
// in one process never collide over metric names.
func New(reg *prometheus.Registry) *Store {
	s := &Store{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_cache_hits_total",
			Help: "Total number of CacheStore get/search calls served from the hot tier.",
		}, []string{"layer", "type_tag"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_cache_misses_total",
			Help: "Total number of CacheStore get/search calls that missed the hot tier.",
		}, []string{"layer", "type_tag"}),
		CacheFills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_cache_fills_total",
			Help: "Total number of hot-tier fills performed after a cold-tier read.",
		}, []string{"layer", "type_tag"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_evictions_total",
			Help: "Total number of entries evicted from a bounded store (e.g. LRU memory tier).",
		}, []string{"layer", "type_tag"}),
		MirrorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_mirror_errors_total",
			Help: "Total number of errors from a non-authoritative tier, logged but not surfaced to the caller.",
		}, []string{"layer", "type_tag", "op"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "entitystore_queue_depth",
			Help: "Current number of requests waiting in a durable or in-memory queue.",
		}, []string{"queue"}),
		DecodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entitystore_decode_duration_seconds",
			Help:    "Time spent decoding a remote response payload into entities.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type_tag"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entitystore_remote_request_duration_seconds",
			Help:    "Time spent in RemoteStore's transport round trip, from dispatch to terminal result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type_tag", "method"}),
	}

	reg.MustRegister(
		s.CacheHits, s.CacheMisses, s.CacheFills, s.Evictions, s.MirrorErrors,
		s.QueueDepth, s.DecodeLatency, s.RequestLatency,
	)
	return s
}

// Timer times one operation and records its elapsed duration into a
// histogram on Stop, the same start/ObserveDuration idiom as the teacher's
// metrics.Timer.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer { return Timer{start: time.Now()} }

// ObserveDuration records the elapsed time since NewTimer into histogram
// under the given label values.
func (t Timer) ObserveDuration(histogram *prometheus.HistogramVec, labelValues ...string) {
	histogram.WithLabelValues(labelValues...).Observe(time.Since(t.start).Seconds())
}
