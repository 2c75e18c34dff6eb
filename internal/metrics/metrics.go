// Package metrics exposes the process's Prometheus metrics: writer flush
// throughput, compaction run outcomes, query execution latency, and active
// SSE stream count.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Writer metrics.
	WriterFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracelake_writer_flushes_total",
			Help: "Total number of partition flushes, by outcome",
		},
		[]string{"outcome"},
	)

	WriterFlushedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracelake_writer_flushed_events_total",
			Help: "Total number of events written to columnar files",
		},
	)

	WriterFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracelake_writer_flush_duration_seconds",
			Help:    "Time taken to encode and write one partition flush",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Compaction metrics.
	CompactionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracelake_compaction_runs_total",
			Help: "Total number of partition compaction runs, by outcome",
		},
		[]string{"outcome"},
	)

	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracelake_compaction_duration_seconds",
			Help:    "Time taken to compact one partition",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactionFilesRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracelake_compaction_files_removed_total",
			Help: "Total number of source files removed after compaction",
		},
	)

	CompactionEventsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracelake_compaction_events_processed_total",
			Help: "Total number of events rewritten by compaction",
		},
	)

	// Query metrics.
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracelake_query_duration_seconds",
			Help:    "Query execution duration in seconds, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracelake_queries_total",
			Help: "Total number of queries executed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// SSE metrics.
	SSEActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracelake_sse_active_streams",
			Help: "Number of currently open SSE query streams",
		},
	)

	SSEStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracelake_sse_streams_total",
			Help: "Total number of SSE streams opened, by terminal reason",
		},
		[]string{"reason"},
	)

	// Ingest metrics.
	IngestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracelake_ingest_events_total",
			Help: "Total number of ingested events, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(WriterFlushesTotal)
	prometheus.MustRegister(WriterFlushedEventsTotal)
	prometheus.MustRegister(WriterFlushDuration)

	prometheus.MustRegister(CompactionRunsTotal)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactionFilesRemoved)
	prometheus.MustRegister(CompactionEventsProcessed)

	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueriesTotal)

	prometheus.MustRegister(SSEActiveStreams)
	prometheus.MustRegister(SSEStreamsTotal)

	prometheus.MustRegister(IngestEventsTotal)
}

// Handler returns the HTTP handler that serves the process's metrics in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an elapsed duration for later observation against a
// histogram, mirroring the call-start/call-end shape of the operations it
// instruments.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
