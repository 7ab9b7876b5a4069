// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "accesslens"

// Registry holds every accesslens collector plus Go runtime metrics.
var Registry = prometheus.NewRegistry()

var (
	// LinesTotal counts input lines by parse strategy and outcome.
	LinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "lines_total",
		Help:      "Access-log lines read, by parse strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// EngineQueries counts analytic engine queries by engine and outcome.
	EngineQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "queries_total",
		Help:      "Analytic engine queries, by engine and outcome.",
	}, []string{"engine", "outcome"})

	// EngineQueryDuration observes analytic engine query latency.
	EngineQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "query_duration_seconds",
		Help:      "Analytic engine query latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"engine"})

	// MaterializedRows reports the row count of the current materialisation.
	MaterializedRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "materialized_rows",
		Help:      "Rows in the current materialised record set.",
	})

	// Detections counts findings by detector family and kind.
	Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_total",
		Help:      "Abuse patterns and anomaly alerts produced, by family and kind.",
	}, []string{"family", "kind"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		LinesTotal,
		EngineQueries,
		EngineQueryDuration,
		MaterializedRows,
		Detections,
	)
}
