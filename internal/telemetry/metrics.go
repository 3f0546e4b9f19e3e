// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// shared by the analyzer, the cache and the HTTP server.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnitsAnalyzed counts per-unit pipeline runs by result (ok, invalid, error, cached).
	UnitsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscope_units_analyzed_total",
		Help: "Source units analyzed, by result",
	}, []string{"result"})

	// AnalysisDuration tracks per-unit pipeline latency.
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callscope_unit_analysis_duration_seconds",
		Help:    "Duration of one unit's collect, extract, resolve and build run",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})

	// FunctionsCollected tracks how many definitions each unit yields.
	FunctionsCollected = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callscope_unit_functions",
		Help:    "Function definitions collected per unit",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	// Diagnostics counts construction diagnostics by kind.
	Diagnostics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscope_diagnostics_total",
		Help: "Construction diagnostics reported, by kind",
	}, []string{"kind"})

	// CacheLookups counts unit cache lookups by outcome (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscope_cache_lookups_total",
		Help: "Unit result cache lookups, by outcome",
	}, []string{"outcome"})

	// WorkspaceUpdates counts workspace mutations by operation (add, remove).
	WorkspaceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscope_workspace_updates_total",
		Help: "Workspace unit additions and removals",
	}, []string{"operation"})

	// QueryDuration tracks HTTP query latency by route.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callscope_query_duration_seconds",
		Help:    "HTTP query latency, by route",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"route"})
)
