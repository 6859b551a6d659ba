// Package metrics exposes the Prometheus instrumentation shared by the HTTP
// server, the overview engine and the background workers. All metrics are
// registered through promauto, so importing the package is enough.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP requests, labeled by method, path and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lacuna_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// Server response time. Buckets run from cache-hit territory to full
	// graph builds over the maximum candidate set.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lacuna_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Graph builds by outcome (ok, validation, no_data, not_found,
	// transient, error).
	GraphBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lacuna_graph_builds_total",
			Help: "Total number of overview graph builds by outcome",
		},
		[]string{"outcome"},
	)

	// Per-stage pipeline timing: fetch, knn, cluster, score, layout,
	// groups.
	GraphStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lacuna_graph_stage_duration_seconds",
			Help:    "Duration of overview pipeline stages in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	// Nodes entering a build, observed once per successful build.
	GraphNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lacuna_graph_nodes",
			Help:    "Number of nodes per overview graph build",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2000},
		},
	)

	// Write-back attempts and terminal failures of the overview sink.
	PersistRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lacuna_persist_retries_total",
			Help: "Total number of retried overview persist attempts",
		},
	)
	PersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lacuna_persist_failures_total",
			Help: "Total number of abandoned overview persists by reason",
		},
		[]string{"reason"},
	)

	// Embeddings written by the background vectorizer workers.
	VectorizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lacuna_vectorized_total",
			Help: "Total number of documents embedded by background workers",
		},
		[]string{"worker"},
	)

	// Embedding cache traffic.
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lacuna_embedding_cache_total",
			Help: "Embedding cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	// Embedded rows currently stored, per model.
	StoredEmbeddings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lacuna_stored_embeddings_total",
			Help: "Number of stored embeddings per model",
		},
		[]string{"model"},
	)
)
