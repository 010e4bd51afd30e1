// Package metrics defines the Prometheus instrumentation for the analysis
// pipeline. All metrics are registered automatically via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siemfusion_events_admitted_total",
			Help: "Total number of normalized events admitted into batches",
		},
	)

	// StageResults counts terminal per-item stage outcomes.
	// Labels: stage (anomaly|threat|correlation|alert_gen),
	// status (ok|degraded|suppressed|failed).
	StageResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siemfusion_stage_results_total",
			Help: "Total number of per-item stage results by status",
		},
		[]string{"stage", "status"},
	)

	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siemfusion_stage_call_duration_seconds",
			Help:    "Wall time of stage client calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "siemfusion_stage_inflight_calls",
			Help: "Stage client calls currently in flight",
		},
		[]string{"stage"},
	)

	StageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siemfusion_stage_retries_total",
			Help: "Total number of stage call retry attempts by error kind",
		},
		[]string{"stage", "kind"},
	)

	EventsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siemfusion_events_terminal_total",
			Help: "Total number of events reaching a terminal lifecycle state",
		},
		[]string{"state"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siemfusion_alerts_generated_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity"},
	)

	AlertsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siemfusion_alerts_merged_total",
			Help: "Total number of events merged into an existing open alert",
		},
	)

	AlertPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siemfusion_alert_publish_failures_total",
			Help: "Total number of alert sink publish failures",
		},
	)

	BatchesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siemfusion_batches_processed_total",
			Help: "Total number of batches driven through all four stages",
		},
	)

	BatchProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "siemfusion_batch_processing_duration_seconds",
			Help:    "Wall time for one batch to drain through the pipeline",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	RateBudgetRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siemfusion_rate_budget_remaining_tokens",
			Help: "Analysis service rate-limit tokens currently available",
		},
	)

	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siemfusion_scheduler_queue_depth",
			Help: "Events accepted but not yet released in a batch",
		},
	)

	WorkerPoolWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "siemfusion_worker_pool_workers",
			Help: "Configured workers per pool (-1 after a failed shutdown)",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "siemfusion_worker_pool_queue_depth",
			Help: "Queued tasks per worker pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siemfusion_worker_pool_tasks_processed_total",
			Help: "Total tasks completed per worker pool",
		},
		[]string{"pool"},
	)
)
