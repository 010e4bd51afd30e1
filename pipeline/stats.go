package pipeline

import (
	"sync"
	"time"

	"siemfusion/core"
)

// StageSnapshot is the cumulative per-stage tally in a status snapshot.
type StageSnapshot struct {
	Submitted  int64 `json:"submitted"`
	OK         int64 `json:"ok"`
	Degraded   int64 `json:"degraded"`
	Suppressed int64 `json:"suppressed"`
	Failed     int64 `json:"failed"`
}

// Snapshot is the operational status surface of the pipeline, served by
// the status API. It lets operators distinguish "pipeline healthy, traffic
// is benign" from "pipeline degraded, calls are failing".
type Snapshot struct {
	QueueDepth int `json:"queue_depth"`
	// ActiveConcurrency is live in-flight client calls per stage;
	// ConcurrencyLimit is the configured cap.
	ActiveConcurrency   map[string]int               `json:"active_concurrency"`
	ConcurrencyLimit    map[string]int               `json:"concurrency_limit"`
	PerStage            map[string]StageSnapshot     `json:"per_stage"`
	EventsProcessed     int64                        `json:"events_processed"`
	AlertsGenerated     int64                        `json:"alerts_generated"`
	AlertsMerged        int64                        `json:"alerts_merged"`
	EventsSuppressed    int64                        `json:"events_suppressed"`
	EventsDiscarded     int64                        `json:"events_discarded"`
	BatchesProcessed    int64                        `json:"batches_processed"`
	LastBatchLatency    time.Duration                `json:"last_batch_latency_ns"`
	AvgBatchLatency     time.Duration                `json:"avg_batch_latency_ns"`
	RateBudgetRemaining float64                      `json:"rate_limit_budget_remaining"`
	RecentRuns          []*core.PipelineRunRecord    `json:"recent_runs,omitempty"`
	LastUpdated         time.Time                    `json:"last_updated"`
}

// Stats accumulates pipeline-lifetime counters. Safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	perStage         map[core.StageKind]*StageSnapshot
	eventsProcessed  int64
	alertsGenerated  int64
	alertsMerged     int64
	eventsSuppressed int64
	eventsDiscarded  int64
	batchesProcessed  int64
	lastBatchLatency  time.Duration
	totalBatchLatency time.Duration
	lastUpdated       time.Time
}

// NewStats creates zeroed stats.
func NewStats() *Stats {
	perStage := make(map[core.StageKind]*StageSnapshot, len(core.Stages))
	for _, s := range core.Stages {
		perStage[s] = &StageSnapshot{}
	}
	return &Stats{perStage: perStage}
}

// ObserveBatch folds one completed run record into the lifetime counters.
func (s *Stats) ObserveBatch(rec *core.PipelineRunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, counts := range rec.PerStage {
		snap := s.perStage[kind]
		snap.Submitted += int64(counts.Submitted)
		snap.OK += int64(counts.OK)
		snap.Degraded += int64(counts.Degraded)
		snap.Suppressed += int64(counts.Suppressed)
		snap.Failed += int64(counts.Failed)
	}
	s.eventsProcessed += int64(rec.EventCount)
	// Merged events reached Alerted without creating a new alert.
	s.alertsGenerated += int64(rec.Alerted - rec.Merged)
	s.alertsMerged += int64(rec.Merged)
	s.eventsSuppressed += int64(rec.Suppressed)
	s.eventsDiscarded += int64(rec.Discarded)
	s.batchesProcessed++

	latency := rec.Duration()
	s.lastBatchLatency = latency
	s.totalBatchLatency += latency
	s.lastUpdated = time.Now().UTC()
}

// Fill copies the counters into snap.
func (s *Stats) Fill(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.PerStage = make(map[string]StageSnapshot, len(s.perStage))
	for kind, st := range s.perStage {
		snap.PerStage[kind.String()] = *st
	}
	snap.EventsProcessed = s.eventsProcessed
	snap.AlertsGenerated = s.alertsGenerated
	snap.AlertsMerged = s.alertsMerged
	snap.EventsSuppressed = s.eventsSuppressed
	snap.EventsDiscarded = s.eventsDiscarded
	snap.BatchesProcessed = s.batchesProcessed
	snap.LastBatchLatency = s.lastBatchLatency
	if s.batchesProcessed > 0 {
		snap.AvgBatchLatency = s.totalBatchLatency / time.Duration(s.batchesProcessed)
	}
	snap.LastUpdated = s.lastUpdated
}
