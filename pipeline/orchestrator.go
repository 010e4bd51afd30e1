package pipeline

import (
	"context"
	"time"

	"siemfusion/core"
	"siemfusion/metrics"
	"siemfusion/sink"
	"siemfusion/stage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScoreWeights combine the three upstream stage scores into the alert
// score that drives severity.
type ScoreWeights struct {
	Anomaly float64
	Threat  float64
	Context float64
}

// SeverityCutoffs map a composed score onto a severity level. A score
// below Medium is SeverityLow.
type SeverityCutoffs struct {
	Critical float64
	High     float64
	Medium   float64
}

// Options hold the orchestrator's tunables. The anomaly threshold is the
// primary cost control: benign events below it never consume stage-2+
// budget.
type Options struct {
	AnomalyThreshold    float64
	MinCorrelationScore float64
	Weights             ScoreWeights
	Cutoffs             SeverityCutoffs
	BatchDeadline       time.Duration
}

// DefaultOptions returns the tuning defaults.
func DefaultOptions() Options {
	return Options{
		AnomalyThreshold:    0.5,
		MinCorrelationScore: 0.3,
		Weights:             ScoreWeights{Anomaly: 0.3, Threat: 0.4, Context: 0.3},
		Cutoffs:             SeverityCutoffs{Critical: 0.85, High: 0.7, Medium: 0.5},
		BatchDeadline:       2 * time.Minute,
	}
}

// Orchestrator chains the four stage runners in fixed order, owns the
// per-event lifecycle state machine, decides suppression between stages,
// assembles final alerts, and keeps the per-batch run record.
type Orchestrator struct {
	runners []*stage.Runner
	opts    Options
	dedup   *Deduper
	sink    sink.Sink
	stats   *Stats
	logger  *zap.SugaredLogger

	archive *runArchive
}

// NewOrchestrator creates an orchestrator over the four runners, which
// must be given in stage order.
func NewOrchestrator(runners []*stage.Runner, opts Options, dedup *Deduper, alertSink sink.Sink, stats *Stats, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		runners: runners,
		opts:    opts,
		dedup:   dedup,
		sink:    alertSink,
		stats:   stats,
		logger:  logger,
		archive: newRunArchive(32),
	}
}

// ProcessBatch drives one batch through all four stages and returns the
// completed run record. Stage order is strictly serial per batch; item
// concurrency lives inside each runner. Per-item failures never abort the
// batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batch *Batch) *core.PipelineRunRecord {
	rec := core.NewRunRecord(batch.ID, len(batch.Events))
	lifecycles := make(map[core.CorrelationID]*core.EventLifecycle, len(batch.Events))

	items := make([]*core.StageResult, 0, len(batch.Events))
	for _, event := range batch.Events {
		item := core.Admit(event)
		items = append(items, item)
		lifecycles[item.CorrelationID] = core.NewEventLifecycle(item.CorrelationID)
	}

	bctx := ctx
	cancel := func() {}
	if o.opts.BatchDeadline > 0 {
		bctx, cancel = context.WithTimeout(ctx, o.opts.BatchDeadline)
	}
	defer cancel()

	o.logger.Infow("Processing batch", "batch_id", batch.ID, "events", len(batch.Events))

	for _, runner := range o.runners {
		kind := runner.Kind()
		for _, item := range items {
			if item.Advanceable() {
				rec.ObserveSubmission(kind)
			}
		}

		items = runner.Run(bctx, items)
		items = o.applyStagePolicy(bctx, kind, items, lifecycles, rec)

		if bctx.Err() != nil {
			o.forceBatchTimeout(batch.ID, lifecycles, rec)
			break
		}
	}

	o.finishRecord(batch.ID, lifecycles, rec)
	return rec
}

// applyStagePolicy translates a stage's raw results into lifecycle
// transitions and the between-stage suppression decisions.
func (o *Orchestrator) applyStagePolicy(ctx context.Context, kind core.StageKind,
	items []*core.StageResult, lifecycles map[core.CorrelationID]*core.EventLifecycle,
	rec *core.PipelineRunRecord) []*core.StageResult {

	out := make([]*core.StageResult, 0, len(items))
	for _, item := range items {
		if item.Stage != kind {
			// Short-circuited pass-through; already terminal.
			out = append(out, item)
			continue
		}
		life := lifecycles[item.CorrelationID]

		switch item.Status {
		case core.StatusOK, core.StatusDegraded:
			item = o.advanceItem(ctx, kind, item, life, rec)
		case core.StatusFailed:
			reason := core.DiscardStageFailed
			if ctx.Err() != nil {
				reason = core.DiscardBatchTimeout
			}
			if err := life.Discard(reason); err == nil {
				o.logger.Warnw("Event discarded",
					"correlation_id", item.CorrelationID,
					"stage", kind,
					"error_kind", item.ErrKind,
					"reason", reason,
					"error", item.ErrMsg)
			}
		}

		rec.ObserveResult(kind, item.Status)
		out = append(out, item)
	}
	return out
}

// advanceItem applies the per-stage transition rules for a successful
// result and returns the (possibly suppressed) item.
func (o *Orchestrator) advanceItem(ctx context.Context, kind core.StageKind,
	item *core.StageResult, life *core.EventLifecycle, rec *core.PipelineRunRecord) *core.StageResult {

	switch kind {
	case core.StageAnomaly:
		// The threshold gate: benign events below the configured score are
		// dropped before consuming any stage-2+ budget.
		if item.Anomaly.Classification == core.ClassBenign && item.Anomaly.Score < o.opts.AnomalyThreshold {
			suppressed := item.SuppressedResult(kind, "benign classification below anomaly threshold")
			if err := life.Advance(core.StateSuppressed); err == nil {
				o.logger.Debugw("Event suppressed at anomaly gate",
					"correlation_id", item.CorrelationID, "score", item.Anomaly.Score)
			}
			return suppressed
		}
		life.Advance(core.StateAnomalyScored)

	case core.StageThreat:
		// Stage 2 always advances: an unverified IOC is still informative
		// context for correlation.
		life.Advance(core.StateThreatScored)

	case core.StageCorrelation:
		life.Advance(core.StateCorrelated)
		if item.Correlation.ContextScore < o.opts.MinCorrelationScore {
			suppressed := item.SuppressedResult(kind, "correlation score below alert floor")
			if err := life.Advance(core.StateSuppressed); err == nil {
				o.logger.Debugw("Event suppressed at correlation gate",
					"correlation_id", item.CorrelationID, "context_score", item.Correlation.ContextScore)
			}
			return suppressed
		}

	case core.StageAlertGen:
		life.Advance(core.StateAlertReady)
		o.finalizeAlert(ctx, item, life, rec)
	}
	return item
}

// finalizeAlert composes severity from the upstream scores, merges into an
// open alert or creates a new one, and publishes the result.
func (o *Orchestrator) finalizeAlert(ctx context.Context, item *core.StageResult, life *core.EventLifecycle, rec *core.PipelineRunRecord) {
	score := o.composeScore(item)
	severity := o.severityFor(score)
	draft := item.Draft

	now := time.Now().UTC()
	alert := &core.Alert{
		ID:                 uuid.New().String(),
		Title:              draft.Title,
		Description:        draft.Description,
		Severity:           severity,
		Score:              score,
		Confidence:         draft.Confidence,
		SourceEventIDs:     []core.CorrelationID{item.CorrelationID},
		Entities:           draft.Entities,
		AttackVector:       draft.AttackVector,
		MitreTechniques:    draft.MitreTechniques,
		RecommendedActions: draft.RecommendedActions,
		Status:             core.AlertStatusNew,
		CreatedAt:          now,
		UpdatedAt:          now,
		Indicators:         collectIndicators(item),
	}

	final, merged := o.dedup.MergeOrCreate(alert)
	if merged {
		rec.Merged++
		metrics.AlertsMerged.Inc()
		o.logger.Infow("Event merged into open alert",
			"correlation_id", item.CorrelationID, "alert_id", final.ID,
			"source_events", len(final.SourceEventIDs))
	} else {
		metrics.AlertsGenerated.WithLabelValues(final.Severity.String()).Inc()
		o.logger.Infow("Alert generated",
			"correlation_id", item.CorrelationID, "alert_id", final.ID,
			"severity", final.Severity, "score", final.Score)
	}

	// Publication is at-least-once; the sink dedups by alert id, so a
	// failure here is logged and retried on the next merge or restart
	// rather than aborting the batch.
	if err := o.sink.Publish(ctx, final); err != nil {
		metrics.AlertPublishFailures.Inc()
		o.logger.Errorw("Failed to publish alert",
			"alert_id", final.ID, "correlation_id", item.CorrelationID, "error", err)
	}

	life.Advance(core.StateAlerted)
}

// composeScore combines the three upstream scores with the configured
// weights, normalized so partial weight sets still land in [0,1].
func (o *Orchestrator) composeScore(item *core.StageResult) float64 {
	w := o.opts.Weights
	total := w.Anomaly + w.Threat + w.Context
	if total <= 0 {
		return 0
	}
	var score float64
	if item.Anomaly != nil {
		score += w.Anomaly * item.Anomaly.Score
	}
	if item.Threat != nil {
		score += w.Threat * item.Threat.ThreatScore
	}
	if item.Correlation != nil {
		score += w.Context * item.Correlation.ContextScore
	}
	return core.ClampScore(score / total)
}

func (o *Orchestrator) severityFor(score float64) core.Severity {
	c := o.opts.Cutoffs
	switch {
	case score >= c.Critical:
		return core.SeverityCritical
	case score >= c.High:
		return core.SeverityHigh
	case score >= c.Medium:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}

// forceBatchTimeout discards every event that has not reached a terminal
// state when the batch deadline elapses.
func (o *Orchestrator) forceBatchTimeout(batchID string, lifecycles map[core.CorrelationID]*core.EventLifecycle, rec *core.PipelineRunRecord) {
	forced := 0
	for _, life := range lifecycles {
		if !life.State.Terminal() {
			life.State = core.StateDiscarded
			life.Reason = core.DiscardBatchTimeout
			forced++
		}
	}
	if forced > 0 {
		o.logger.Warnw("Batch deadline elapsed, discarding remaining events",
			"batch_id", batchID, "forced", forced)
	}
}

// finishRecord tallies terminal states, completes the record, and folds it
// into the lifetime stats.
func (o *Orchestrator) finishRecord(batchID string, lifecycles map[core.CorrelationID]*core.EventLifecycle, rec *core.PipelineRunRecord) {
	for _, life := range lifecycles {
		if !life.State.Terminal() {
			// Defensive: a batch that exits the stage loop normally has
			// only terminal lifecycles.
			life.State = core.StateDiscarded
			life.Reason = core.DiscardStageFailed
		}
		rec.ObserveTerminal(life.State)
		metrics.EventsTerminal.WithLabelValues(string(life.State)).Inc()
	}
	rec.Complete()

	metrics.BatchesProcessed.Inc()
	metrics.BatchProcessingDuration.Observe(rec.Duration().Seconds())
	o.stats.ObserveBatch(rec)
	o.archive.add(rec)

	o.logger.Infow("Batch complete",
		"batch_id", batchID,
		"alerted", rec.Alerted,
		"merged", rec.Merged,
		"suppressed", rec.Suppressed,
		"discarded", rec.Discarded,
		"duration", rec.Duration())
}

// RecentRuns returns the archived run records, newest first.
func (o *Orchestrator) RecentRuns() []*core.PipelineRunRecord {
	return o.archive.snapshot()
}

func collectIndicators(item *core.StageResult) []string {
	var out []string
	if item.Anomaly != nil {
		out = append(out, item.Anomaly.Indicators...)
	}
	if item.Threat != nil {
		out = append(out, item.Threat.MatchedIOCs...)
	}
	return out
}
