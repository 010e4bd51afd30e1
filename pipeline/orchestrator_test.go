package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"siemfusion/core"
	"siemfusion/sink"
	"siemfusion/stage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptClient returns canned stage responses keyed on the event's
// "profile" field, so one batch can exercise every between-stage policy.
type scriptClient struct{}

func (scriptClient) Invoke(_ context.Context, kind core.StageKind, req *stage.Request) (*stage.Response, error) {
	profile, _ := req.Event.Fields["profile"].(string)
	switch kind {
	case core.StageAnomaly:
		switch profile {
		case "benign":
			return &stage.Response{Anomaly: &core.AnomalyResult{Score: 0.1, Classification: core.ClassBenign}, Confidence: 0.9}, nil
		case "malicious":
			return &stage.Response{Anomaly: &core.AnomalyResult{
				Score:          0.9,
				Classification: core.ClassAnomalous,
				Indicators:     []string{"malicious_ip:198.51.100.1"},
			}, Confidence: 0.9}, nil
		default:
			return &stage.Response{Anomaly: &core.AnomalyResult{Score: 0.6, Classification: core.ClassSuspicious}, Confidence: 0.9}, nil
		}
	case core.StageThreat:
		switch profile {
		case "threat-fail":
			return nil, stage.NewError(core.KindTransient, errors.New("intel backend unavailable"))
		case "malicious":
			return &stage.Response{Threat: &core.ThreatResult{
				Verified:    true,
				MatchedIOCs: []string{"ioc:mimikatz"},
				ThreatScore: 0.8,
			}, Confidence: 0.85}, nil
		default:
			return &stage.Response{Threat: &core.ThreatResult{ThreatScore: 0.5}, Confidence: 0.85}, nil
		}
	case core.StageCorrelation:
		if profile == "low-context" {
			return &stage.Response{Correlation: &core.CorrelationResult{ContextScore: 0.1}, Confidence: 0.8}, nil
		}
		return &stage.Response{Correlation: &core.CorrelationResult{
			ContextScore:  0.8,
			AttackPattern: "lateral_movement",
		}, Confidence: 0.8}, nil
	case core.StageAlertGen:
		return &stage.Response{Draft: &core.AlertDraft{
			Title:       "Lateral movement detected",
			Description: "Credential dumping followed by remote execution",
			Confidence:  0.85,
		}, Confidence: 0.85}, nil
	}
	return nil, errors.New("unknown stage")
}

// slowThreatClient blocks the threat stage until the caller's context
// expires, for batch-deadline scenarios.
type slowThreatClient struct{ scriptClient }

func (c slowThreatClient) Invoke(ctx context.Context, kind core.StageKind, req *stage.Request) (*stage.Response, error) {
	if kind == core.StageThreat {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, errors.New("slow client was not cancelled")
		}
	}
	return c.scriptClient.Invoke(ctx, kind, req)
}

func orchestratorRunners(t *testing.T, client stage.Client) []*stage.Runner {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	budget := core.NewServiceBudget(0, 0)
	retry := &stage.RetryPolicy{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2,
		Retryable:   stage.DefaultRetryPolicy().Retryable,
	}
	runners := make([]*stage.Runner, 0, len(core.Stages))
	for _, kind := range core.Stages {
		pool := core.NewWorkerPool(context.Background(), 4, 16, "test-"+kind.String(), logger)
		pool.Start()
		t.Cleanup(pool.Stop)
		runners = append(runners, stage.NewRunner(kind, client, retry, pool, budget, time.Second, nil, logger))
	}
	return runners
}

func newTestOrchestrator(t *testing.T, client stage.Client, opts Options, alertSink sink.Sink) (*Orchestrator, *Stats) {
	t.Helper()
	stats := NewStats()
	o := NewOrchestrator(orchestratorRunners(t, client), opts,
		NewDeduper(64, time.Minute, 0.5), alertSink, stats, zaptest.NewLogger(t).Sugar())
	return o, stats
}

func batchOf(profiles ...string) *Batch {
	events := make([]*core.Event, 0, len(profiles))
	for i, p := range profiles {
		event := core.NewEvent(core.SourceNetwork)
		event.EventType = "network_connection"
		event.Fields["profile"] = p
		event.Fields["ordinal"] = i
		events = append(events, event)
	}
	return &Batch{ID: "batch-1", Events: events, ReleasedAt: time.Now().UTC()}
}

func TestOrchestrator_MixedBatchOutcomes(t *testing.T) {
	mem := sink.NewMemorySink()
	o, stats := newTestOrchestrator(t, scriptClient{}, DefaultOptions(), mem)

	rec := o.ProcessBatch(context.Background(),
		batchOf("benign", "benign", "threat-fail", "low-context", "malicious", "malicious"))

	assert.Equal(t, 6, rec.EventCount)
	assert.Equal(t, 3, rec.Suppressed, "two at the anomaly gate, one at the correlation gate")
	assert.Equal(t, 1, rec.Discarded)
	assert.Equal(t, 2, rec.Alerted)
	assert.Equal(t, 1, rec.Merged, "identical indicator sets fold into one alert")
	assert.True(t, rec.Done())
	require.NotNil(t, rec.CompletedAt)

	// Suppressed and failed events never reach the next stage's client.
	assert.Equal(t, 6, rec.PerStage[core.StageAnomaly].Submitted)
	assert.Equal(t, 4, rec.PerStage[core.StageAnomaly].OK)
	assert.Equal(t, 2, rec.PerStage[core.StageAnomaly].Suppressed)
	assert.Equal(t, 4, rec.PerStage[core.StageThreat].Submitted)
	assert.Equal(t, 1, rec.PerStage[core.StageThreat].Failed)
	assert.Equal(t, 3, rec.PerStage[core.StageCorrelation].Submitted)
	assert.Equal(t, 1, rec.PerStage[core.StageCorrelation].Suppressed)
	assert.Equal(t, 2, rec.PerStage[core.StageAlertGen].Submitted)
	assert.Equal(t, 2, rec.PerStage[core.StageAlertGen].OK)

	// One stored alert carrying both source events.
	require.Equal(t, 1, mem.Len())
	alert := mem.Alerts()[0]
	assert.Len(t, alert.SourceEventIDs, 2)
	assert.Equal(t, 1, alert.DuplicateCount)
	// 0.3*0.9 + 0.4*0.8 + 0.3*0.8 = 0.83 lands in the high band.
	assert.Equal(t, core.SeverityHigh, alert.Severity)
	assert.InDelta(t, 0.83, alert.Score, 0.001)
	assert.ElementsMatch(t, []string{"malicious_ip:198.51.100.1", "ioc:mimikatz"}, alert.Indicators)

	var snap Snapshot
	stats.Fill(&snap)
	assert.Equal(t, int64(6), snap.EventsProcessed)
	assert.Equal(t, int64(1), snap.AlertsGenerated)
	assert.Equal(t, int64(1), snap.AlertsMerged)
	assert.Equal(t, int64(3), snap.EventsSuppressed)
	assert.Equal(t, int64(1), snap.EventsDiscarded)
	assert.Equal(t, int64(1), snap.BatchesProcessed)
}

func TestOrchestrator_BatchDeadlineDiscardsRemaining(t *testing.T) {
	mem := sink.NewMemorySink()
	opts := DefaultOptions()
	opts.BatchDeadline = 50 * time.Millisecond
	o, _ := newTestOrchestrator(t, slowThreatClient{}, opts, mem)

	rec := o.ProcessBatch(context.Background(), batchOf("malicious", "malicious", "malicious"))

	assert.Equal(t, 3, rec.Discarded)
	assert.Equal(t, 0, rec.Alerted)
	assert.True(t, rec.Done())
	assert.Equal(t, 0, mem.Len())
}

func TestOrchestrator_DistinctIndicatorsProduceSeparateAlerts(t *testing.T) {
	mem := sink.NewMemorySink()
	o, _ := newTestOrchestrator(t, distinctIndicatorClient{}, DefaultOptions(), mem)

	rec := o.ProcessBatch(context.Background(), batchOf("malicious", "malicious"))

	assert.Equal(t, 2, rec.Alerted)
	assert.Equal(t, 0, rec.Merged)
	assert.Equal(t, 2, mem.Len())
}

// distinctIndicatorClient gives every event its own indicator so no two
// alerts overlap.
type distinctIndicatorClient struct{ scriptClient }

func (c distinctIndicatorClient) Invoke(ctx context.Context, kind core.StageKind, req *stage.Request) (*stage.Response, error) {
	resp, err := c.scriptClient.Invoke(ctx, kind, req)
	if err != nil {
		return nil, err
	}
	if kind == core.StageAnomaly {
		ordinal, _ := req.Event.Fields["ordinal"].(int)
		resp.Anomaly.Indicators = []string{fmt.Sprintf("malicious_ip:198.51.100.%d", ordinal)}
	}
	if kind == core.StageThreat {
		resp.Threat.MatchedIOCs = nil
	}
	return resp, nil
}

func TestOrchestrator_PublishFailureDoesNotAbortBatch(t *testing.T) {
	o, _ := newTestOrchestrator(t, scriptClient{}, DefaultOptions(), failingSink{})

	rec := o.ProcessBatch(context.Background(), batchOf("malicious"))

	assert.Equal(t, 1, rec.Alerted, "delivery is at-least-once, not exactly-once")
	assert.True(t, rec.Done())
}

type failingSink struct{}

func (failingSink) Publish(context.Context, *core.Alert) error { return errors.New("sink unavailable") }
func (failingSink) Close() error                               { return nil }

func TestOrchestrator_RecentRunsNewestFirst(t *testing.T) {
	o, _ := newTestOrchestrator(t, scriptClient{}, DefaultOptions(), sink.NewMemorySink())

	first := o.ProcessBatch(context.Background(), batchOf("benign"))
	second := o.ProcessBatch(context.Background(), batchOf("benign", "benign"))

	runs := o.RecentRuns()
	require.Len(t, runs, 2)
	assert.Same(t, second, runs[0])
	assert.Same(t, first, runs[1])
}

func TestOrchestrator_SeverityBands(t *testing.T) {
	o, _ := newTestOrchestrator(t, scriptClient{}, DefaultOptions(), sink.NewMemorySink())

	tests := []struct {
		score float64
		want  core.Severity
	}{
		{0.9, core.SeverityCritical},
		{0.85, core.SeverityCritical},
		{0.7, core.SeverityHigh},
		{0.5, core.SeverityMedium},
		{0.49, core.SeverityLow},
		{0, core.SeverityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, o.severityFor(tt.score), "score %v", tt.score)
	}
}

func TestOrchestrator_ComposeScoreNormalizesWeights(t *testing.T) {
	opts := DefaultOptions()
	opts.Weights = ScoreWeights{Anomaly: 1, Threat: 1, Context: 2}
	o, _ := newTestOrchestrator(t, scriptClient{}, opts, sink.NewMemorySink())

	item := &core.StageResult{
		Anomaly:     &core.AnomalyResult{Score: 0.4},
		Threat:      &core.ThreatResult{ThreatScore: 0.8},
		Correlation: &core.CorrelationResult{ContextScore: 0.6},
	}
	// (1*0.4 + 1*0.8 + 2*0.6) / 4 = 0.6
	assert.InDelta(t, 0.6, o.composeScore(item), 0.001)

	o.opts.Weights = ScoreWeights{}
	assert.Zero(t, o.composeScore(item))
}
