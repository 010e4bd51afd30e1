package stage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"siemfusion/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// funcClient adapts a function to the Client interface.
type funcClient func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error)

func (f funcClient) Invoke(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
	return f(ctx, kind, req)
}

func newTestRunner(t *testing.T, kind core.StageKind, client Client, concurrency int, fallback Fallback) (*Runner, *core.WorkerPool) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	pool := core.NewWorkerPool(context.Background(), concurrency, 100, "test-"+kind.String(), logger)
	pool.Start()
	t.Cleanup(pool.Stop)

	policy := fastRetryPolicy(3)
	budget := core.NewServiceBudget(0, 0)
	return NewRunner(kind, client, policy, pool, budget, time.Second, fallback, logger), pool
}

func admittedItems(n int) []*core.StageResult {
	items := make([]*core.StageResult, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, core.Admit(core.NewEvent(core.SourceSyslog)))
	}
	return items
}

func TestRunner_OneResultPerItem(t *testing.T) {
	client := funcClient(func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
		return &Response{Anomaly: &core.AnomalyResult{Score: 0.5, Classification: core.ClassSuspicious}, Confidence: 0.9}, nil
	})
	runner, _ := newTestRunner(t, core.StageAnomaly, client, 4, nil)

	items := admittedItems(10)
	out := runner.Run(context.Background(), items)

	require.Len(t, out, 10)
	seen := make(map[core.CorrelationID]bool)
	for _, res := range out {
		assert.Equal(t, core.StatusOK, res.Status)
		assert.Equal(t, core.StageAnomaly, res.Stage)
		require.NotNil(t, res.Anomaly)
		assert.False(t, seen[res.CorrelationID], "duplicate result for %s", res.CorrelationID)
		seen[res.CorrelationID] = true
	}
}

func TestRunner_ConcurrencyNeverExceedsCap(t *testing.T) {
	const cap = 3
	var inFlight, peak atomic.Int64
	client := funcClient(func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return &Response{Anomaly: &core.AnomalyResult{}}, nil
	})
	runner, _ := newTestRunner(t, core.StageAnomaly, client, cap, nil)

	runner.Run(context.Background(), admittedItems(30))
	assert.LessOrEqual(t, peak.Load(), int64(cap))
}

func TestRunner_ShortCircuitsTerminalItems(t *testing.T) {
	var calls atomic.Int64
	client := funcClient(func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
		calls.Add(1)
		return &Response{Threat: &core.ThreatResult{}}, nil
	})
	runner, _ := newTestRunner(t, core.StageThreat, client, 2, nil)

	ok := core.Admit(core.NewEvent(core.SourceSyslog)).OkResult(core.StageAnomaly, 0.9)
	ok.Anomaly = &core.AnomalyResult{Score: 0.8}
	suppressed := core.Admit(core.NewEvent(core.SourceSyslog)).SuppressedResult(core.StageAnomaly, "below threshold")
	failed := core.Admit(core.NewEvent(core.SourceSyslog)).FailedResult(core.StageAnomaly, core.KindTimeout, "boom")

	out := runner.Run(context.Background(), []*core.StageResult{ok, suppressed, failed})

	require.Len(t, out, 3)
	assert.Equal(t, int64(1), calls.Load(), "only the advanceable item reaches the client")

	byID := make(map[core.CorrelationID]*core.StageResult)
	for _, res := range out {
		byID[res.CorrelationID] = res
	}
	assert.Same(t, suppressed, byID[suppressed.CorrelationID], "suppressed items pass through unchanged")
	assert.Same(t, failed, byID[failed.CorrelationID], "failed items pass through unchanged")
	assert.Equal(t, core.StageThreat, byID[ok.CorrelationID].Stage)
}

func TestRunner_FallbackProducesDegraded(t *testing.T) {
	client := funcClient(func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
		return nil, NewError(core.KindTransient, errors.New("service down"))
	})
	runner, _ := newTestRunner(t, core.StageAnomaly, client, 2, AnomalyFallback)

	out := runner.Run(context.Background(), admittedItems(1))

	require.Len(t, out, 1)
	assert.Equal(t, core.StatusDegraded, out[0].Status)
	require.NotNil(t, out[0].Anomaly)
	assert.Equal(t, core.ClassSuspicious, out[0].Anomaly.Classification)
	assert.Equal(t, 0.0, out[0].Confidence)
	assert.True(t, out[0].Advanceable(), "degraded results keep moving through the pipeline")
}

func TestRunner_NoFallbackProducesFailed(t *testing.T) {
	client := funcClient(func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
		return nil, NewError(core.KindTransient, errors.New("service down"))
	})
	runner, _ := newTestRunner(t, core.StageThreat, client, 2, nil)

	item := core.Admit(core.NewEvent(core.SourceSyslog)).OkResult(core.StageAnomaly, 0.9)
	item.Anomaly = &core.AnomalyResult{Score: 0.6}
	out := runner.Run(context.Background(), []*core.StageResult{item})

	require.Len(t, out, 1)
	assert.Equal(t, core.StatusFailed, out[0].Status)
	assert.Equal(t, core.KindTransient, out[0].ErrKind)
	assert.False(t, out[0].Advanceable())
}

func TestRunner_InvalidResponseClassifiedInvalidInput(t *testing.T) {
	// Client returns the wrong payload for the stage.
	client := funcClient(func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
		return &Response{Threat: &core.ThreatResult{}}, nil
	})
	runner, _ := newTestRunner(t, core.StageAnomaly, client, 1, nil)

	out := runner.Run(context.Background(), admittedItems(1))
	require.Len(t, out, 1)
	assert.Equal(t, core.StatusFailed, out[0].Status)
	assert.Equal(t, core.KindInvalidInput, out[0].ErrKind)
}

func TestRunner_ScoreClampedFromClient(t *testing.T) {
	client := funcClient(func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
		return &Response{Anomaly: &core.AnomalyResult{Score: 3.2}, Confidence: 0.9}, nil
	})
	runner, _ := newTestRunner(t, core.StageAnomaly, client, 1, nil)

	out := runner.Run(context.Background(), admittedItems(1))
	require.Len(t, out, 1)
	assert.Equal(t, 1.0, out[0].Anomaly.Score)
}

func TestRunner_ConcurrentRunsShareBudget(t *testing.T) {
	var calls atomic.Int64
	client := funcClient(func(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
		calls.Add(1)
		return &Response{Anomaly: &core.AnomalyResult{}}, nil
	})
	runner, _ := newTestRunner(t, core.StageAnomaly, client, 4, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := runner.Run(context.Background(), admittedItems(5))
			assert.Len(t, out, 5)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(15), calls.Load())
}
