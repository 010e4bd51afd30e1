package stage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"siemfusion/core"
	"siemfusion/metrics"

	"go.uber.org/zap"
)

// Fallback produces a degraded substitute response when retries are
// exhausted on a retryable failure. Stages without a fallback projection
// report Failed instead.
type Fallback func(req *Request) *Response

// Runner executes one analysis stage over one batch. Items fan out to at
// most the stage's worker-pool cap simultaneous client calls, each wrapped
// in the retry policy. Items whose predecessor result is Suppressed or
// Failed are passed through unchanged without a client call.
type Runner struct {
	kind        core.StageKind
	client      Client
	retry       *RetryPolicy
	pool        *core.WorkerPool
	budget      *core.ServiceBudget
	callTimeout time.Duration
	fallback    Fallback
	logger      *zap.SugaredLogger

	inFlight atomic.Int64
}

// NewRunner creates a stage runner. The pool bounds concurrency, the
// budget is the shared service token bucket, and fallback may be nil.
func NewRunner(kind core.StageKind, client Client, retry *RetryPolicy, pool *core.WorkerPool,
	budget *core.ServiceBudget, callTimeout time.Duration, fallback Fallback, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		kind:        kind,
		client:      client,
		retry:       retry,
		pool:        pool,
		budget:      budget,
		callTimeout: callTimeout,
		fallback:    fallback,
		logger:      logger,
	}
}

// Kind returns the stage this runner executes.
func (r *Runner) Kind() core.StageKind {
	return r.kind
}

// ActiveCalls reports client calls currently in flight.
func (r *Runner) ActiveCalls() int {
	return int(r.inFlight.Load())
}

// MaxConcurrency returns the stage's concurrency cap.
func (r *Runner) MaxConcurrency() int {
	return r.pool.Workers()
}

// Run processes a batch. Every input correlation id produces exactly one
// output, but output order is not preserved; callers reconcile by id.
// Cancelling ctx stops submitting new work and fails the rest fast; the
// concurrency cap is released even on cancellation because tasks return
// through the pool normally.
func (r *Runner) Run(ctx context.Context, items []*core.StageResult) []*core.StageResult {
	out := make([]*core.StageResult, 0, len(items))
	resultCh := make(chan *core.StageResult, len(items))
	var wg sync.WaitGroup

	for _, item := range items {
		if !item.Advanceable() {
			// Short-circuit: terminal predecessor, no client call.
			out = append(out, item)
			continue
		}

		item := item
		wg.Add(1)
		task := func() {
			defer wg.Done()
			resultCh <- r.processItem(ctx, item)
		}
		if err := r.pool.SubmitWait(ctx, task); err != nil {
			wg.Done()
			resultCh <- item.FailedResult(r.kind, core.KindTimeout, "batch cancelled before submission: "+err.Error())
		}
	}

	wg.Wait()
	close(resultCh)
	for res := range resultCh {
		metrics.StageResults.WithLabelValues(r.kind.String(), string(res.Status)).Inc()
		out = append(out, res)
	}
	return out
}

// processItem runs one item through budget acquisition, the retried client
// call, and result projection.
func (r *Runner) processItem(ctx context.Context, item *core.StageResult) *core.StageResult {
	start := time.Now()
	r.inFlight.Add(1)
	metrics.StageInFlight.WithLabelValues(r.kind.String()).Inc()
	defer func() {
		r.inFlight.Add(-1)
		metrics.StageInFlight.WithLabelValues(r.kind.String()).Dec()
		metrics.StageLatency.WithLabelValues(r.kind.String()).Observe(time.Since(start).Seconds())
	}()

	req := r.buildRequest(item)

	if err := r.budget.Acquire(ctx); err != nil {
		return item.FailedResult(r.kind, core.KindTimeout, "cancelled waiting for rate budget: "+err.Error())
	}

	resp, err := r.retry.Do(ctx, r.kind, func(ctx context.Context) (*Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		resp, err := r.client.Invoke(callCtx, r.kind, req)
		if err != nil {
			return nil, err
		}
		if verr := resp.Validate(r.kind); verr != nil {
			return nil, NewError(core.KindInvalidInput, verr)
		}
		return resp, nil
	})
	if err != nil {
		errKind := KindOf(err)
		if r.fallback != nil {
			r.logger.Warnw("Stage call exhausted retries, using fallback projection",
				"stage", r.kind, "correlation_id", item.CorrelationID, "kind", errKind)
			return r.applyResponse(item, r.fallback(req), core.StatusDegraded)
		}
		r.logger.Errorw("Stage call failed",
			"stage", r.kind, "correlation_id", item.CorrelationID, "kind", errKind, "error", err)
		return item.FailedResult(r.kind, errKind, err.Error())
	}
	return r.applyResponse(item, resp, core.StatusOK)
}

func (r *Runner) buildRequest(item *core.StageResult) *Request {
	return &Request{
		CorrelationID: item.CorrelationID,
		Stage:         r.kind,
		Event:         item.Event,
		Anomaly:       item.Anomaly,
		Threat:        item.Threat,
		Correlation:   item.Correlation,
	}
}

// applyResponse projects the client response onto a new StageResult,
// clamping scores on the way in.
func (r *Runner) applyResponse(item *core.StageResult, resp *Response, status core.StageStatus) *core.StageResult {
	var out *core.StageResult
	if status == core.StatusDegraded {
		out = item.DegradedResult(r.kind, resp.Confidence)
	} else {
		out = item.OkResult(r.kind, resp.Confidence)
	}

	switch r.kind {
	case core.StageAnomaly:
		a := *resp.Anomaly
		a.Score = core.ClampScore(a.Score)
		out.Anomaly = &a
	case core.StageThreat:
		t := *resp.Threat
		t.ThreatScore = core.ClampScore(t.ThreatScore)
		out.Threat = &t
	case core.StageCorrelation:
		c := *resp.Correlation
		c.ContextScore = core.ClampScore(c.ContextScore)
		out.Correlation = &c
	case core.StageAlertGen:
		d := *resp.Draft
		d.Confidence = core.ClampScore(d.Confidence)
		out.Draft = &d
	}
	return out
}
