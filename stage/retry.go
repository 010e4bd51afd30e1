package stage

import (
	"context"
	"math"
	"math/rand"
	"time"

	"siemfusion/core"
	"siemfusion/metrics"
)

// RetryPolicy bounds retries of a stage client call with exponential
// backoff and jitter. The terminal outcome of a wrapped call is exactly
// one of success, Degraded (decided by the runner's fallback), or Failed.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Retryable is the set of error kinds worth retrying. KindInvalidInput
	// is never retried regardless of this set; KindUnknown is retried at
	// most once.
	Retryable map[core.ErrorKind]bool
}

// DefaultRetryPolicy matches the defaults used for all four stages.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
		Retryable: map[core.ErrorKind]bool{
			core.KindTimeout:     true,
			core.KindRateLimited: true,
			core.KindTransient:   true,
			core.KindUnknown:     true,
		},
	}
}

// Do invokes fn until it succeeds, a non-retryable error occurs, or
// attempts run out. The returned error carries the final classified kind.
func (p *RetryPolicy) Do(ctx context.Context, kind core.StageKind, fn func(context.Context) (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		errKind := KindOf(err)
		if !p.shouldRetry(errKind, attempt) {
			return nil, lastErr
		}
		metrics.StageRetries.WithLabelValues(kind.String(), errKind.String()).Inc()

		select {
		case <-time.After(p.delay(attempt, errKind)):
		case <-ctx.Done():
			return nil, NewError(core.KindTimeout, ctx.Err())
		}
	}
	return nil, lastErr
}

func (p *RetryPolicy) shouldRetry(errKind core.ErrorKind, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if errKind == core.KindInvalidInput {
		return false
	}
	// Unclassified failures get one retry, then fail.
	if errKind == core.KindUnknown && attempt >= 2 {
		return false
	}
	return p.Retryable[errKind]
}

// delay computes min(maxDelay, base*multiplier^(attempt-1)) plus up to 10%
// jitter. Rate-limited errors back off from a full maxDelay step since the
// quota window, not the service, is the bottleneck.
func (p *RetryPolicy) delay(attempt int, errKind core.ErrorKind) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if errKind == core.KindRateLimited {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}
