package core

import (
	"context"

	"siemfusion/metrics"

	"golang.org/x/time/rate"
)

// ServiceBudget is the shared per-analysis-service rate-limit budget. All
// stage workers draw from the same token bucket, so availability is
// decided at a single synchronization point rather than guessed per
// worker.
type ServiceBudget struct {
	limiter *rate.Limiter
}

// NewServiceBudget creates a budget refilling at perSecond tokens with the
// given burst. perSecond <= 0 disables limiting.
func NewServiceBudget(perSecond float64, burst int) *ServiceBudget {
	if perSecond <= 0 {
		return &ServiceBudget{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &ServiceBudget{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Acquire blocks until one token is available or ctx is done. The ctx
// error is returned unwrapped so callers can classify cancellation vs
// deadline.
func (b *ServiceBudget) Acquire(ctx context.Context) error {
	err := b.limiter.Wait(ctx)
	metrics.RateBudgetRemaining.Set(b.limiter.Tokens())
	return err
}

// Remaining reports the tokens currently available. Fractional while the
// bucket refills.
func (b *ServiceBudget) Remaining() float64 {
	return b.limiter.Tokens()
}
