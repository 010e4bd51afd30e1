package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceBudget_Unlimited(t *testing.T) {
	budget := NewServiceBudget(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 100; i++ {
		require.NoError(t, budget.Acquire(ctx))
	}
}

func TestServiceBudget_PacesAcquisition(t *testing.T) {
	// 10 tokens/s, burst 1: three acquisitions need roughly 200ms.
	budget := NewServiceBudget(10, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, budget.Acquire(ctx))
	}
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "acquisitions beyond the burst must wait for refill")
}

func TestServiceBudget_AcquireHonorsContext(t *testing.T) {
	budget := NewServiceBudget(0.001, 1)
	require.NoError(t, budget.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := budget.Acquire(ctx)
	require.Error(t, err, "second token takes ~1000s to refill, context must win")
}
