package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForCondition polls a condition function with timeout
func waitForCondition(t *testing.T, condition func() bool, timeout time.Duration, description string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		<-ticker.C
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for condition: %s (timeout: %v)", description, timeout)
		}
	}
}

func TestCircuitBreakerBasicFlow(t *testing.T) {
	config := CircuitBreakerConfig{
		MaxFailures: 3,
		Cooldown:    100 * time.Millisecond,
		MaxProbes:   1,
	}
	cb, err := NewCircuitBreaker(config)
	require.NoError(t, err)

	assert.Equal(t, CircuitClosed, cb.State())

	// Failures below the limit keep the circuit closed.
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	// After the cooldown the first Allow is a half-open probe.
	waitForCondition(t, func() bool {
		return cb.Allow() == nil
	}, 1*time.Second, "circuit breaker cooldown to expire")
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Probe budget spent, further calls rejected.
	assert.ErrorIs(t, cb.Allow(), ErrTooManyProbes)

	// Success on the probe closes the circuit.
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Cooldown:    50 * time.Millisecond,
		MaxProbes:   1,
	})
	require.NoError(t, err)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	waitForCondition(t, func() bool {
		return cb.Allow() == nil
	}, 1*time.Second, "cooldown to expire")
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 2,
		Cooldown:    time.Second,
		MaxProbes:   1,
	})
	require.NoError(t, err)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State(), "success must reset the consecutive failure count")
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Cooldown:    time.Minute,
		MaxProbes:   1,
	})
	require.NoError(t, err)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		config CircuitBreakerConfig
	}{
		{"zero max failures", CircuitBreakerConfig{MaxFailures: 0, Cooldown: time.Second, MaxProbes: 1}},
		{"zero cooldown", CircuitBreakerConfig{MaxFailures: 1, Cooldown: 0, MaxProbes: 1}},
		{"zero probes", CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Second, MaxProbes: 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCircuitBreaker(tc.config)
			require.Error(t, err)
		})
	}

	_, err := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	require.NoError(t, err)
}
