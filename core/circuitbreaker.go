package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// CircuitClosed means calls pass through normally.
	CircuitClosed CircuitBreakerState = "closed"
	// CircuitOpen means calls fail immediately.
	CircuitOpen CircuitBreakerState = "open"
	// CircuitHalfOpen means a limited number of probe calls are allowed.
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a call outright.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when the half-open probe budget is spent.
	ErrTooManyProbes = errors.New("too many half-open probe requests")
)

// CircuitBreakerConfig holds breaker tuning for one external dependency.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// MaxProbes is the max concurrent requests allowed while half-open.
	MaxProbes uint32
}

// Validate checks the breaker configuration.
func (c *CircuitBreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Cooldown <= 0 {
		return errors.New("Cooldown must be greater than 0")
	}
	if c.MaxProbes == 0 {
		return errors.New("MaxProbes must be greater than 0")
	}
	return nil
}

// DefaultCircuitBreakerConfig returns the defaults used for analysis
// service calls.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
		MaxProbes:   1,
	}
}

// CircuitBreaker guards a remote dependency: the analysis service in the
// stage clients and the webhook endpoint in the sink.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitBreakerState
	failures     uint32
	lastFailTime time.Time
	probes       uint32
	mu           sync.Mutex
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker configuration: %w", err)
	}
	return &CircuitBreaker{config: config, state: CircuitClosed}, nil
}

// Allow checks whether a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailTime) > cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.probes = 0
			cb.probes++
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.probes >= cb.config.MaxProbes {
			return ErrTooManyProbes
		}
		cb.probes++
		return nil
	default:
		return nil
	}
}

// RecordSuccess records a successful call. A success while half-open
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.failures = 0
		cb.probes = 0
	}
}

// RecordFailure records a failed call. A failure while half-open reopens
// the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailTime = time.Now()
	cb.failures++

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.probes = 0
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probes = 0
}
