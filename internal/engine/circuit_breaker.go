package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the ledger store has failed repeatedly and
// saves are being rejected without touching it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds the configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip the circuit.
	// Default: 3
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning to half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of requests allowed through while
	// half-open.
	// Default: 1
	HalfOpenMaxSuccesses uint32
}

// DefaultCircuitBreakerConfig returns the default breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 1,
	}
}

// CircuitBreakerMetrics holds counters about breaker operations.
type CircuitBreakerMetrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	TotalRejected        uint64
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// CircuitBreaker wraps gobreaker to keep a failing ledger store from being
// hammered on every departure.
//
// When closed, saves pass through. After MaxFailures consecutive failures
// the circuit opens and saves are rejected with ErrCircuitOpen. After Timeout
// the circuit goes half-open and lets a trial save through.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	config  CircuitBreakerConfig

	mu       sync.RWMutex
	metrics  CircuitBreakerMetrics
	onChange func(state string)
}

// NewCircuitBreaker creates a circuit breaker. onChange, if non-nil, is
// called with the new state name on every transition.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, onChange func(state string)) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 3
	}
	if config.HalfOpenMaxSuccesses == 0 {
		config.HalfOpenMaxSuccesses = 1
	}

	cb := &CircuitBreaker{config: config, onChange: onChange}
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenMaxSuccesses,
		Interval:    0,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("WARNING: engine: circuit breaker %s %s -> %s", name, stateName(from), stateName(to))
			if cb.onChange != nil {
				cb.onChange(stateName(to))
			}
		},
	})
	return cb
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		cb.record(err)
		return err
	}

	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		cb.mu.Lock()
		cb.metrics.TotalRejected++
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.record(err)
	return err
}

// State returns the breaker state: "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	return stateName(cb.breaker.State())
}

// Metrics returns the breaker counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	counts := cb.breaker.Counts()
	m := cb.metrics
	m.ConsecutiveFailures = counts.ConsecutiveFailures
	m.ConsecutiveSuccesses = counts.ConsecutiveSuccesses
	return m
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.TotalRequests++
	if err != nil {
		cb.metrics.TotalFailures++
	} else {
		cb.metrics.TotalSuccesses++
	}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
