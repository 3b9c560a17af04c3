// Package engine runs the presence tracker as a service: a single consumer
// goroutine drains the tick queue into the tracker, a clock-driven sweeper
// expires sessions when no detections arrive, and a persister writes the
// ledger through a circuit breaker.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/dwell/internal/presence"
)

// Config holds configuration for the presence engine.
type Config struct {
	// Tracker holds the session tunables.
	Tracker presence.Config

	// QueueSize is the tick queue buffer (default: 256).
	QueueSize int

	// SweepInterval injects an empty tick this often so sessions expire while
	// the feed is silent. Zero disables sweeping, which is what replays of
	// recorded ticks want (default: 1s).
	SweepInterval time.Duration

	// FlushInterval persists the ledger periodically in addition to the
	// per-departure save. Zero disables (default: 0).
	FlushInterval time.Duration

	// RestampTicks replaces producer timestamps with the engine clock.
	RestampTicks bool

	// AsyncSave moves ledger writes off the tick path (default: false).
	AsyncSave bool

	// SaveTimeout bounds one ledger write (default: 5s).
	SaveTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for the queue to drain on
	// shutdown (default: 10s).
	ShutdownTimeout time.Duration

	// Breaker configures the ledger save circuit breaker.
	Breaker CircuitBreakerConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tracker:         presence.DefaultConfig(),
		QueueSize:       256,
		SweepInterval:   time.Second,
		SaveTimeout:     5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Breaker:         DefaultCircuitBreakerConfig(),
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if err := c.Tracker.Validate(); err != nil {
		return err
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SweepInterval must be >= 0, got %v", c.SweepInterval)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("FlushInterval must be >= 0, got %v", c.FlushInterval)
	}
	if c.SaveTimeout <= 0 {
		return fmt.Errorf("SaveTimeout must be > 0, got %v", c.SaveTimeout)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	if c.Breaker.MaxFailures < 1 {
		return fmt.Errorf("Breaker.MaxFailures must be >= 1, got %d", c.Breaker.MaxFailures)
	}
	return nil
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	TicksProcessed uint64    `json:"ticks_processed"`
	SweepTicks     uint64    `json:"sweep_ticks"`
	Arrivals       uint64    `json:"arrivals"`
	Departures     uint64    `json:"departures"`
	QueueDepth     int       `json:"queue_depth"`
	QueueCapacity  int       `json:"queue_capacity"`
	OpenSessions   int       `json:"open_sessions"`
	LastTick       time.Time `json:"last_tick,omitempty"`
	Backend        string    `json:"backend"`
	BreakerState   string    `json:"breaker_state"`
}
