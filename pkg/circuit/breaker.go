// Package circuit provides a circuit breaker for calls to external collaborators.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/Ratio1/edge-node-sub002/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls until Timeout has passed
	StateOpen
	// StateHalfOpen lets calls through to probe recovery
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	Name            string        // Reported in rejection errors
	MaxFailures     int           // Failures in the closed state before opening
	SuccessRequired int           // Successes in half-open before closing
	Timeout         time.Duration // Open duration before probing
	ResetTimeout    time.Duration // Closed-state failure counting window
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:            "default",
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config *Config
	now    func() time.Time
	mutex  sync.Mutex

	state       State
	failures    int
	successes   int
	lastFailure time.Time
	windowStart time.Time
}

// New creates a new circuit breaker
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}

	b := &Breaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
	b.windowStart = b.now()
	return b
}

// Execute runs fn unless the circuit is open
func (cb *Breaker) Execute(_ context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

// ExecuteWithResult is Execute for functions returning a value
func ExecuteWithResult[T any](_ context.Context, cb *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}

	result, err := fn()
	cb.record(err)
	return result, err
}

func (cb *Breaker) admit() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	switch cb.state {
	case StateClosed:
		if now.Sub(cb.windowStart) > cb.config.ResetTimeout {
			cb.failures = 0
			cb.windowStart = now
		}
		return nil
	case StateOpen:
		if now.Sub(cb.lastFailure) > cb.config.Timeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			return nil
		}
	case StateHalfOpen:
		return nil
	}

	rejection := errors.New(errors.ErrorTypeInternal, "circuit_breaker", "circuit breaker is open").
		WithContext("breaker", cb.config.Name).
		WithContext("state", cb.state.String())
	rejection.Retryable = false
	return rejection
}

func (cb *Breaker) record(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()

		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.config.MaxFailures) {
			cb.state = StateOpen
			cb.successes = 0
		}
		return
	}

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessRequired {
		cb.state = StateClosed
		cb.failures = 0
		cb.successes = 0
		cb.windowStart = cb.now()
	}
}

// GetState returns the current state
func (cb *Breaker) GetState() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Stats is a snapshot of breaker counters
type Stats struct {
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// GetStats returns a snapshot of the breaker counters
func (cb *Breaker) GetStats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Stats{
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}
}

// Reset forces the breaker closed
func (cb *Breaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.windowStart = cb.now()
}
