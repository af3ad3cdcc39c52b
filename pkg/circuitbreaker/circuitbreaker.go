package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/halovoice/voice-caller/pkg/metrics"
)

// ErrOpen is returned while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold int           // Number of failures before opening
	SuccessThreshold int           // Number of successes to close from half-open
	Timeout          time.Duration // Time to wait before attempting half-open
	ResetTimeout     time.Duration // Time before resetting failure count
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
	}
}

// CircuitBreaker guards one remote service. Failures past the threshold open the
// breaker; after Timeout a single probe is let through.
type CircuitBreaker struct {
	name          string
	config        Config
	state         State
	failures      int
	successes     int
	lastFailTime  time.Time
	lastResetTime time.Time
	mu            sync.RWMutex
}

// New creates a circuit breaker named after the service it protects.
func New(name string, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:          name,
		config:        config,
		state:         StateClosed,
		lastResetTime: time.Now(),
	}
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	cb.updateState()
	state := cb.state
	cb.mu.Unlock()

	if state == StateOpen {
		return ErrOpen
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) updateState() {
	now := time.Now()

	if now.Sub(cb.lastResetTime) > cb.config.ResetTimeout {
		cb.failures = 0
		cb.lastResetTime = now
	}

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
			cb.lastFailTime = now
		}
	case StateOpen:
		if now.Sub(cb.lastFailTime) >= cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.successes = 0
		}
	case StateHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.failures = 0
		} else if cb.failures > 0 {
			cb.setState(StateOpen)
			cb.lastFailTime = now
		}
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	metrics.UpdateCircuitBreaker(cb.name, state.String(), int64(cb.failures))
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()
		if cb.state == StateHalfOpen {
			cb.successes = 0
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
		}
	}
	metrics.UpdateCircuitBreaker(cb.name, cb.state.String(), int64(cb.failures))
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
