// Package circuitbreaker stops calling a failing dependency for a cool-down
// period once it has failed repeatedly.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned without calling through while the breaker rejects
// requests.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail with ErrOpen
	StateHalfOpen              // a few trial calls decide whether to close again
)

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

type Config struct {
	FailureThreshold    int           // consecutive failures that open the circuit
	SuccessThreshold    int           // half-open successes that close it again
	Timeout             time.Duration // time spent open before probing
	MaxRequestsHalfOpen int           // concurrent trial calls allowed while half-open
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             10 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

type CircuitBreaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	trials        int
	lastFailure   time.Time
	changed       time.Time
	onStateChange func(from, to State)
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.MaxRequestsHalfOpen < 1 {
		cfg.MaxRequestsHalfOpen = 1
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   StateClosed,
		changed: time.Now(),
	}
}

// OnStateChange registers fn to be called, on its own goroutine, after
// every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute calls fn unless the circuit is open. fn's error is returned
// unchanged so callers can still inspect it.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// Do is Execute for functions that return a value
func Do[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	if err := cb.allow(); err != nil {
		var zero T
		return zero, err
	}
	v, err := fn()
	cb.record(err)
	return v, err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.changed) < cb.cfg.Timeout {
			return fmt.Errorf("%w: retry after %s", ErrOpen, cb.cfg.Timeout-time.Since(cb.changed))
		}
		cb.transition(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.MaxRequestsHalfOpen {
			return fmt.Errorf("%w: trial call in flight", ErrOpen)
		}
		cb.trials++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trials--
	}

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailure = time.Now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.changed = time.Now()
	cb.successes = 0
	cb.trials = 0
	if to != StateOpen {
		cb.failures = 0
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type Stats struct {
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
	Changed     time.Time
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
		Changed:     cb.changed,
	}
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failures = 0
}
