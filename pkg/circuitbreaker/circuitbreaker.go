// Package circuitbreaker guards calls to flaky dependencies. The broker
// publish path uses it so a dead redis degrades feed delivery instead of
// stalling every write.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type Settings struct {
	Name        string
	MaxRequests int
	Interval    time.Duration
	Timeout     time.Duration
}

// CircuitBreaker opens after MaxRequests consecutive failures and probes
// again after Timeout. A single success closes it and resets the count.
type CircuitBreaker struct {
	settings Settings

	mu          sync.Mutex
	state       state
	failures    int
	lastFailure time.Time
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	return &CircuitBreaker{settings: settings}
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != stateOpen {
		return nil
	}
	if time.Since(cb.lastFailure) > cb.settings.Timeout {
		cb.state = stateHalfOpen
		return nil
	}
	return ErrOpen
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.settings.MaxRequests {
			cb.state = stateOpen
		}
		return
	}

	cb.state = stateClosed
	cb.failures = 0
}
