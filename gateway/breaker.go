// Copyright 2026 TaskMesh
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the per-dependency failure-isolation state.
type CircuitState string

const (
	// CircuitClosed is the initial state: actions execute normally.
	CircuitClosed CircuitState = "CLOSED"

	// CircuitOpen rejects all actions until the recovery timeout elapses.
	CircuitOpen CircuitState = "OPEN"

	// CircuitHalfOpen allows exactly one probing call in flight.
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// ErrCircuitOpen is returned when an action is rejected because the
// circuit is open (or a probe is already in flight) and no fallback was
// supplied.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerAction is any provider call wrapped by the breaker.
type BreakerAction func(ctx context.Context) (*InvokeResult, error)

// CircuitBreakerConfig configures a breaker instance.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the circuit from CLOSED to OPEN. Defaults to 5.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays OPEN before a single
	// probe is allowed. Defaults to 30 seconds.
	RecoveryTimeout time.Duration

	// OnTransition is invoked on every state change, outside the breaker
	// lock. Used to publish observability events.
	OnTransition func(name string, from, to CircuitState)

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// CircuitBreaker isolates a single failing dependency. One breaker is
// created per protected provider.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	onTransition     func(name string, from, to CircuitState)
	now              func() time.Time

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	nextAttempt  time.Time
	probeActive  bool
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: config.FailureThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		onTransition:     config.OnTransition,
		now:              config.Clock,
		state:            CircuitClosed,
	}
}

// Execute runs the action through the breaker. If the action fails or the
// circuit rejects it and a fallback is supplied, the fallback result is
// returned instead of the error.
//
// HALF_OPEN admits exactly one probe: a second caller arriving while the
// probe is in flight is rejected, not queued.
func (b *CircuitBreaker) Execute(ctx context.Context, action BreakerAction, fallback BreakerAction) (*InvokeResult, error) {
	probing, err := b.admit()
	if err != nil {
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, err
	}

	result, actionErr := action(ctx)
	if actionErr != nil {
		b.recordFailure(probing)
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, actionErr
	}

	b.recordSuccess(probing)
	return result, nil
}

// admit decides whether a call may proceed. It returns true when the call
// is the HALF_OPEN probe.
func (b *CircuitBreaker) admit() (bool, error) {
	b.mu.Lock()

	switch b.state {
	case CircuitClosed:
		b.mu.Unlock()
		return false, nil

	case CircuitOpen:
		if b.now().After(b.nextAttempt) {
			b.transitionLocked(CircuitHalfOpen)
			b.probeActive = true
			b.mu.Unlock()
			return true, nil
		}
		b.mu.Unlock()
		return false, ErrCircuitOpen

	case CircuitHalfOpen:
		if b.probeActive {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.probeActive = true
		b.mu.Unlock()
		return true, nil
	}

	b.mu.Unlock()
	return false, ErrCircuitOpen
}

// recordSuccess closes the circuit after a successful probe and resets the
// consecutive-failure count.
func (b *CircuitBreaker) recordSuccess(probing bool) {
	b.mu.Lock()
	if probing {
		b.probeActive = false
	}
	b.failureCount = 0
	if b.state != CircuitClosed {
		b.transitionLocked(CircuitClosed)
	}
	b.mu.Unlock()
}

// recordFailure counts a failure. A failed probe reopens the circuit
// immediately, regardless of the threshold.
func (b *CircuitBreaker) recordFailure(probing bool) {
	b.mu.Lock()
	if probing {
		b.probeActive = false
		b.nextAttempt = b.now().Add(b.recoveryTimeout)
		b.transitionLocked(CircuitOpen)
		b.mu.Unlock()
		return
	}

	b.failureCount++
	if b.state == CircuitClosed && b.failureCount >= b.failureThreshold {
		b.nextAttempt = b.now().Add(b.recoveryTimeout)
		b.transitionLocked(CircuitOpen)
	}
	b.mu.Unlock()
}

// transitionLocked changes state and schedules the transition callback.
// Caller must hold b.mu. The callback runs on a separate goroutine so
// event emission never executes under the breaker lock.
func (b *CircuitBreaker) transitionLocked(to CircuitState) {
	from := b.state
	b.state = to
	if b.onTransition != nil && from != to {
		go b.onTransition(b.name, from, to)
	}
}

// State returns the current circuit state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive-failure count.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Name returns the protected dependency's name.
func (b *CircuitBreaker) Name() string {
	return b.name
}
