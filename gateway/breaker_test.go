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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func succeedAction(ctx context.Context) (*InvokeResult, error) {
	return &InvokeResult{Success: true, Status: StatusSuccess}, nil
}

func failAction(ctx context.Context) (*InvokeResult, error) {
	return nil, errors.New("provider exploded")
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	breaker := NewCircuitBreaker("openai", CircuitBreakerConfig{})
	assert.Equal(t, CircuitClosed, breaker.State())
	assert.Equal(t, 0, breaker.FailureCount())
	assert.Equal(t, "openai", breaker.Name())
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	breaker := NewCircuitBreaker("openai", CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		Clock:            clock.Now,
	})

	for i := 0; i < 2; i++ {
		_, err := breaker.Execute(context.Background(), failAction, nil)
		require.Error(t, err)
		assert.Equal(t, CircuitClosed, breaker.State())
	}

	_, err := breaker.Execute(context.Background(), failAction, nil)
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, breaker.State())

	// While open, actions are rejected without being run.
	ran := false
	_, err = breaker.Execute(context.Background(), func(ctx context.Context) (*InvokeResult, error) {
		ran = true
		return succeedAction(ctx)
	}, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	breaker := NewCircuitBreaker("gemini", CircuitBreakerConfig{FailureThreshold: 3})

	_, _ = breaker.Execute(context.Background(), failAction, nil)
	_, _ = breaker.Execute(context.Background(), failAction, nil)
	assert.Equal(t, 2, breaker.FailureCount())

	_, err := breaker.Execute(context.Background(), succeedAction, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, breaker.FailureCount())
	assert.Equal(t, CircuitClosed, breaker.State())
}

func TestCircuitBreakerProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	breaker := NewCircuitBreaker("openai", CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		Clock:            clock.Now,
	})

	_, _ = breaker.Execute(context.Background(), failAction, nil)
	require.Equal(t, CircuitOpen, breaker.State())

	clock.Advance(31 * time.Second)

	result, err := breaker.Execute(context.Background(), succeedAction, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, CircuitClosed, breaker.State())
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	breaker := NewCircuitBreaker("openai", CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		Clock:            clock.Now,
	})

	_, _ = breaker.Execute(context.Background(), failAction, nil)
	require.Equal(t, CircuitOpen, breaker.State())

	clock.Advance(31 * time.Second)

	// The probe fails: the circuit reopens immediately regardless of the
	// failure threshold.
	_, err := breaker.Execute(context.Background(), failAction, nil)
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, breaker.State())

	// And the next recovery window starts from the failed probe.
	_, err = breaker.Execute(context.Background(), succeedAction, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerSingleProbe(t *testing.T) {
	clock := newFakeClock()
	breaker := NewCircuitBreaker("openai", CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		Clock:            clock.Now,
	})

	_, _ = breaker.Execute(context.Background(), failAction, nil)
	clock.Advance(2 * time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		_, err := breaker.Execute(context.Background(), func(ctx context.Context) (*InvokeResult, error) {
			close(probeStarted)
			<-release
			return succeedAction(ctx)
		}, nil)
		probeDone <- err
	}()

	<-probeStarted
	// A second caller while the probe is in flight is rejected, not queued.
	_, err := breaker.Execute(context.Background(), succeedAction, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, CircuitClosed, breaker.State())
}

func TestCircuitBreakerFallback(t *testing.T) {
	breaker := NewCircuitBreaker("openai", CircuitBreakerConfig{FailureThreshold: 1})

	fallback := func(ctx context.Context) (*InvokeResult, error) {
		return &InvokeResult{Success: true, Status: StatusFallback}, nil
	}

	// Action failure routes to the fallback.
	result, err := breaker.Execute(context.Background(), failAction, fallback)
	require.NoError(t, err)
	assert.Equal(t, StatusFallback, result.Status)

	// Open-circuit rejection routes to the fallback too.
	result, err = breaker.Execute(context.Background(), failAction, fallback)
	require.NoError(t, err)
	assert.Equal(t, StatusFallback, result.Status)
}

func TestCircuitBreakerTransitionCallback(t *testing.T) {
	clock := newFakeClock()

	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{}, 8)

	breaker := NewCircuitBreaker("openai", CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		Clock:            clock.Now,
		OnTransition: func(name string, from, to CircuitState) {
			mu.Lock()
			transitions = append(transitions, string(from)+"->"+string(to))
			mu.Unlock()
			done <- struct{}{}
		},
	})

	_, _ = breaker.Execute(context.Background(), failAction, nil)
	<-done
	clock.Advance(2 * time.Second)
	_, _ = breaker.Execute(context.Background(), succeedAction, nil)
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 3)
	assert.Equal(t, "CLOSED->OPEN", transitions[0])
	// The probe's two transitions fire on separate goroutines; their
	// relative order is not guaranteed.
	assert.ElementsMatch(t, []string{"OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions[1:])
}
