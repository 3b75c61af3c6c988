package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBreakerMetrics struct {
	mu        sync.Mutex
	states    []CircuitBreakerState
	trips     int
	successes int
	failures  int
}

func (m *recordingBreakerMetrics) RecordState(_ string, s CircuitBreakerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, s)
}
func (m *recordingBreakerMetrics) RecordTrip(string)    { m.mu.Lock(); m.trips++; m.mu.Unlock() }
func (m *recordingBreakerMetrics) RecordSuccess(string) { m.mu.Lock(); m.successes++; m.mu.Unlock() }
func (m *recordingBreakerMetrics) RecordFailure(string) { m.mu.Lock(); m.failures++; m.mu.Unlock() }

// fakeClock drives a breaker's cooldown without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(n int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(n, cooldown)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)
	fail := errors.New("upstream down")

	assert.Equal(t, StateClosed, cb.GetState())

	assert.ErrorIs(t, cb.Call(func() error { return fail }), fail)
	assert.Equal(t, StateClosed, cb.GetState(), "One failure should not trip")

	assert.ErrorIs(t, cb.Call(func() error { return fail }), fail)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "Open breaker should not call through")

	clock.advance(59 * time.Second)
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	clock.advance(time.Second)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState(), "Successful probe should close the breaker")
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	fail := errors.New("still down")

	for range 3 {
		_ = cb.Call(func() error { return fail })
	}
	require.Equal(t, StateOpen, cb.GetState())

	clock.advance(time.Minute)

	assert.ErrorIs(t, cb.Call(func() error { return fail }), fail)
	assert.Equal(t, StateOpen, cb.GetState(), "A failed probe should reopen immediately")

	clock.advance(30 * time.Second)
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen, "Reopening restarts the cooldown")
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	_ = cb.Call(func() error { return errors.New("down") })
	clock.advance(time.Minute)

	release := make(chan struct{})
	probeDone := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		probeDone <- cb.Call(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen, "Only one probe may be in flight")

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_IgnoresCallerFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		trip bool
	}{
		{name: "bad request", err: NewProviderError("openai", ErrorTypeBadRequest, 400, "", nil)},
		{name: "authentication", err: NewProviderError("openai", ErrorTypeAuthentication, 401, "", nil)},
		{name: "content policy", err: NewProviderError("gemini", ErrorTypeContentPolicy, 400, "", nil)},
		{name: "caller canceled", err: context.Canceled},
		{name: "server error", err: NewProviderError("openai", ErrorTypeServerError, 503, "", nil), trip: true},
		{name: "rate limit", err: NewProviderError("openai", ErrorTypeRateLimit, 429, "", nil), trip: true},
		{name: "unclassified", err: errors.New("connection reset"), trip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := newTestBreaker(2, time.Minute)
			for range 2 {
				_ = cb.Call(func() error { return tt.err })
			}
			if tt.trip {
				assert.Equal(t, StateOpen, cb.GetState())
			} else {
				assert.Equal(t, StateClosed, cb.GetState())
			}
		})
	}
}

func TestCircuitBreaker_DoesNotSerializeCalls(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 50 * time.Millisecond
	wrapped := CircuitBreakerMiddleware(5, time.Second)(mock)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wrapped.DoRequest(context.Background(), Request{Model: "m"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 150*time.Millisecond, "Concurrent calls should overlap")
	assert.Equal(t, 4, mock.GetCallCount())
}

func TestCircuitBreakerMiddleware_PerProviderBreakers(t *testing.T) {
	mw := CircuitBreakerMiddleware(1, time.Minute)

	failing := NewMockCoreLLM()
	failing.Error = errors.New("down")
	healthy := NewMockCoreLLM()

	a := mw(failing)
	b := mw(healthy)

	_, err := a.DoRequest(context.Background(), Request{})
	require.Error(t, err)
	_, err = a.DoRequest(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	_, err = b.DoRequest(context.Background(), Request{})
	assert.NoError(t, err, "A tripped provider should not affect another")
}

func TestCircuitBreakerMiddleware_Metrics(t *testing.T) {
	metrics := &recordingBreakerMetrics{}
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 1
	wrapped := CircuitBreakerMiddlewareWithMetrics(1, time.Minute, metrics)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{})
	require.Error(t, err)
	_, err = wrapped.DoRequest(context.Background(), Request{})
	require.ErrorIs(t, err, ErrCircuitOpen)

	assert.Equal(t, 1, metrics.failures)
	assert.Equal(t, 1, metrics.trips)
	assert.Equal(t, 0, metrics.successes)
	assert.Equal(t, []CircuitBreakerState{StateOpen, StateOpen}, metrics.states)
	assert.Equal(t, "mock", wrapped.Provider())
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}
