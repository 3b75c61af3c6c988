package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the provider while its breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState is the state of one provider's breaker.
type CircuitBreakerState int

const (
	// StateClosed passes every call through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets a single probe through; its outcome closes or
	// reopens the breaker.
	StateHalfOpen
)

// String returns the state name used in metric labels.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerMetrics receives breaker outcomes per provider.
type CircuitBreakerMetrics interface {
	RecordState(provider string, state CircuitBreakerState)
	// RecordTrip counts calls rejected while open.
	RecordTrip(provider string)
	RecordSuccess(provider string)
	RecordFailure(provider string)
}

// CircuitBreaker counts consecutive provider outages. Failures caused by the
// request or the caller (bad input, credentials, cancellation) say nothing
// about provider health and leave the count alone.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive outages and probes again once cooldown has passed.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Call runs fn unless the breaker rejects it with ErrCircuitOpen. The lock
// is not held while fn runs.
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true, nil
	case StateHalfOpen:
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}

	if !isOutage(err) {
		if err == nil || probe {
			cb.failures = 0
			cb.state = StateClosed
		}
		return
	}

	cb.failures++
	if probe || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// isOutage reports whether err counts against provider health. Unclassified
// errors count; classified ones count when they are transient.
func isOutage(err error) bool {
	if err == nil {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}
	return !errors.Is(err, context.Canceled)
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type circuitBreakedLLM struct {
	next    CoreLLM
	cb      *CircuitBreaker
	metrics CircuitBreakerMetrics
}

// CircuitBreakerMiddleware guards each wrapped provider with its own
// breaker.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics is CircuitBreakerMiddleware reporting
// to metrics. A nil metrics records nothing.
func CircuitBreakerMiddlewareWithMetrics(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &circuitBreakedLLM{
			next:    next,
			cb:      NewCircuitBreaker(maxFailures, cooldown),
			metrics: metrics,
		}
	}
}

func (c *circuitBreakedLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := c.cb.Call(func() error {
		var err error
		resp, err = c.next.DoRequest(ctx, req)
		return err
	})

	if c.metrics != nil {
		provider := c.next.Provider()
		switch {
		case err == nil:
			c.metrics.RecordSuccess(provider)
		case errors.Is(err, ErrCircuitOpen):
			c.metrics.RecordTrip(provider)
		default:
			c.metrics.RecordFailure(provider)
		}
		c.metrics.RecordState(provider, c.cb.GetState())
	}
	return resp, err
}

func (c *circuitBreakedLLM) Provider() string { return c.next.Provider() }
