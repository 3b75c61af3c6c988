package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimitMiddleware_PacesRequests(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(20), 1)(mock)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := wrapped.DoRequest(context.Background(), Request{})
		require.NoError(t, err)
	}

	// Burst of one at 20 rps leaves two 50ms waits.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestRateLimitMiddleware_ContextCancelled(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(0.1), 1)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = wrapped.DoRequest(ctx, Request{})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "mock", provErr.Provider)
	assert.Equal(t, 1, mock.GetCallCount(), "Rejected request should not reach the provider")
}

func TestRateLimitMiddleware_SeparateBuckets(t *testing.T) {
	mw := RateLimitMiddleware(rate.Limit(0.1), 1)
	a := mw(NewMockCoreLLM())
	b := mw(NewMockCoreLLM())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.DoRequest(ctx, Request{})
	require.NoError(t, err)
	_, err = b.DoRequest(ctx, Request{})
	assert.NoError(t, err, "Each provider should get its own bucket")
}
