package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(m *MockCoreLLM)
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "succeeds first time",
			setup:     func(m *MockCoreLLM) {},
			wantCalls: 1,
		},
		{
			name:      "recovers from transient failures",
			setup:     func(m *MockCoreLLM) { m.FailUntilAttempt = 2 },
			wantCalls: 3,
		},
		{
			name:      "gives up after max retries",
			setup:     func(m *MockCoreLLM) { m.FailUntilAttempt = 10 },
			wantErr:   true,
			wantCalls: 4,
		},
		{
			name: "does not retry authentication failures",
			setup: func(m *MockCoreLLM) {
				m.Error = NewProviderError("mock", ErrorTypeAuthentication, 401, "bad key", nil)
			},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "does not retry unclassified errors",
			setup:     func(m *MockCoreLLM) { m.Error = errors.New("malformed") },
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "does not retry an open circuit",
			setup:     func(m *MockCoreLLM) { m.Error = ErrCircuitOpen },
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockCoreLLM()
			tt.setup(mock)
			wrapped := RetryMiddleware(3, time.Millisecond, 5*time.Millisecond)(mock)

			resp, err := wrapped.DoRequest(context.Background(), Request{Model: "m"})

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "test response", resp.Content)
			}
			assert.Equal(t, tt.wantCalls, mock.GetCallCount())
		})
	}
}

func TestRetryMiddleware_WrapsFinalError(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 10
	wrapped := RetryMiddleware(2, time.Millisecond, time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), Request{})

	assert.ErrorContains(t, err, "request failed after 3 attempts")
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, ErrorTypeServerError, provErr.Type)
}

func TestRetryMiddleware_StopsOnCancel(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 100
	wrapped := RetryMiddleware(10, 100*time.Millisecond, time.Second)(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := wrapped.DoRequest(ctx, Request{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestRetryMiddleware_DelayBounds(t *testing.T) {
	r := &retryLLM{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}

	for attempt := 0; attempt < 3; attempt++ {
		base := time.Duration(float64(100*time.Millisecond) * float64(int(1)<<attempt))
		delay := r.calculateDelay(attempt)
		assert.GreaterOrEqual(t, delay, base*3/4)
		assert.LessOrEqual(t, delay, base*5/4)
	}

	assert.Equal(t, time.Second, r.calculateDelay(20), "Delay should be capped")
}
