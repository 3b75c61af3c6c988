package llm

import (
	"context"
	"sync"
	"time"
)

// MockCoreLLM is a scripted CoreLLM for middleware and router tests.
type MockCoreLLM struct {
	mu sync.Mutex

	Response     string
	TokensIn     int
	TokensOut    int
	ProviderName string
	// Error, when set, fails every call.
	Error error
	// FailUntilAttempt fails the first n calls with a retryable server error
	// (or Error when set) and succeeds afterwards.
	FailUntilAttempt int
	// ResponseDelay is waited before answering, honouring the context.
	ResponseDelay time.Duration

	CallCount   int
	LastRequest Request
	LastContext context.Context
}

// NewMockCoreLLM creates a mock that always succeeds.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:     "test response",
		TokensIn:     10,
		TokensOut:    20,
		ProviderName: "mock",
	}
}

// DoRequest implements CoreLLM. The lock is released during ResponseDelay
// so concurrent calls overlap.
func (m *MockCoreLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastRequest = req
	m.LastContext = ctx
	delay := m.ResponseDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case call <= m.FailUntilAttempt && m.Error == nil:
		return Response{}, NewProviderError(m.ProviderName, ErrorTypeServerError, 503, "simulated failure", nil)
	case m.Error != nil && (m.FailUntilAttempt == 0 || call <= m.FailUntilAttempt):
		return Response{}, m.Error
	}

	return Response{
		Content:     m.Response,
		Model:       req.Model,
		TokensIn:    m.TokensIn,
		TokensOut:   m.TokensOut,
		TotalTokens: m.TokensIn + m.TokensOut,
	}, nil
}

func (m *MockCoreLLM) Provider() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ProviderName
}

func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

func (m *MockCoreLLM) GetLastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastRequest
}
