// Package testutils provides scripted collaborators for tests of the
// optimization pipeline: a pattern-matching generator, an in-memory store,
// and recorders for tracking and metrics calls.
package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// DefaultMockResponse is returned when no rule matches a request.
const DefaultMockResponse = "This is a standard response for testing purposes."

// MockResponse is one scripted answer of a MockGenerator.
type MockResponse struct {
	// Model restricts the rule to one model id. Bare names are qualified
	// before comparison. Empty matches any model.
	Model string
	// Pattern is matched case-insensitively against the request messages.
	// Empty matches any request.
	Pattern string
	// Response is the returned content.
	Response string
	// Usage is reported with the response.
	Usage domain.TokenUsage
	// Err, when set, is returned instead of a response.
	Err error
	// Times limits how often the rule fires. Zero means unlimited.
	Times int
	// Delay is waited before answering, honouring the context.
	Delay time.Duration
}

type mockRule struct {
	MockResponse
	fired int
}

// MockGenerator implements ports.Generator with deterministic responses
// chosen by the first rule whose model and pattern match the request.
type MockGenerator struct {
	mu       sync.Mutex
	rules    []*mockRule
	fallback MockResponse
	calls    []ports.GenerateRequest
}

var _ ports.Generator = (*MockGenerator)(nil)

// NewMockGenerator creates a MockGenerator that answers unmatched requests
// with DefaultMockResponse.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		fallback: MockResponse{
			Response: DefaultMockResponse,
			Usage:    Usage(10, 5),
		},
	}
}

// AddResponse appends a rule. Rules are consulted in insertion order.
func (m *MockGenerator) AddResponse(resp MockResponse) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &mockRule{MockResponse: resp})
	return m
}

// SetFallback replaces the answer used when no rule matches.
func (m *MockGenerator) SetFallback(resp MockResponse) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
	return m
}

// Generate implements ports.Generator.
func (m *MockGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return ports.GenerateResponse{}, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	resp := m.match(req)
	m.mu.Unlock()

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return ports.GenerateResponse{}, ctx.Err()
		}
	}

	if resp.Err != nil {
		return ports.GenerateResponse{}, resp.Err
	}
	return ports.GenerateResponse{
		Content: resp.Response,
		Model:   domain.ResolveModelID(req.Model),
		Usage:   resp.Usage,
	}, nil
}

// match must be called with mu held.
func (m *MockGenerator) match(req ports.GenerateRequest) MockResponse {
	model := domain.ResolveModelID(req.Model)
	text := strings.ToLower(joinMessages(req.Messages))

	for _, r := range m.rules {
		if r.Times > 0 && r.fired >= r.Times {
			continue
		}
		if r.Model != "" && domain.ResolveModelID(r.Model) != model {
			continue
		}
		if r.Pattern != "" && !strings.Contains(text, strings.ToLower(r.Pattern)) {
			continue
		}
		r.fired++
		return r.MockResponse
	}
	return m.fallback
}

// Calls returns a copy of every request received so far.
func (m *MockGenerator) Calls() []ports.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.GenerateRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of requests received.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsForModel returns the requests addressed to model.
func (m *MockGenerator) CallsForModel(model string) []ports.GenerateRequest {
	want := domain.ResolveModelID(model)
	var out []ports.GenerateRequest
	for _, c := range m.Calls() {
		if domain.ResolveModelID(c.Model) == want {
			out = append(out, c)
		}
	}
	return out
}

// Reset removes every rule and recorded call.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = nil
	m.calls = nil
}

func joinMessages(msgs []ports.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// Usage builds a TokenUsage with a consistent total.
func Usage(prompt, completion int) domain.TokenUsage {
	return domain.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// JuryJSON renders a well-formed jury verdict.
func JuryJSON(score float64, reasoning string) string {
	b, err := json.Marshal(map[string]any{"score": score, "reasoning": reasoning})
	if err != nil {
		panic(fmt.Sprintf("marshal jury verdict: %v", err))
	}
	return string(b)
}

// RefinementJSON renders a well-formed refiner answer.
func RefinementJSON(explanation, refinedPrompt, deltaReasoning string) string {
	b, err := json.Marshal(map[string]string{
		"explanation":    explanation,
		"refinedPrompt":  refinedPrompt,
		"deltaReasoning": deltaReasoning,
	})
	if err != nil {
		panic(fmt.Sprintf("marshal refinement: %v", err))
	}
	return string(b)
}
