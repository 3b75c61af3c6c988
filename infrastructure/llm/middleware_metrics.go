package llm

import (
	"context"
	"errors"
	"time"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Metric names recorded by MetricsMiddleware.
const (
	MetricLLMLatency  = "llm_latency_seconds"
	MetricLLMRequests = "llm_requests_total"
	MetricLLMTokens   = "llm_tokens_total"
)

// metricsLLM records latency, request counts and token usage per provider
// and model.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:      next,
			collector: collector,
		}
	}
}

// DoRequest executes the request while collecting metrics.
func (m *metricsLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := m.next.DoRequest(ctx, req)

	if m.collector == nil {
		return resp, err
	}

	labels := map[string]string{
		"provider": m.next.Provider(),
		"model":    req.Model,
		"status":   requestStatus(ctx, err),
	}

	m.collector.RecordHistogram(MetricLLMLatency, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricLLMRequests, 1, labels)

	if err == nil {
		m.collector.RecordCounter(MetricLLMTokens, float64(resp.TokensIn), withLabel(labels, "token_type", "input"))
		m.collector.RecordCounter(MetricLLMTokens, float64(resp.TokensOut), withLabel(labels, "token_type", "output"))
	}

	return resp, err
}

// Provider returns the provider name from the wrapped implementation.
func (m *metricsLLM) Provider() string { return m.next.Provider() }

func requestStatus(ctx context.Context, err error) string {
	var provErr *ProviderError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &provErr) && provErr.Type == ErrorTypeTimeout:
		return "timeout"
	case errors.As(err, &provErr) && provErr.Type == ErrorTypeRateLimit:
		return "rate_limited"
	default:
		return "error"
	}
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}
