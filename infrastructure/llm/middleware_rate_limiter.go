package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimitedLLM paces requests with a token bucket.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a token bucket algorithm.
// The limit parameter sets requests per second, while burst allows
// temporary spikes above the sustained rate. Each wrapped provider gets its
// own bucket.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{
			next:    next,
			limiter: rate.NewLimiter(limit, burst),
		}
	}
}

// DoRequest waits for rate limit permission before forwarding the request.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, r.classify(fmt.Errorf("rate limit: %w", err))
	}
	return r.next.DoRequest(ctx, req)
}

// Provider returns the provider name from the wrapped implementation.
func (r *rateLimitedLLM) Provider() string { return r.next.Provider() }

func (r *rateLimitedLLM) classify(err error) error {
	ec := ErrorClassifier{Provider: r.next.Provider()}
	return ec.ClassifyContextError(err)
}
