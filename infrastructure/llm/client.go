// Package llm implements the text-generation capability on top of the OpenAI,
// Anthropic and Gemini SDKs.
//
// Each provider is a CoreLLM wrapped by a middleware chain (timeout, retry,
// circuit breaking, rate limiting, metrics, tracing). The Router resolves a
// "provider/model" id to the right chain, lazily creating clients from the
// configured API keys, and translates provider failures into
// *domain.GenerationError.
//
// Basic usage:
//
//	router, err := llm.NewRouter(llm.RouterConfig{
//	    Providers: llm.DefaultProviders,
//	    APIKeys:   map[string]string{"openai": os.Getenv("OPENAI_API_KEY")},
//	    DefaultMiddleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(20, 40),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second),
//	    },
//	})
//	resp, err := router.Generate(ctx, ports.GenerateRequest{
//	    Model:    "openai/gpt-4o",
//	    Messages: []ports.Message{{Role: ports.RoleUser, Content: "Hello"}},
//	})
package llm

import (
	"context"
	"fmt"
	"time"
)

// CoreLLM defines the minimal interface that LLM providers must implement.
// Middleware wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends one chat request to the provider.
	DoRequest(ctx context.Context, req Request) (Response, error)

	// Provider returns the provider name, e.g. "openai".
	Provider() string
}

// modelLister is implemented by providers that can enumerate their models.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider.
	APIKey string

	// DefaultModel is used when a request carries no model.
	DefaultModel string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout sets the HTTP timeout of the underlying SDK client.
	// Zero value means no timeout.
	Timeout time.Duration

	// Middleware is applied in the order specified; the first entry is the
	// outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
type Middleware func(CoreLLM) CoreLLM

// Client is one provider's core wrapped by its middleware chain.
type Client struct {
	core CoreLLM
	base CoreLLM
}

// NewClient creates a new LLM client with the specified provider and configuration.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	base, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return newClientFromCore(base, config.Middleware), nil
}

// newClientFromCore applies middleware in reverse order so the first
// middleware is the outermost.
func newClientFromCore(base CoreLLM, middleware []Middleware) *Client {
	core := base
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	return &Client{core: core, base: base}
}

// Do sends a request through the middleware chain.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	return c.core.DoRequest(ctx, req)
}

// Provider returns the provider name of the wrapped core.
func (c *Client) Provider() string { return c.base.Provider() }

// ListModels enumerates the provider's models. It bypasses the middleware
// chain; model listing is not a generation call.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	lister, ok := c.base.(modelLister)
	if !ok {
		return nil, fmt.Errorf("%s: model listing not supported", c.base.Provider())
	}
	return lister.ListModels(ctx)
}

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

// providerFactories holds the registered provider constructors.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory allows registration of custom LLM provider factories.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}
