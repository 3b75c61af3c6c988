package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	// Type specifies the provider implementation (openai, anthropic, gemini).
	Type string
	// EnvVar names the environment variable that conventionally holds the key.
	EnvVar string
	// DefaultModel is used for requests that name only the provider.
	DefaultModel string
	// BaseURL overrides the default API endpoint for the provider.
	BaseURL string
	// Middleware specifies provider-specific middleware, applied inside the
	// default middleware.
	Middleware []Middleware
}

// DefaultProviders lists the supported providers and their key variables.
var DefaultProviders = map[string]ProviderConfig{
	domain.ProviderOpenAI: {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
	},
	domain.ProviderAnthropic: {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
	},
	domain.ProviderGemini: {
		Type:         "gemini",
		EnvVar:       "GEMINI_API_KEY",
		DefaultModel: GeminiDefaultModel,
	},
}

// RouterConfig holds configuration for the Router.
type RouterConfig struct {
	// Providers defines the available providers and their configurations.
	Providers map[string]ProviderConfig
	// APIKeys maps provider names to credentials. Providers without a key
	// are reported as not configured.
	APIKeys map[string]string
	// DefaultTimeout sets the SDK HTTP timeout for every provider.
	DefaultTimeout time.Duration
	// DefaultMiddleware is applied to every provider client.
	DefaultMiddleware []Middleware
	// Logger receives client lifecycle logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Router implements ports.Generator and ports.ModelLister by dispatching
// "provider/model" ids to lazily created provider clients.
type Router struct {
	providers         map[string]ProviderConfig
	keys              map[string]string
	defaultTimeout    time.Duration
	defaultMiddleware []Middleware
	logger            *slog.Logger

	// mu guards clients.
	mu      sync.RWMutex
	clients map[string]*Client
}

var (
	_ ports.Generator   = (*Router)(nil)
	_ ports.ModelLister = (*Router)(nil)
)

// NewRouter creates a Router. The key set is copied; it changes only through
// SetAPIKey.
func NewRouter(config RouterConfig) (*Router, error) {
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	keys := make(map[string]string, len(config.APIKeys))
	for p, k := range config.APIKeys {
		if _, ok := config.Providers[p]; !ok {
			return nil, fmt.Errorf("API key given for unknown provider %q", p)
		}
		if k != "" {
			keys[p] = k
		}
	}

	return &Router{
		providers:         config.Providers,
		keys:              keys,
		defaultTimeout:    config.DefaultTimeout,
		defaultMiddleware: config.DefaultMiddleware,
		logger:            logger,
		clients:           make(map[string]*Client),
	}, nil
}

// Generate resolves req.Model, forwards the request to the provider and
// returns its content and usage. Every failure is a *domain.GenerationError.
func (r *Router) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GenerateResponse, error) {
	qualified := domain.ResolveModelID(req.Model)

	provider, model, ok := domain.SplitModelID(qualified)
	if !ok {
		return ports.GenerateResponse{}, domain.NewGenerationError(qualified, domain.GenerationBadRequest,
			fmt.Errorf("%w: cannot infer provider for model %q", ports.ErrUnknownProvider, req.Model))
	}

	client, err := r.Client(provider)
	if err != nil {
		return ports.GenerateResponse{}, ToGenerationError(qualified, err)
	}

	resp, err := client.Do(ctx, buildRequest(model, req))
	if err != nil {
		return ports.GenerateResponse{}, ToGenerationError(qualified, err)
	}

	return ports.GenerateResponse{
		Content: resp.Content,
		Model:   qualified,
		Usage: domain.TokenUsage{
			PromptTokens:     resp.TokensIn,
			CompletionTokens: resp.TokensOut,
			TotalTokens:      resp.TotalTokens,
		},
	}, nil
}

// Client returns the middleware-wrapped client of a provider, creating it
// on first use.
func (r *Router) Client(provider string) (*Client, error) {
	r.mu.RLock()
	if client, exists := r.clients[provider]; exists {
		r.mu.RUnlock()
		return client, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[provider]; exists {
		return client, nil
	}

	client, err := r.createClient(provider)
	if err != nil {
		return nil, err
	}

	r.clients[provider] = client
	r.logger.Info("llm client created", "provider", provider)
	return client, nil
}

// RegisterClient installs a prebuilt client for a provider, replacing any
// existing one. Tests use it to route to a mock core.
func (r *Router) RegisterClient(provider string, core CoreLLM) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[provider] = "registered"
	r.clients[provider] = newClientFromCore(core, r.middlewareFor(provider))
}

// SetAPIKey replaces a provider key and drops its cached client.
func (r *Router) SetAPIKey(provider, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, provider)
	if key == "" {
		delete(r.keys, provider)
		return
	}
	r.keys[provider] = key
}

// ConfiguredProviders returns the sorted names of providers with a key.
func (r *Router) ConfiguredProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]string, 0, len(r.keys))
	for p := range r.keys {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// ListModels lists the raw model ids of one configured provider.
func (r *Router) ListModels(ctx context.Context, provider string) ([]string, error) {
	client, err := r.Client(provider)
	if err != nil {
		return nil, err
	}
	return client.ListModels(ctx)
}

// createClient builds a client for provider. Callers hold r.mu.
func (r *Router) createClient(provider string) (*Client, error) {
	providerConfig, exists := r.providers[provider]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ports.ErrUnknownProvider, provider)
	}

	apiKey := r.keys[provider]
	if apiKey == "" {
		return nil, NewProviderError(provider, ErrorTypeAuthentication, 0,
			fmt.Sprintf("%s not set", providerConfig.EnvVar), ports.ErrProviderNotConfigured)
	}

	return NewClient(providerConfig.Type, ClientConfig{
		APIKey:       apiKey,
		DefaultModel: providerConfig.DefaultModel,
		BaseURL:      providerConfig.BaseURL,
		Timeout:      r.defaultTimeout,
		Middleware:   r.middlewareFor(provider),
	})
}

func (r *Router) middlewareFor(provider string) []Middleware {
	mw := append([]Middleware{}, r.defaultMiddleware...)
	return append(mw, r.providers[provider].Middleware...)
}
