// Package application holds the service-level use cases that sit around the
// optimization loop: configuration loading, dataset upload, experiment
// history and the provider model catalog.
package application

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/llm"
	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/store"
	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/telemetry"
	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/tracking"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/logging"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/optimizer"
)

// Config is the complete service configuration. Values are layered in this
// order: DefaultConfig, the YAML file, then environment variables.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Store     store.Config     `yaml:"store" envPrefix:"PROMPTPROP_STORE_"`
	Tracking  TrackingConfig   `yaml:"tracking"`
	LLM       LLMConfig        `yaml:"llm"`
	Optimizer OptimizerConfig  `yaml:"optimizer"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Log       logging.Config   `yaml:"log"`

	// DatabaseURL overrides Store.Path. A "badger://" or "file://" scheme is
	// stripped.
	DatabaseURL string `yaml:"-" env:"DATABASE_URL"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"PROMPTPROP_HOST"`
	Port int    `yaml:"port" env:"PROMPTPROP_PORT" validate:"min=1,max=65535"`
	// Mode is the gin mode.
	Mode string `yaml:"mode" env:"GIN_MODE" validate:"omitempty,oneof=debug release test"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	// AllowedOrigins lists the browser origins allowed by CORS.
	AllowedOrigins []string `yaml:"allowed_origins" env:"PROMPTPROP_ALLOWED_ORIGINS" envSeparator:"," validate:"dive,url"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TrackingConfig selects the experiment-tracking sinks.
type TrackingConfig struct {
	// Enabled is set by TRACKING_ENABLED, or by MLFLOW_ENABLED when that is
	// unset.
	Enabled  bool                  `yaml:"enabled" env:"TRACKING_ENABLED"`
	Backends []string              `yaml:"backends" env:"TRACKING_BACKENDS" envSeparator:"," validate:"dive,oneof=influx prometheus log"`
	Influx   tracking.InfluxConfig `yaml:"influx"`
}

// LLMConfig configures provider credentials and the client middleware chain.
type LLMConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"PROMPTPROP_LLM_TIMEOUT" validate:"gt=0"`

	RateLimit      float64 `yaml:"rate_limit_rps" env:"PROMPTPROP_LLM_RATE_LIMIT" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`

	MaxRetries     int           `yaml:"max_retries" env:"PROMPTPROP_LLM_MAX_RETRIES" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`

	BreakerFailures int           `yaml:"breaker_failures" validate:"min=1"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" validate:"gt=0"`

	// BaseURLs overrides provider endpoints, keyed by provider name.
	BaseURLs map[string]string `yaml:"base_urls" validate:"dive,keys,oneof=openai anthropic gemini,endkeys,url"`

	// APIKeys maps provider names to credentials. Keys found in the
	// environment take precedence.
	APIKeys map[string]string `yaml:"api_keys" validate:"dive,keys,oneof=openai anthropic gemini,endkeys"`
}

// OptimizerConfig holds service-wide optimizer settings.
type OptimizerConfig struct {
	RefineModel     string `yaml:"refine_model" env:"PROMPTPROP_REFINE_MODEL"`
	JuryConcurrency int    `yaml:"jury_concurrency" validate:"gte=0"`
	// CatalogTTL is how long a listed model catalog is served from cache.
	CatalogTTL time.Duration `yaml:"catalog_ttl" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Store: store.DefaultConfig(),
		Tracking: TrackingConfig{
			Backends: []string{tracking.BackendLog},
		},
		LLM: LLMConfig{
			Timeout:         60 * time.Second,
			RateLimit:       5,
			RateLimitBurst:  10,
			MaxRetries:      3,
			RetryBaseDelay:  500 * time.Millisecond,
			RetryMaxDelay:   10 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Optimizer: OptimizerConfig{
			RefineModel: optimizer.DefaultRefineModel,
			CatalogTTL:  DefaultCatalogTTL,
		},
		Telemetry: telemetry.Config{
			ServiceName: "promptprop",
			Exporter:    telemetry.ExporterNone,
		},
		Log: logging.Config{Level: "info", Format: logging.FormatText},
	}
}

var configValidator = validator.New()

// LoadConfig reads the YAML file at path, when path is non-empty, and
// overlays the process environment.
func LoadConfig(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		data = b
	}
	return loadConfig(data, env.ToMap(os.Environ()))
}

func loadConfig(data []byte, environ map[string]string) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing yaml: %v", domain.ErrInvalidConfiguration, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%w: parsing environment: %v", domain.ErrInvalidConfiguration, err)
	}

	if err := cfg.normalize(environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize applies the aliases and derived values that struct tags cannot
// express.
func (c *Config) normalize(environ map[string]string) error {
	if c.DatabaseURL != "" {
		path := c.DatabaseURL
		for _, scheme := range []string{"badger://", "file://"} {
			path = strings.TrimPrefix(path, scheme)
		}
		if strings.Contains(path, "://") {
			return fmt.Errorf("%w: unsupported DATABASE_URL %q", domain.ErrInvalidConfiguration, c.DatabaseURL)
		}
		c.Store.Path = path
	}

	if _, set := environ["TRACKING_ENABLED"]; !set {
		if legacy, ok := environ["MLFLOW_ENABLED"]; ok {
			enabled, err := strconv.ParseBool(legacy)
			if err != nil {
				return fmt.Errorf("%w: MLFLOW_ENABLED: %v", domain.ErrInvalidConfiguration, err)
			}
			c.Tracking.Enabled = enabled
		}
	}

	if c.LLM.APIKeys == nil {
		c.LLM.APIKeys = make(map[string]string)
	}
	for provider, pc := range llm.DefaultProviders {
		if key := environ[pc.EnvVar]; key != "" {
			c.LLM.APIKeys[provider] = key
		}
	}
	return nil
}

// Validate checks every section and reports all failures at once.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	verr := domain.NewValidationError("Config")
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.AddError(err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			verr.AddError(fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			verr.AddError(fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return verr
}

// Providers returns the provider table with configured base URLs applied.
func (c LLMConfig) Providers() map[string]llm.ProviderConfig {
	out := make(map[string]llm.ProviderConfig, len(llm.DefaultProviders))
	for name, pc := range llm.DefaultProviders {
		if url := c.BaseURLs[name]; url != "" {
			pc.BaseURL = url
		}
		out[name] = pc
	}
	return out
}
