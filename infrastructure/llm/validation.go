package llm

import (
	"cmp"
	"fmt"
	"net/url"
	"time"
)

// Sampling bounds shared by every provider. Anthropic caps temperature at
// AnthropicMaxTemperature instead.
const (
	MinTemperature          = 0.0
	MaxTemperature          = 2.0
	AnthropicMaxTemperature = 1.0
	MinTopP                 = 0.0
	MaxTopP                 = 1.0
	MaxGeminiTopK           = 40
	MinMaxTokens            = 1

	MinTimeout = 1 * time.Second
	MaxTimeout = 10 * time.Minute
)

// inRange reports whether lo <= v <= hi.
func inRange[T cmp.Ordered](v, lo, hi T) bool { return v >= lo && v <= hi }

// clamp bounds v to [lo, hi].
func clamp[T cmp.Ordered](v, lo, hi T) T { return min(max(v, lo), hi) }

// ValidateBaseURL checks that a provider endpoint override is an absolute
// http(s) URL. Empty means the SDK default and is valid.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", baseURL)
	}
	return u.String(), nil
}

// clientTimeout bounds the SDK HTTP timeout. Zero or negative leaves the
// SDK default in place.
func clientTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return clamp(timeout, MinTimeout, MaxTimeout)
}
