package domain

import "strings"

// Provider names used as model-id prefixes.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ResolveModelID qualifies a bare model name with its provider prefix.
// Ids that already carry a "/" and names with an unknown prefix are returned
// unchanged. The function is idempotent.
func ResolveModelID(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	switch {
	case strings.HasPrefix(model, "gemini"):
		return ProviderGemini + "/" + model
	case strings.HasPrefix(model, "gpt"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"):
		return ProviderOpenAI + "/" + model
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic + "/" + model
	default:
		return model
	}
}

// SplitModelID splits a qualified id into provider and model name.
// ok is false when the id carries no provider prefix.
func SplitModelID(id string) (provider, model string, ok bool) {
	provider, model, ok = strings.Cut(id, "/")
	if !ok || provider == "" || model == "" {
		return "", id, false
	}
	return provider, model, true
}
