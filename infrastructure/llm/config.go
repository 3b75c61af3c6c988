package llm

import (
	"strings"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// DefaultMaxTokens is the completion budget used when a request sets none.
// Anthropic requires an explicit value.
const DefaultMaxTokens = 4096

// Request is the provider-neutral form of one chat call.
type Request struct {
	// Model is the provider-local model name, without prefix.
	Model string
	// System holds the joined system messages.
	System string
	// Messages are the user and assistant turns in order.
	Messages []ports.Message

	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   int

	// JSONMode asks the provider for a single JSON object.
	JSONMode bool
}

// Response is the provider-neutral result of one chat call.
type Response struct {
	Content      string
	Model        string
	TokensIn     int
	TokensOut    int
	TotalTokens  int
	FinishReason string
}

// buildRequest converts a generation request into the provider-neutral form
// for the given local model name.
func buildRequest(model string, req ports.GenerateRequest) Request {
	out := Request{
		Model:    model,
		JSONMode: req.ResponseFormat == ports.ResponseFormatJSON,
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == ports.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	out.System = strings.Join(system, "\n\n")

	if s := req.Settings; s != nil {
		if s.Temperature != nil && inRange(*s.Temperature, MinTemperature, MaxTemperature) {
			out.Temperature = s.Temperature
		}
		if s.TopP != nil && inRange(*s.TopP, MinTopP, MaxTopP) {
			out.TopP = s.TopP
		}
		if s.TopK != nil && *s.TopK > 0 {
			out.TopK = s.TopK
		}
		if s.MaxTokens != nil && *s.MaxTokens > 0 {
			out.MaxTokens = *s.MaxTokens
		}
	}

	return out
}

// totalTokens returns the reported total, or the sum of both sides when the
// provider reports none.
func totalTokens(reported, in, out int) int {
	if reported > 0 {
		return reported
	}
	return in + out
}
