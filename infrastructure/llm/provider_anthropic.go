package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

const (
	// AnthropicDefaultModel is used when a request names no model.
	AnthropicDefaultModel = "claude-sonnet-4-20250514"
)

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's Claude API.
type anthropicProvider struct {
	BaseProvider
	client anthropic.Client
}

// newAnthropicProvider creates a new Anthropic provider instance.
func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.DefaultModel
	if model == "" {
		model = AnthropicDefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(validatedURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: clientTimeout(config.Timeout)}))
	}

	return &anthropicProvider{
		BaseProvider: newBaseProvider("anthropic", model),
		client:       anthropic.NewClient(opts...),
	}, nil
}

// DoRequest sends a request to Anthropic's Messages API.
// Anthropic has no JSON response mode; JSONMode relies on the prompt.
func (p *anthropicProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, ErrNoMessages
	}

	message, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return Response{}, p.handleError(err)
	}

	return p.processResponse(message, req), nil
}

// ListModels returns the ids of every model visible to the API key.
func (p *anthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	iter := p.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for iter.Next() {
		ids = append(ids, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, p.handleError(err)
	}
	return ids, nil
}

// buildParams creates the API request parameters.
func (p *anthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == ports.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}

	// Anthropic caps temperature at 1.0.
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(clamp(*req.Temperature, MinTemperature, AnthropicMaxTemperature))
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(clamp(*req.TopP, MinTopP, MaxTopP))
	}
	if req.TopK != nil {
		params.TopK = anthropic.Int(int64(*req.TopK))
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return params
}

// processResponse extracts content and token counts from the API response.
func (p *anthropicProvider) processResponse(message *anthropic.Message, req Request) Response {
	var text strings.Builder
	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		}
	}

	content := text.String()
	tokensIn := p.tokenCounter.GetTokenCount(int(message.Usage.InputTokens), promptText(req))
	tokensOut := p.tokenCounter.GetTokenCount(int(message.Usage.OutputTokens), content)

	return Response{
		Content:      content,
		Model:        string(message.Model),
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		TotalTokens:  tokensIn + tokensOut,
		FinishReason: string(message.StopReason),
	}
}

// handleError classifies Anthropic SDK errors.
func (p *anthropicProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.errorClassifier.ClassifyHTTPError(apiErr.StatusCode, http.StatusText(apiErr.StatusCode), err)
	}

	return NewProviderError("anthropic", ErrorTypeNetwork, 0, "request failed", err)
}
