package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

const (
	// OpenAIDefaultModel is used when a request names no model.
	OpenAIDefaultModel = "gpt-4o-mini"
)

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider implements the CoreLLM interface for OpenAI's API.
type openAIProvider struct {
	BaseProvider
	client *openai.Client
}

// newOpenAIProvider creates a new OpenAI provider instance.
func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.DefaultModel
	if model == "" {
		model = OpenAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = validatedURL
	}

	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{
			Timeout: clientTimeout(config.Timeout),
		}
	}

	return &openAIProvider{
		BaseProvider: newBaseProvider("openai", model),
		client:       openai.NewClientWithConfig(clientConfig),
	}, nil
}

// DoRequest sends a chat completion request to the OpenAI API.
func (p *openAIProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, ErrNoMessages
	}

	chatReq := p.buildChatCompletionRequest(req)
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return Response{}, ErrNoResponseChoice
	}

	content := resp.Choices[0].Message.Content
	tokensIn := p.tokenCounter.GetTokenCount(resp.Usage.PromptTokens, promptText(req))
	tokensOut := p.tokenCounter.GetTokenCount(resp.Usage.CompletionTokens, content)

	return Response{
		Content:      content,
		Model:        resp.Model,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		TotalTokens:  totalTokens(resp.Usage.TotalTokens, tokensIn, tokensOut),
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// ListModels returns the ids of every model visible to the API key.
func (p *openAIProvider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.handleError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// buildChatCompletionRequest creates an openai.ChatCompletionRequest.
func (p *openAIProvider) buildChatCompletionRequest(req Request) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: p.buildMessages(req),
	}

	p.applyRequestParameters(&chatReq, req)
	return chatReq
}

// buildMessages creates the message slice, with the system prompt first.
func (p *openAIProvider) buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == ports.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	return messages
}

// applyRequestParameters applies the optional sampling parameters.
// OpenAI has no top_k; it is ignored.
func (p *openAIProvider) applyRequestParameters(chatReq *openai.ChatCompletionRequest, req Request) {
	if req.Temperature != nil {
		temp := float32(clamp(*req.Temperature, MinTemperature, MaxTemperature))
		if temp == 0 {
			// A zero value is dropped by omitempty; the smallest float keeps
			// sampling deterministic.
			temp = math.SmallestNonzeroFloat32
		}
		chatReq.Temperature = temp
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	if req.TopP != nil {
		chatReq.TopP = float32(clamp(*req.TopP, MinTopP, MaxTopP))
	}

	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
}

// handleError classifies and wraps errors from the OpenAI API.
func (p *openAIProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request failed", err)
	}

	return NewProviderError("openai", ErrorTypeNetwork, 0, "request failed", err)
}
