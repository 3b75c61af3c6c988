package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

const (
	// GeminiDefaultModel is used when a request names no model.
	GeminiDefaultModel = "gemini-2.5-flash"

	// geminiModelPrefix is the resource prefix of names returned by the
	// model listing endpoint.
	geminiModelPrefix = "models/"
)

func init() {
	RegisterProviderFactory("gemini", newGeminiProvider)
}

// geminiProvider implements the CoreLLM interface for Google's Gemini API.
type geminiProvider struct {
	BaseProvider
	client *genai.Client
}

// newGeminiProvider creates a new Gemini provider using API key
// authentication against the Gemini Developer API.
func newGeminiProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.DefaultModel
	if model == "" {
		model = GeminiDefaultModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.HTTPOptions.BaseURL = validatedURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: clientTimeout(config.Timeout)}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiProvider{
		BaseProvider: newBaseProvider("gemini", model),
		client:       client,
	}, nil
}

// DoRequest sends a request to the Gemini GenerateContent endpoint.
func (p *geminiProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, ErrNoMessages
	}

	model := p.model(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, p.buildContents(req), p.buildGenerationConfig(req))
	if err != nil {
		return Response{}, p.handleError(err)
	}
	if resp == nil {
		return Response{}, ErrEmptyResponse
	}

	content := resp.Text()

	var usageIn, usageOut, usageTotal int
	if u := resp.UsageMetadata; u != nil {
		usageIn = int(u.PromptTokenCount)
		usageOut = int(u.CandidatesTokenCount)
		usageTotal = int(u.TotalTokenCount)
	}
	tokensIn := p.tokenCounter.GetTokenCount(usageIn, promptText(req))
	tokensOut := p.tokenCounter.GetTokenCount(usageOut, content)

	var finish string
	if len(resp.Candidates) > 0 {
		finish = string(resp.Candidates[0].FinishReason)
	}

	return Response{
		Content:      content,
		Model:        model,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		TotalTokens:  totalTokens(usageTotal, tokensIn, tokensOut),
		FinishReason: finish,
	}, nil
}

// ListModels returns the ids of models that support content generation,
// without the "models/" resource prefix.
func (p *geminiProvider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, nil)
	if err != nil {
		return nil, p.handleError(err)
	}

	var ids []string
	for {
		for _, m := range page.Items {
			if !supportsGenerateContent(m.SupportedActions) {
				continue
			}
			ids = append(ids, strings.TrimPrefix(m.Name, geminiModelPrefix))
		}
		page, err = page.Next(ctx)
		if errors.Is(err, genai.ErrPageDone) {
			return ids, nil
		}
		if err != nil {
			return nil, p.handleError(err)
		}
	}
}

func supportsGenerateContent(actions []string) bool {
	for _, a := range actions {
		if a == "generateContent" {
			return true
		}
	}
	return false
}

// buildContents maps chat turns to Gemini contents; assistant turns use the
// "model" role.
func (p *geminiProvider) buildContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == ports.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

// buildGenerationConfig creates the generation configuration for a Gemini
// request.
func (p *geminiProvider) buildGenerationConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(clamp(*req.Temperature, MinTemperature, MaxTemperature)))
	}

	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(clamp(req.MaxTokens, MinMaxTokens, math.MaxInt32))
	}

	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(clamp(*req.TopP, MinTopP, MaxTopP)))
	}

	if req.TopK != nil {
		config.TopK = genai.Ptr(float32(clamp(*req.TopK, 1, MaxGeminiTopK)))
	}

	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	return config
}

// handleError classifies Gemini SDK errors into a ProviderError.
func (p *geminiProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if containsContentPolicyText(apiErr.Message) {
			return NewProviderError("gemini", ErrorTypeContentPolicy, apiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.Code, apiErr.Message, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		message := gErr.Message
		if message == "" && len(gErr.Errors) > 0 {
			message = gErr.Errors[0].Message
		}
		if containsContentPolicyError(gErr) {
			return NewProviderError("gemini", ErrorTypeContentPolicy, gErr.Code,
				"request blocked by safety filters", err)
		}
		return p.errorClassifier.ClassifyHTTPError(gErr.Code, message, err)
	}

	return NewProviderError("gemini", ErrorTypeNetwork, 0, "request failed", err)
}

// containsContentPolicyError checks if a Google API error is related to
// content policy violations.
func containsContentPolicyError(apiErr *googleapi.Error) bool {
	if containsContentPolicyText(apiErr.Message) {
		return true
	}
	for _, e := range apiErr.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}
	return false
}

func containsContentPolicyText(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "safety") ||
		strings.Contains(lower, "blocked")
}
