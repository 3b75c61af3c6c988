package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

type anthropicMessagesBody struct {
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	System      []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role string `json:"role"`
	} `json:"messages"`
}

func newAnthropicTestServer(t *testing.T, handler http.HandlerFunc) CoreLLM {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := newAnthropicProvider(ClientConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	return provider
}

func TestAnthropicProvider_DoRequest(t *testing.T) {
	var got anthropicMessagesBody
	provider := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "{\"score\": 90, "}, {"type": "text", "text": "\"reasoning\": \"ok\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 40, "output_tokens": 9}
		}`))
	})

	temp := 1.7
	topK := 5
	resp, err := provider.DoRequest(context.Background(), Request{
		System: "You are a judge.",
		Messages: []ports.Message{
			{Role: ports.RoleUser, Content: "Evaluate"},
			{Role: ports.RoleAssistant, Content: "Sure"},
			{Role: ports.RoleUser, Content: "Go"},
		},
		Temperature: &temp,
		TopK:        &topK,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"score": 90, "reasoning": "ok"}`, resp.Content)
	assert.Equal(t, 40, resp.TokensIn)
	assert.Equal(t, 9, resp.TokensOut)
	assert.Equal(t, 49, resp.TotalTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)

	assert.Equal(t, AnthropicDefaultModel, got.Model)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 1.0, *got.Temperature, 1e-9, "Temperature should be capped at 1.0")
	require.NotNil(t, got.TopK)
	assert.Equal(t, 5, *got.TopK)
	require.Len(t, got.System, 1)
	assert.Equal(t, "You are a judge.", got.System[0].Text)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "assistant", got.Messages[1].Role)
}

func TestAnthropicProvider_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
	}{
		{
			name:     "authentication",
			status:   http.StatusUnauthorized,
			body:     `{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`,
			wantType: ErrorTypeAuthentication,
		},
		{
			name:     "invalid request",
			status:   http.StatusBadRequest,
			body:     `{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens too large"}}`,
			wantType: ErrorTypeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := provider.DoRequest(context.Background(), Request{
				Messages: []ports.Message{{Role: ports.RoleUser, Content: "hi"}},
			})

			var provErr *ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.wantType, provErr.Type)
			assert.Equal(t, tt.status, provErr.StatusCode)
		})
	}
}

func TestAnthropicProvider_ListModels(t *testing.T) {
	provider := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"id": "claude-sonnet-4-20250514", "type": "model", "display_name": "Claude Sonnet 4", "created_at": "2025-05-14T00:00:00Z"},
				{"id": "claude-3-5-haiku-20241022", "type": "model", "display_name": "Claude Haiku 3.5", "created_at": "2024-10-22T00:00:00Z"}
			],
			"has_more": false,
			"first_id": "claude-sonnet-4-20250514",
			"last_id": "claude-3-5-haiku-20241022"
		}`))
	})

	ids, err := provider.(modelLister).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"}, ids)
}

func TestNewAnthropicProvider_EmptyKey(t *testing.T) {
	_, err := newAnthropicProvider(ClientConfig{})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
}
