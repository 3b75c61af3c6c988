package llm

import (
	"context"
	"errors"
)

// BaseProvider holds the state every provider adapter shares.
type BaseProvider struct {
	name            string
	defaultModel    string
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

func newBaseProvider(name, defaultModel string) BaseProvider {
	return BaseProvider{
		name:            name,
		defaultModel:    defaultModel,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: name},
	}
}

// Provider returns the provider name.
func (b *BaseProvider) Provider() string { return b.name }

// model returns the request's model or the provider default.
func (b *BaseProvider) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return b.defaultModel
}

// promptText concatenates the request text for token estimation.
func promptText(req Request) string {
	n := len(req.System)
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, req.System...)
	for _, m := range req.Messages {
		buf = append(buf, m.Content...)
	}
	return string(buf)
}

// isContextError checks if an error is a context-related error, such as a
// deadline exceeded or cancellation.
func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// TokenCounter provides a utility for estimating token counts from text.
// It is only consulted when a provider omits usage data.
type TokenCounter struct {
	// CharactersPerToken represents the average number of characters per token.
	CharactersPerToken float64
}

// NewTokenCounter creates a new TokenCounter with a default character-per-token ratio.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens calculates an estimated token count for a given string of text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount returns the actual token count if it is available and positive.
// Otherwise, it falls back to estimating the count based on the provided text.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}
