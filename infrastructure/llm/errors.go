package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
)

// Common errors returned by the LLM client and providers.
var (
	// ErrEmptyAPIKey indicates that an API key was required but not provided.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse indicates that the provider returned no content at all.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrNoResponseChoice indicates that the provider's response contained no valid choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
	// ErrNoMessages indicates a request without any user or assistant turn.
	ErrNoMessages = errors.New("request has no messages")
)

// ErrorType is the provider-neutral category of a failed call.
type ErrorType string

const (
	ErrorTypeUnknown        ErrorType = ""
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeBadRequest     ErrorType = "bad_request"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeContentPolicy  ErrorType = "content_policy"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeTimeout        ErrorType = "timeout"
	// ErrorTypeCanceled marks calls abandoned because the caller went away.
	ErrorTypeCanceled ErrorType = "canceled"
)

// Retryable reports whether a call failing with t may succeed when repeated.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// GenerationKind maps t onto the classes callers of the Generation
// Capability distinguish. Everything not caused by credentials, quota or
// the request itself is "other".
func (t ErrorType) GenerationKind() domain.GenerationKind {
	switch t {
	case ErrorTypeAuthentication:
		return domain.GenerationAuthentication
	case ErrorTypeRateLimit:
		return domain.GenerationRateLimit
	case ErrorTypeBadRequest, ErrorTypeNotFound, ErrorTypeContentPolicy:
		return domain.GenerationBadRequest
	default:
		return domain.GenerationOther
	}
}

// ProviderError is a classified failure of one provider call.
type ProviderError struct {
	Type     ErrorType
	Provider string
	// StatusCode is the HTTP status of the provider response, zero when the
	// call never got one.
	StatusCode   int
	Message      string
	WrappedError error
}

// Error renders "{provider} error (HTTP n) [type]: message: cause", leaving
// out the parts that are unset.
func (e *ProviderError) Error() string {
	msg := e.Provider + " error"
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Type != ErrorTypeUnknown {
		msg += " [" + string(e.Type) + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.WrappedError != nil {
		msg += fmt.Sprintf(": %v", e.WrappedError)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.WrappedError }

// IsRetryable reports whether the failed call should be retried.
func (e *ProviderError) IsRetryable() bool { return e.Type.Retryable() }

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

// ErrorClassifier turns SDK failures of one provider into ProviderErrors.
type ErrorClassifier struct {
	Provider string
}

// statusType classifies an HTTP status code.
func statusType(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorTypeAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case status >= 500:
		return ErrorTypeServerError
	case status >= 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}

// ClassifyHTTPError classifies a failed call by its HTTP status. Credential
// and quota failures get a fixed message so provider payloads stay out of
// logs and responses.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	errType := statusType(statusCode)
	switch errType {
	case ErrorTypeAuthentication:
		message = ec.Provider + " authentication failed"
	case ErrorTypeRateLimit:
		message = ec.Provider + " rate limit exceeded"
	}
	return NewProviderError(ec.Provider, errType, statusCode, message, err)
}

// ClassifyContextError classifies a call that ended with its context.
// Deadlines are retryable timeouts; cancellation is not retried.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "context deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeCanceled, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "", err)
	}
}

// ToGenerationError classifies err into the domain generation taxonomy for
// the given qualified model id. Errors that are already classified are
// returned unchanged.
func ToGenerationError(model string, err error) *domain.GenerationError {
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) {
		return genErr
	}

	kind := domain.GenerationOther
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		kind = provErr.Type.GenerationKind()
	}
	return domain.NewGenerationError(model, kind, err)
}
