package providers

import (
	"context"
	"errors"
)

// Provider is the capability the dispatcher routes inference calls through.
// One instance serves exactly one project.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "anthropic")
	Name() string

	// ModelName returns the model the instance was configured with
	ModelName() string

	// Infer runs a chat completion. params may be nil and extraContext may be empty.
	Infer(ctx context.Context, messages []Message, params map[string]interface{}, extraContext string) (*Result, error)

	// HealthCheck reports whether the upstream API is reachable with this configuration
	HealthCheck(ctx context.Context) bool
}

// Constructor builds a provider from a module's configuration
type Constructor func(cfg ModuleConfig) (Provider, error)

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// Result is the outcome of a single Infer call
type Result struct {
	Text       string
	Model      string
	TokensUsed *int
	Metadata   map[string]interface{}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// RetryableStatus reports whether an upstream HTTP status is worth retrying
func RetryableStatus(statusCode int) bool {
	return statusCode >= 500 || statusCode == 429
}
