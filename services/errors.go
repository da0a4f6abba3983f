package services

import (
	"errors"
	"fmt"
	"sort"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeConfiguration       ErrorType = "configuration"
	ErrorTypeUnsupportedProvider ErrorType = "unsupported_provider"
	ErrorTypeProviderUnhealthy   ErrorType = "provider_unhealthy"
	ErrorTypeTransientFetch      ErrorType = "transient_fetch"
	ErrorTypeUpstream            ErrorType = "upstream"
	ErrorTypeProviderCall        ErrorType = "provider_call"
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeUnauthorized        ErrorType = "unauthorized"
	ErrorTypeInternal            ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Two domain errors match when their types match.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewManifestNotFoundError reports that the authority has no manifest for projectID.
func NewManifestNotFoundError(projectID string) *DomainError {
	return NewDomainError(ErrorTypeNotFound, fmt.Sprintf("project '%s' not found", projectID), nil).
		WithDetail("project_id", projectID)
}

// NewConfigurationError reports a manifest or module configuration that cannot be used.
func NewConfigurationError(projectID, message string, err error) *DomainError {
	return NewDomainError(ErrorTypeConfiguration, message, err).WithDetail("project_id", projectID)
}

// NewUnsupportedProviderError lists the registered providers alongside the unknown name.
func NewUnsupportedProviderError(provider string, available []string) *DomainError {
	names := append([]string(nil), available...)
	sort.Strings(names)
	return NewDomainError(ErrorTypeUnsupportedProvider, fmt.Sprintf("unsupported provider: %s", provider), nil).
		WithDetail("provider", provider).
		WithDetail("available_providers", names)
}

// NewProviderUnhealthyError reports a freshly built provider that failed its health check.
func NewProviderUnhealthyError(projectID, provider string) *DomainError {
	return NewDomainError(ErrorTypeProviderUnhealthy, fmt.Sprintf("provider %s failed health check", provider), nil).
		WithDetail("project_id", projectID).
		WithDetail("provider", provider)
}

// NewTransientFetchError reports a fetch that kept failing after every retry attempt.
func NewTransientFetchError(message string, attempts int, err error) *DomainError {
	return NewDomainError(ErrorTypeTransientFetch, message, err).WithDetail("attempts", attempts)
}

// NewUpstreamError reports a non-retryable rejection from the manifest authority.
// The response body is not attached; callers log it.
func NewUpstreamError(statusCode int) *DomainError {
	return NewDomainError(ErrorTypeUpstream, fmt.Sprintf("manifest authority returned status %d", statusCode), nil).
		WithDetail("status_code", statusCode)
}

// NewProviderCallError wraps a failure returned by a healthy, cached provider.
func NewProviderCallError(projectID, provider string, err error) *DomainError {
	return NewDomainError(ErrorTypeProviderCall, "inference failed", err).
		WithDetail("project_id", projectID).
		WithDetail("provider", provider)
}

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool { return hasType(err, ErrorTypeConfiguration) }

// IsUnsupportedProviderError checks if an error is an unsupported provider error
func IsUnsupportedProviderError(err error) bool { return hasType(err, ErrorTypeUnsupportedProvider) }

// IsProviderUnhealthyError checks if an error is a provider health check failure
func IsProviderUnhealthyError(err error) bool { return hasType(err, ErrorTypeProviderUnhealthy) }

// IsTransientFetchError checks if an error is an exhausted transient fetch error
func IsTransientFetchError(err error) bool { return hasType(err, ErrorTypeTransientFetch) }

// IsUpstreamError checks if an error is a fatal manifest authority error
func IsUpstreamError(err error) bool { return hasType(err, ErrorTypeUpstream) }

// IsProviderCallError checks if an error is a provider call failure
func IsProviderCallError(err error) bool { return hasType(err, ErrorTypeProviderCall) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the message of a domain error without its type prefix
// or cause, or empty string if not a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}
