// Package llmerrors classifies LLM provider failures so callers can decide whether to retry.
package llmerrors

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents different categories of LLM errors for retry logic.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a successful call that carried no content.
	ErrorTypeEmptyResponse
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors (too long, invalid argument).
	ErrorTypeBadPrompt
	// ErrorTypeServiceUnavailable is returned once retries are exhausted.
	ErrorTypeServiceUnavailable
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// Error represents a classified LLM error.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	BodyStub   string    // First portion of response body
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error type should be retried.
// Everything is retryable unless explicitly listed here.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified LLM error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified LLM error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewErrorWithCause creates a new classified LLM error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}

// ClassifyStatus maps an HTTP status code to an error type.
// ok is false when the code says nothing useful.
func ClassifyStatus(statusCode int) (ErrorType, bool) {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth, true
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit, true
	case statusCode == http.StatusBadRequest || statusCode == http.StatusRequestEntityTooLarge:
		return ErrorTypeBadPrompt, true
	case statusCode == http.StatusNotFound:
		// Unknown model names surface as 404 and never fix themselves.
		return ErrorTypeBadPrompt, true
	case statusCode == http.StatusRequestTimeout:
		return ErrorTypeTransient, true
	case statusCode >= 500:
		return ErrorTypeTransient, true
	default:
		return ErrorTypeUnknown, false
	}
}

// ClassifyMessage guesses an error type from provider error text.
func ClassifyMessage(msg string) ErrorType {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "rate limit", "rate_limit", "quota", "resource_exhausted", "too many requests"):
		return ErrorTypeRateLimit
	case containsAny(lower, "unauthorized", "authentication", "api key", "api_key", "permission_denied", "forbidden"):
		return ErrorTypeAuth
	case containsAny(lower, "invalid_argument", "invalid request", "too long", "context length", "maximum context"):
		return ErrorTypeBadPrompt
	case containsAny(lower, "timeout", "timed out", "connection reset", "connection refused", "eof",
		"unavailable", "overloaded", "internal error", "bad gateway", "temporarily"):
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// SanitizePrompt creates a safe representation of a prompt for logging.
// For large prompts, it returns first/last portions plus a hash of the full content.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}
	if 2*halfMax >= len(prompt) {
		return prompt
	}

	first := prompt[:halfMax]
	last := prompt[len(prompt)-halfMax:]

	hash := sha256.Sum256([]byte(prompt))
	hashStr := fmt.Sprintf("%x", hash)[:16]

	return fmt.Sprintf("%s...[%d chars, hash:%s]...%s",
		first, len(prompt), hashStr, last)
}

// IsServiceUnavailable checks if the error indicates persistent service unavailability.
func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}

// NewServiceUnavailableError wraps the last failure once retries are exhausted.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts: %v", attempts, cause),
	}
}
