// Package domain holds the canonical types shared by every protocol the
// gateway speaks: the closed set of wire formats, tool definitions and calls,
// and the error taxonomy rendered back to clients.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates a permission/authorization failure.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates rate limiting was triggered.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeOverloaded indicates the service is overloaded.
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeUpstream indicates every upstream failed or was unavailable.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeBadGateway indicates upstreams answered with unusable bodies.
	ErrorTypeBadGateway ErrorType = "bad_gateway"

	// ErrorTypeAPI indicates a failure the gateway could not classify further.
	ErrorTypeAPI ErrorType = "api"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeInvalidRequest          ErrorCode = "invalid_request"
	ErrorCodeBadRequest              ErrorCode = "bad_request"
	ErrorCodeUnauthorized            ErrorCode = "unauthorized"
	ErrorCodeForbidden               ErrorCode = "forbidden"
	ErrorCodeInvalidAPIKey           ErrorCode = "invalid_api_key"
	ErrorCodeRateLimitExceeded       ErrorCode = "rate_limit_exceeded"
	ErrorCodeUpstreamError           ErrorCode = "upstream_error"
	ErrorCodeUpstreamClientError     ErrorCode = "upstream_client_error"
	ErrorCodeInvalidUpstreamResponse ErrorCode = "invalid_upstream_response"
	ErrorCodeAllUpstreamsFailed      ErrorCode = "all_upstreams_failed"
	ErrorCodeUnknown                 ErrorCode = "unknown_error"
	ErrorCodeConversionFailed        ErrorCode = "conversion_failed"
	ErrorCodeInternal                ErrorCode = "internal_error"
)

// APIError represents a canonical API error that handlers translate into the
// error body of the client's wire format.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the parameter that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode overrides the status derived from Type
	StatusCode int `json:"-"`

	// Cause is the underlying failure. It is logged, never sent to clients.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstream, ErrorTypeBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause records the underlying error.
func (e *APIError) WithCause(err error) *APIError {
	e.Cause = err
	return e
}

// Convenience constructors for common errors

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message).
		WithCode(ErrorCodeInvalidRequest)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message).
		WithCode(ErrorCodeInvalidAPIKey)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrServer creates a generic internal error. The message shown to clients
// never includes the cause.
func ErrServer(cause error) *APIError {
	return NewAPIError(ErrorTypeServer, "Internal server error").
		WithCode(ErrorCodeInternal).
		WithCause(cause)
}

// ErrConversion reports a payload that could not be translated between formats.
func ErrConversion(cause error) *APIError {
	return NewAPIError(ErrorTypeAPI, "Format conversion failed").
		WithCode(ErrorCodeConversionFailed).
		WithStatusCode(http.StatusBadGateway).
		WithCause(cause)
}
