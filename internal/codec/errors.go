// Package codec renders canonical domain errors as the error bodies of the
// OpenAI, Anthropic and Gemini wire formats.
package codec

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// ErrorResponse is an error body ready to be written.
type ErrorResponse struct {
	StatusCode int
	Body       []byte
}

// ErrorFormatter formats domain errors for a specific wire format.
type ErrorFormatter interface {
	// FormatError converts an error to a format-specific error response.
	FormatError(err error) *ErrorResponse
}

var formatters = map[domain.Format]ErrorFormatter{
	domain.FormatOpenAI:    OpenAIErrorFormatter{},
	domain.FormatAnthropic: AnthropicErrorFormatter{},
	domain.FormatGemini:    GeminiErrorFormatter{},
}

// ToCanonicalError converts any error to a domain.APIError.
// If the error is already a domain.APIError, it returns it directly.
// Otherwise, it wraps the error in a generic server error.
func ToCanonicalError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return domain.ErrServer(err)
}

// FormatError renders err for format. Unknown formats use OpenAI's shape.
func FormatError(err error, format domain.Format) *ErrorResponse {
	f, ok := formatters[format]
	if !ok {
		f = OpenAIErrorFormatter{}
	}
	return f.FormatError(err)
}

// WriteError writes an error response in the client's wire format.
func WriteError(w http.ResponseWriter, err error, format domain.Format) {
	resp := FormatError(err, format)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// OpenAIErrorFormatter formats errors as {"error":{"message","type","code"}}.
type OpenAIErrorFormatter struct{}

// FormatError formats a domain error as an OpenAI API error response.
func (OpenAIErrorFormatter) FormatError(err error) *ErrorResponse {
	apiErr := ToCanonicalError(err)

	errObj := map[string]any{
		"message": apiErr.Message,
		"type":    openAIErrorType(apiErr.Type),
	}
	if apiErr.Code != "" {
		errObj["code"] = string(apiErr.Code)
	}
	if apiErr.Param != "" {
		errObj["param"] = apiErr.Param
	}

	body, _ := json.Marshal(map[string]any{"error": errObj})
	return &ErrorResponse{StatusCode: apiErr.HTTPStatusCode(), Body: body}
}

func openAIErrorType(t domain.ErrorType) string {
	switch t {
	case domain.ErrorTypeInvalidRequest, domain.ErrorTypeNotFound:
		return "invalid_request_error"
	case domain.ErrorTypeAuthentication:
		return "authentication_error"
	case domain.ErrorTypePermission:
		return "permission_error"
	case domain.ErrorTypeRateLimit:
		return "rate_limit_error"
	case domain.ErrorTypeOverloaded, domain.ErrorTypeUpstream:
		return "service_error"
	case domain.ErrorTypeBadGateway:
		return "bad_gateway"
	case domain.ErrorTypeAPI:
		return "api_error"
	default:
		return "server_error"
	}
}

// AnthropicErrorFormatter formats errors as {"type":"error","error":{...}}.
type AnthropicErrorFormatter struct{}

// FormatError formats a domain error as an Anthropic API error response.
func (AnthropicErrorFormatter) FormatError(err error) *ErrorResponse {
	apiErr := ToCanonicalError(err)

	body, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    anthropicErrorType(apiErr.Type),
			"message": apiErr.Message,
		},
	})
	return &ErrorResponse{StatusCode: apiErr.HTTPStatusCode(), Body: body}
}

func anthropicErrorType(t domain.ErrorType) string {
	switch t {
	case domain.ErrorTypeInvalidRequest:
		return "invalid_request_error"
	case domain.ErrorTypeAuthentication:
		return "authentication_error"
	case domain.ErrorTypePermission:
		return "permission_error"
	case domain.ErrorTypeNotFound:
		return "not_found_error"
	case domain.ErrorTypeRateLimit:
		return "rate_limit_error"
	case domain.ErrorTypeOverloaded:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// GeminiErrorFormatter formats errors as {"error":{"code","message","status"}}.
type GeminiErrorFormatter struct{}

// FormatError formats a domain error as a Google API error response.
func (GeminiErrorFormatter) FormatError(err error) *ErrorResponse {
	apiErr := ToCanonicalError(err)
	status := apiErr.HTTPStatusCode()

	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": apiErr.Message,
			"status":  geminiStatus(status),
		},
	})
	return &ErrorResponse{StatusCode: status, Body: body}
}

func geminiStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "UNAVAILABLE"
	default:
		if code >= 400 && code < 500 {
			return "FAILED_PRECONDITION"
		}
		return "INTERNAL"
	}
}
