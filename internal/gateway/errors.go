package gateway

import (
	"errors"
	"net/http"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/upstream"
)

// failureClass is the kind of the last retryable failure, which decides the
// error returned once every candidate has been tried.
type failureClass int

const (
	failureNone failureClass = iota
	failureRateLimit
	failureUnavailable
	failureInvalidBody
	failureTransport
	failureConversion
)

// classify sorts an upstream error into terminal or retryable.
func classify(err error) (failureClass, bool) {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return failureRateLimit, true
		case se.StatusCode >= 500:
			return failureUnavailable, true
		default:
			return failureNone, false
		}
	}

	var te *upstream.TransportError
	if errors.As(err, &te) {
		if te.Kind == upstream.KindConnection {
			return failureTransport, true
		}
		return failureInvalidBody, true
	}

	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Code == domain.ErrorCodeConversionFailed {
		return failureConversion, true
	}
	return failureTransport, true
}

// terminalError maps an upstream 4xx other than 429 to a client error that
// does not leak the upstream body.
func terminalError(se *upstream.StatusError) *domain.APIError {
	var e *domain.APIError
	switch se.StatusCode {
	case http.StatusBadRequest:
		e = domain.NewAPIError(domain.ErrorTypeInvalidRequest, "Invalid request parameters").
			WithCode(domain.ErrorCodeBadRequest)
	case http.StatusUnauthorized:
		e = domain.NewAPIError(domain.ErrorTypeAuthentication, "Authentication failed").
			WithCode(domain.ErrorCodeUnauthorized)
	case http.StatusForbidden:
		e = domain.NewAPIError(domain.ErrorTypePermission, "Access forbidden").
			WithCode(domain.ErrorCodeForbidden)
	default:
		e = domain.NewAPIError(domain.ErrorTypeInvalidRequest, "Upstream rejected the request").
			WithCode(domain.ErrorCodeUpstreamClientError)
	}
	return e.WithStatusCode(se.StatusCode).WithCause(se)
}

// exhaustedError is returned when no candidate succeeded.
func exhaustedError(class failureClass, last error) *domain.APIError {
	var e *domain.APIError
	switch class {
	case failureRateLimit:
		e = domain.NewAPIError(domain.ErrorTypeRateLimit, "Rate limit exceeded on all upstreams").
			WithCode(domain.ErrorCodeRateLimitExceeded)
	case failureUnavailable:
		e = domain.NewAPIError(domain.ErrorTypeUpstream, "All upstream services temporarily unavailable").
			WithCode(domain.ErrorCodeUpstreamError)
	case failureInvalidBody:
		e = domain.NewAPIError(domain.ErrorTypeBadGateway, "All upstream services returned invalid responses").
			WithCode(domain.ErrorCodeInvalidUpstreamResponse)
	case failureConversion:
		return domain.ErrConversion(last)
	case failureTransport:
		e = domain.NewAPIError(domain.ErrorTypeUpstream, "All upstream services failed").
			WithCode(domain.ErrorCodeAllUpstreamsFailed).
			WithStatusCode(http.StatusInternalServerError)
	default:
		e = domain.NewAPIError(domain.ErrorTypeAPI, "Unknown error").
			WithCode(domain.ErrorCodeUnknown).
			WithStatusCode(http.StatusInternalServerError)
	}
	return e.WithCause(last)
}

// upstreamError turns a failure of a single dispatch into a client error.
func upstreamError(err error) *domain.APIError {
	var se *upstream.StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return terminalError(se)
	}
	class, _ := classify(err)
	return exhaustedError(class, err)
}
