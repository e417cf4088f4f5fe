package upstream

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// StatusError is a non-200 reply from an upstream.
type StatusError struct {
	Service    string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := errorMessage(e.Body)
	if msg == "" {
		return fmt.Sprintf("upstream %s: status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: status %d: %s", e.Service, e.StatusCode, msg)
}

// Retryable reports whether the next candidate should be tried: rate limits
// and server errors are, every other 4xx is terminal.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// errorMessage digs the message out of an OpenAI, Anthropic or Gemini error
// body.
func errorMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "message", "0.error.message"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String {
			return r.String()
		}
	}
	return ""
}

// FailureKind classifies a TransportError.
type FailureKind int

const (
	// KindConnection is a failure to send the request or read the reply.
	KindConnection FailureKind = iota
	// KindEmptyBody is a 200 reply without a body.
	KindEmptyBody
	// KindInvalidBody is a 200 reply whose body is not JSON.
	KindInvalidBody
)

func (k FailureKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindEmptyBody:
		return "empty_body"
	case KindInvalidBody:
		return "invalid_body"
	}
	return "unknown"
}

// TransportError is an upstream failure without a usable HTTP status.
type TransportError struct {
	Service string
	Kind    FailureKind
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream %s: %s", e.Service, e.Kind)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.Service, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
