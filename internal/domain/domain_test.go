package domain

import (
	"errors"
	"net/http"
	"regexp"
	"testing"
)

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want int
	}{
		{"invalid request", ErrInvalidRequest("bad"), http.StatusBadRequest},
		{"authentication", ErrAuthentication("nope"), http.StatusUnauthorized},
		{"not found", ErrNotFound("gone"), http.StatusNotFound},
		{"rate limit", NewAPIError(ErrorTypeRateLimit, "slow"), http.StatusTooManyRequests},
		{"overloaded", NewAPIError(ErrorTypeOverloaded, "busy"), http.StatusServiceUnavailable},
		{"upstream", NewAPIError(ErrorTypeUpstream, "x"), http.StatusBadGateway},
		{"server", ErrServer(errors.New("boom")), http.StatusInternalServerError},
		{"conversion", ErrConversion(errors.New("shape")), http.StatusBadGateway},
		{"override", ErrInvalidRequest("big").WithStatusCode(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAPIError_CauseHidden(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:443: connection refused")
	err := ErrServer(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if err.Message != "Internal server error" {
		t.Errorf("Message = %q", err.Message)
	}
	if got := err.Error(); got != "server (internal_error): Internal server error" {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		got, err := ParseFormat(string(f))
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %q, %v", f, got, err)
		}
	}
	if _, err := ParseFormat("cohere"); err == nil {
		t.Error("ParseFormat(cohere) succeeded")
	}
}

func TestNewID(t *testing.T) {
	pattern := regexp.MustCompile(`^call_[0-9a-f]{32}$`)
	seen := make(map[string]bool)
	for range 100 {
		id := NewID(PrefixOpenAICall)
		if !pattern.MatchString(id) {
			t.Fatalf("NewID() = %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
