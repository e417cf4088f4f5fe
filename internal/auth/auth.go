// Package auth extracts client API keys and checks them against the
// configured allow list.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// ExtractAPIKey returns the client key from wherever the given protocol
// carries it, or "" when none is present.
func ExtractAPIKey(r *http.Request, format domain.Format) string {
	switch format {
	case domain.FormatAnthropic:
		if key := strings.TrimSpace(r.Header.Get("x-api-key")); key != "" {
			return key
		}
	case domain.FormatGemini:
		if key := r.URL.Query().Get("key"); key != "" {
			return key
		}
		if key := strings.TrimSpace(r.Header.Get("x-goog-api-key")); key != "" {
			return key
		}
	}
	return bearer(r)
}

func bearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, key, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(key)
}

// Allowed reports whether key is in allowed. Every entry is compared so the
// time taken does not depend on which one matches.
func Allowed(key string, allowed []string) bool {
	found := 0
	for _, candidate := range allowed {
		found |= subtle.ConstantTimeCompare([]byte(key), []byte(candidate))
	}
	return found == 1
}

// Authenticate extracts and checks the client key. With passthrough the key
// is not checked; it is returned so callers can forward it upstream.
func Authenticate(r *http.Request, format domain.Format, allowed []string, passthrough bool) (string, error) {
	key := ExtractAPIKey(r, format)
	if key == "" {
		return "", domain.ErrAuthentication("Missing API key")
	}
	if passthrough {
		return key, nil
	}
	if !Allowed(key, allowed) {
		return "", domain.ErrAuthentication("Invalid API key")
	}
	return key, nil
}
