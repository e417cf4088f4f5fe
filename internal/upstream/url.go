package upstream

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/router"
)

// AnthropicVersion is sent as anthropic-version.
const AnthropicVersion = "2023-06-01"

var versionSuffixes = []string{"/v1", "/v1beta", "/v1alpha"}

// BuildURL returns the endpoint for one call to svc. key is only used by
// Gemini, which takes it as a query parameter.
func BuildURL(svc *router.Service, model string, stream bool, key string) (string, error) {
	base := strings.TrimRight(svc.BaseURL, "/")
	if base == "" {
		return "", fmt.Errorf("upstream %s: empty base_url", svc.Name)
	}

	switch svc.Type {
	case domain.FormatOpenAI:
		return joinVersioned(base, "/chat/completions"), nil

	case domain.FormatAnthropic:
		if strings.HasSuffix(base, "/v1") {
			return base + "/messages", nil
		}
		return base + "/v1/messages", nil

	case domain.FormatGemini:
		if model == "" {
			return "", fmt.Errorf("upstream %s: gemini requires a model", svc.Name)
		}
		method := ":generateContent"
		q := url.Values{}
		if stream {
			method = ":streamGenerateContent"
			q.Set("alt", "sse")
		}
		if key != "" {
			q.Set("key", key)
		}
		u := base + "/models/" + url.PathEscape(model) + method
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		return u, nil
	}
	return "", fmt.Errorf("upstream %s: unsupported service type %q", svc.Name, svc.Type)
}

// joinVersioned appends path to base, inserting /v1 when base carries no
// API version.
func joinVersioned(base, path string) string {
	for _, suffix := range versionSuffixes {
		if strings.HasSuffix(base, suffix) {
			return base + path
		}
	}
	if !strings.Contains(base, "/v1") {
		return base + "/v1" + path
	}
	return base + path
}

// redact hides the key query parameter for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
