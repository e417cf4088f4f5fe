package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/pkg/config"
	"github.com/tjfontaine/toolcall-gateway/internal/storage/memory"
	"github.com/tjfontaine/toolcall-gateway/internal/upstream"
)

const okResponse = `{"id":"chatcmpl-up","object":"chat.completion","created":1,"model":"up-model","system_fingerprint":"fp_1",` +
	`"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],` +
	`"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`

const chatRequest = `{"model":"m","messages":[{"role":"user","content":"hi"}]}`

var weatherTools = `[{"type":"function","function":{"name":"get_weather","description":"Current weather",` +
	`"parameters":{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}}}]`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func service(name, typ, base string, priority int) config.UpstreamServiceConfig {
	return config.UpstreamServiceConfig{
		Name:        name,
		ServiceType: typ,
		BaseURL:     base,
		APIKey:      "sk-" + name,
		Priority:    priority,
		Models:      []string{"m"},
	}
}

func newGateway(t *testing.T, services ...config.UpstreamServiceConfig) (*Gateway, *config.Snapshot, *memory.Store) {
	t.Helper()
	cfg := &config.Config{
		UpstreamServices: services,
		Features: config.FeaturesConfig{
			EnableFunctionCalling:    true,
			ConvertDeveloperToSystem: true,
		},
	}
	snap, err := config.Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	calls := memory.New(0)
	g := New(config.NewStore(snap),
		upstream.NewClient(upstream.WithTimeout(5*time.Second), upstream.WithLogger(discardLogger())),
		WithLogger(discardLogger()),
		WithToolCallStore(calls),
	)
	return g, snap, calls
}

func upstreamServer(t *testing.T, hits *atomic.Int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func asAPIError(t *testing.T, err error) *domain.APIError {
	t.Helper()
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *domain.APIError", err)
	}
	return apiErr
}

func TestComplete_TerminalStatusStopsFailover(t *testing.T) {
	tests := []struct {
		status   int
		wantCode domain.ErrorCode
	}{
		{http.StatusBadRequest, domain.ErrorCodeBadRequest},
		{http.StatusUnauthorized, domain.ErrorCodeUnauthorized},
		{http.StatusForbidden, domain.ErrorCodeForbidden},
		{http.StatusNotFound, domain.ErrorCodeUpstreamClientError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var second atomic.Int32
			first := upstreamServer(t, nil, tt.status, `{"error":{"message":"secret upstream detail"}}`)
			backup := upstreamServer(t, &second, http.StatusOK, okResponse)

			g, _, _ := newGateway(t,
				service("primary", "openai", first.URL, 0),
				service("backup", "openai", backup.URL, 1),
			)

			_, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(chatRequest)})
			apiErr := asAPIError(t, err)
			if apiErr.HTTPStatusCode() != tt.status {
				t.Errorf("status = %d, want %d", apiErr.HTTPStatusCode(), tt.status)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", apiErr.Code, tt.wantCode)
			}
			if strings.Contains(apiErr.Message, "secret") {
				t.Errorf("message leaks upstream body: %q", apiErr.Message)
			}
			if n := second.Load(); n != 0 {
				t.Errorf("backup called %d times, want 0", n)
			}
		})
	}
}

func TestComplete_FailoverToHealthyCandidate(t *testing.T) {
	var firstHits, secondHits atomic.Int32
	first := upstreamServer(t, &firstHits, http.StatusServiceUnavailable, `{"error":{"message":"down"}}`)
	backup := upstreamServer(t, &secondHits, http.StatusOK, okResponse)

	g, _, _ := newGateway(t,
		service("backup", "openai", backup.URL, 5),
		service("primary", "openai", first.URL, 1),
	)

	res, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(chatRequest)})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Upstream != "backup" {
		t.Errorf("Upstream = %q, want backup", res.Upstream)
	}
	if firstHits.Load() != 1 || secondHits.Load() != 1 {
		t.Errorf("hits = %d/%d, want 1/1", firstHits.Load(), secondHits.Load())
	}
	if got := gjson.GetBytes(res.Body, "choices.0.message.content").String(); got != "hello" {
		t.Errorf("content = %q", got)
	}
	if got := gjson.GetBytes(res.Body, "model").String(); got != "m" {
		t.Errorf("model = %q, want client model", got)
	}
	if got := gjson.GetBytes(res.Body, "system_fingerprint").String(); got != "fp_1" {
		t.Errorf("system_fingerprint = %q, unknown fields should survive", got)
	}
}

func TestComplete_Exhausted(t *testing.T) {
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name       string
		base       func(t *testing.T) string
		wantStatus int
		wantCode   domain.ErrorCode
	}{
		{
			name:       "rate limited",
			base:       func(t *testing.T) string { return upstreamServer(t, nil, http.StatusTooManyRequests, `{}`).URL },
			wantStatus: http.StatusTooManyRequests,
			wantCode:   domain.ErrorCodeRateLimitExceeded,
		},
		{
			name:       "server error",
			base:       func(t *testing.T) string { return upstreamServer(t, nil, http.StatusBadGateway, `{}`).URL },
			wantStatus: http.StatusBadGateway,
			wantCode:   domain.ErrorCodeUpstreamError,
		},
		{
			name:       "invalid body",
			base:       func(t *testing.T) string { return upstreamServer(t, nil, http.StatusOK, `not json`).URL },
			wantStatus: http.StatusBadGateway,
			wantCode:   domain.ErrorCodeInvalidUpstreamResponse,
		},
		{
			name:       "empty body",
			base:       func(t *testing.T) string { return upstreamServer(t, nil, http.StatusOK, ``).URL },
			wantStatus: http.StatusBadGateway,
			wantCode:   domain.ErrorCodeInvalidUpstreamResponse,
		},
		{
			name:       "connection refused",
			base:       func(t *testing.T) string { return closedURL },
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.ErrorCodeAllUpstreamsFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _, _ := newGateway(t,
				service("a", "openai", tt.base(t), 0),
				service("b", "openai", tt.base(t), 1),
			)
			_, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(chatRequest)})
			apiErr := asAPIError(t, err)
			if apiErr.HTTPStatusCode() != tt.wantStatus {
				t.Errorf("status = %d, want %d", apiErr.HTTPStatusCode(), tt.wantStatus)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestComplete_LastFailureDecides(t *testing.T) {
	limited := upstreamServer(t, nil, http.StatusTooManyRequests, `{}`)
	down := upstreamServer(t, nil, http.StatusServiceUnavailable, `{}`)

	g, _, _ := newGateway(t,
		service("a", "openai", limited.URL, 0),
		service("b", "openai", down.URL, 1),
	)
	_, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(chatRequest)})
	if apiErr := asAPIError(t, err); apiErr.Code != domain.ErrorCodeUpstreamError {
		t.Errorf("code = %s, want %s", apiErr.Code, domain.ErrorCodeUpstreamError)
	}
}

func TestComplete_UsageOverlay(t *testing.T) {
	tests := []struct {
		name           string
		usage          string
		wantPrompt     int64
		wantCompletion func(int64) bool
	}{
		{
			name:           "zero completion estimated",
			usage:          `{"prompt_tokens":12,"completion_tokens":0,"total_tokens":12}`,
			wantPrompt:     12,
			wantCompletion: func(n int64) bool { return n > 0 },
		},
		{
			name:           "reported counts kept",
			usage:          `{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}`,
			wantPrompt:     12,
			wantCompletion: func(n int64) bool { return n == 4 },
		},
		{
			name:           "missing usage estimated",
			usage:          ``,
			wantPrompt:     -1,
			wantCompletion: func(n int64) bool { return n > 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"id":"x","object":"chat.completion","created":1,"model":"u","choices":[{"index":0,` +
				`"message":{"role":"assistant","content":"The weather in Paris is sunny today."},"finish_reason":"stop"}]`
			if tt.usage != "" {
				body += `,"usage":` + tt.usage
			}
			body += `}`
			srv := upstreamServer(t, nil, http.StatusOK, body)

			g, _, _ := newGateway(t, service("a", "openai", srv.URL, 0))
			res, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(chatRequest)})
			if err != nil {
				t.Fatalf("Complete() error = %v", err)
			}

			usage := gjson.GetBytes(res.Body, "usage")
			prompt := usage.Get("prompt_tokens").Int()
			completion := usage.Get("completion_tokens").Int()
			if tt.wantPrompt >= 0 && prompt != tt.wantPrompt {
				t.Errorf("prompt_tokens = %d, want %d", prompt, tt.wantPrompt)
			}
			if prompt <= 0 {
				t.Errorf("prompt_tokens = %d, want > 0", prompt)
			}
			if !tt.wantCompletion(completion) {
				t.Errorf("completion_tokens = %d", completion)
			}
			if total := usage.Get("total_tokens").Int(); total != prompt+completion {
				t.Errorf("total_tokens = %d, want %d", total, prompt+completion)
			}
		})
	}
}

func TestComplete_InjectedToolCalls(t *testing.T) {
	var (
		trigger      string
		upstreamBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		text := "Let me check.\n" + trigger + "\n<function_calls><function_call><tool>get_weather</tool>" +
			"<args><location>Paris</location></args></function_call></function_calls>"
		resp, _ := json.Marshal(map[string]any{
			"id": "x", "object": "chat.completion", "created": 1, "model": "u",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			}},
		})
		w.Write(resp)
	}))
	defer srv.Close()

	g, snap, calls := newGateway(t, service("a", "openai", srv.URL, 0))
	trigger = snap.Trigger

	body := `{"model":"m","messages":[{"role":"user","content":"weather?"}],"tools":` + weatherTools + `,"tool_choice":"required"}`
	res, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(body)})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if gjson.GetBytes(upstreamBody, "tools").Exists() || gjson.GetBytes(upstreamBody, "tool_choice").Exists() {
		t.Errorf("tools leaked upstream: %s", upstreamBody)
	}
	first := gjson.GetBytes(upstreamBody, "messages.0")
	if first.Get("role").String() != "system" || !strings.Contains(first.Get("content").String(), trigger) {
		t.Errorf("first upstream message = %s, want injected system prompt", first.Raw)
	}
	if !strings.Contains(first.Get("content").String(), "You must call at least one tool") {
		t.Error("tool_choice instruction missing from prompt")
	}

	msg := gjson.GetBytes(res.Body, "choices.0.message")
	if got := msg.Get("content").String(); got != "Let me check." {
		t.Errorf("content = %q", got)
	}
	if got := msg.Get("tool_calls.0.function.name").String(); got != "get_weather" {
		t.Errorf("tool name = %q", got)
	}
	if got := msg.Get("tool_calls.0.function.arguments").String(); got != `{"location":"Paris"}` {
		t.Errorf("arguments = %s", got)
	}
	id := msg.Get("tool_calls.0.id").String()
	if !strings.HasPrefix(id, domain.PrefixOpenAICall) {
		t.Errorf("id = %q", id)
	}
	if got := gjson.GetBytes(res.Body, "choices.0.finish_reason").String(); got != "tool_calls" {
		t.Errorf("finish_reason = %q", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := calls.Lookup(context.Background(), id)
		if err == nil {
			if rec.Name != "get_weather" || rec.Description != "Calling tool get_weather" {
				t.Errorf("record = %+v", rec)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("tool call was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestComplete_NativeToolsWhenInjectionDisabled(t *testing.T) {
	var upstreamBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, okResponse)
	}))
	defer srv.Close()

	off := false
	svc := service("a", "openai", srv.URL, 0)
	svc.InjectFunctionCalling = &off
	g, _, _ := newGateway(t, svc)

	body := `{"model":"m","messages":[{"role":"user","content":"weather?"}],"tools":` + weatherTools + `}`
	if _, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(body)}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got := gjson.GetBytes(upstreamBody, "tools.0.function.name").String(); got != "get_weather" {
		t.Errorf("native tools not forwarded: %s", upstreamBody)
	}
	if gjson.GetBytes(upstreamBody, "messages.#").Int() != 1 {
		t.Errorf("prompt injected although disabled: %s", upstreamBody)
	}
}

func TestComplete_AnthropicClientGeminiUpstream(t *testing.T) {
	var path, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, key = r.URL.Path, r.URL.Query().Get("key")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"hi there"}]},"finishReason":"STOP"}],`+
			`"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2,"totalTokenCount":7}}`)
	}))
	defer srv.Close()

	g, _, _ := newGateway(t, service("gem", "gemini", srv.URL+"/v1beta", 0))

	body := `{"model":"m","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	res, err := g.Complete(context.Background(), Request{Format: domain.FormatAnthropic, Body: []byte(body)})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if path != "/v1beta/models/m:generateContent" {
		t.Errorf("upstream path = %q", path)
	}
	if key != "sk-gem" {
		t.Errorf("upstream key = %q", key)
	}
	if got := gjson.GetBytes(res.Body, "type").String(); got != "message" {
		t.Errorf("type = %q", got)
	}
	if got := gjson.GetBytes(res.Body, "content.0.text").String(); got != "hi there" {
		t.Errorf("text = %q", got)
	}
	if got := gjson.GetBytes(res.Body, "stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q", got)
	}
	if got := gjson.GetBytes(res.Body, "usage.input_tokens").Int(); got != 5 {
		t.Errorf("input_tokens = %d", got)
	}
	if got := gjson.GetBytes(res.Body, "usage.output_tokens").Int(); got != 2 {
		t.Errorf("output_tokens = %d", got)
	}
}

func TestComplete_GeminiWithoutCandidates(t *testing.T) {
	srv := upstreamServer(t, nil, http.StatusOK, `{"candidates":[]}`)
	g, _, _ := newGateway(t, service("gem", "gemini", srv.URL, 0))

	_, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(chatRequest)})
	apiErr := asAPIError(t, err)
	if apiErr.Code != domain.ErrorCodeConversionFailed || apiErr.HTTPStatusCode() != http.StatusBadGateway {
		t.Errorf("error = %v (%d)", apiErr, apiErr.HTTPStatusCode())
	}
}

func TestComplete_InvalidRequest(t *testing.T) {
	srv := upstreamServer(t, nil, http.StatusOK, okResponse)
	g, _, _ := newGateway(t, service("a", "openai", srv.URL, 0))

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"no model", `{"messages":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(tt.body)})
			if apiErr := asAPIError(t, err); apiErr.HTTPStatusCode() != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", apiErr.HTTPStatusCode())
			}
		})
	}
}

func TestComplete_KeyPassthrough(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		io.WriteString(w, okResponse)
	}))
	defer srv.Close()

	cfg := &config.Config{
		UpstreamServices: []config.UpstreamServiceConfig{service("a", "openai", srv.URL, 0)},
		Features:         config.FeaturesConfig{KeyPassthrough: true},
	}
	snap, err := config.Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	g := New(config.NewStore(snap), upstream.NewClient(), WithLogger(discardLogger()))

	if _, err := g.Complete(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(chatRequest), APIKey: "client-key"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if auth != "Bearer client-key" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestIsStream(t *testing.T) {
	if !IsStream(Request{Body: []byte(`{"stream":true}`)}) {
		t.Error("stream:true not detected")
	}
	if IsStream(Request{Body: []byte(`{"stream":false}`)}) {
		t.Error("stream:false detected as stream")
	}
	if !IsStream(Request{Stream: true, Body: []byte(`{}`)}) {
		t.Error("forced stream not detected")
	}
}

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)
