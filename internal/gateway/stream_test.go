package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

func contentChunk(t *testing.T, content string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id": "c1", "object": "chat.completion.chunk", "created": 1, "model": "u",
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": content}}},
	})
	require.NoError(t, err)
	return "data: " + string(b) + "\n\n"
}

const finishChunk = `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"u","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n"

func streamServer(t *testing.T, body func() string, seen *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen, _ = io.ReadAll(r.Body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStream_InjectedToolCallToAnthropic(t *testing.T) {
	var (
		trigger      string
		upstreamBody []byte
	)
	srv := streamServer(t, func() string {
		var sb strings.Builder
		for _, piece := range []string{
			"Let me check.\n",
			trigger[:7], trigger[7:] + "\n",
			"<function_calls><function_call><tool>get_weather</tool>",
			"<args><location>Paris</location></args></function_call></function_calls>",
			"\nignored trailing text",
		} {
			sb.WriteString(contentChunk(t, piece))
		}
		sb.WriteString(finishChunk)
		sb.WriteString("data: [DONE]\n\n")
		return sb.String()
	}, &upstreamBody)

	g, snap, calls := newGateway(t, service("a", "openai", srv.URL, 0))
	trigger = snap.Trigger

	body := `{"model":"m","max_tokens":256,"stream":true,"messages":[{"role":"user","content":"weather?"}],` +
		`"tools":[{"name":"get_weather","input_schema":{"type":"object","properties":{"location":{"type":"string"}}}}]}`
	rec := httptest.NewRecorder()
	err := g.Stream(context.Background(), Request{Format: domain.FormatAnthropic, Body: []byte(body)}, rec)
	require.NoError(t, err)

	assert.True(t, gjson.GetBytes(upstreamBody, "stream").Bool())
	assert.False(t, gjson.GetBytes(upstreamBody, "tools").Exists())

	out := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, out, "event: message_start")
	assert.Contains(t, out, "Let me check.")
	assert.Contains(t, out, `"type":"tool_use"`)
	assert.Contains(t, out, `"name":"get_weather"`)
	assert.Contains(t, out, `"stop_reason":"tool_use"`)
	assert.Contains(t, out, "event: message_stop")
	assert.NotContains(t, out, trigger)
	assert.NotContains(t, out, "function_calls")
	assert.NotContains(t, out, "ignored trailing text")

	require.Eventually(t, func() bool {
		return calls.Len() == 1
	}, testTimeout, testTick)
}

func TestStream_OpenAIUsageChunk(t *testing.T) {
	tests := []struct {
		name      string
		request   string
		upstream  string
		wantUsage bool
	}{
		{
			name:      "not requested and not reported",
			request:   `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`,
			wantUsage: false,
		},
		{
			name:      "requested",
			request:   `{"model":"m","stream":true,"stream_options":{"include_usage":true},"messages":[{"role":"user","content":"hi"}]}`,
			wantUsage: true,
		},
		{
			name:      "reported by upstream",
			request:   `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`,
			upstream:  `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"u","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":0,"total_tokens":9}}` + "\n\n",
			wantUsage: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := streamServer(t, func() string {
				return contentChunk(t, "hello there") + finishChunk + tt.upstream + "data: [DONE]\n\n"
			}, nil)
			g, _, _ := newGateway(t, service("a", "openai", srv.URL, 0))

			rec := httptest.NewRecorder()
			require.NoError(t, g.Stream(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(tt.request)}, rec))

			out := rec.Body.String()
			require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"), out)
			assert.Contains(t, out, "hello there")
			assert.Equal(t, tt.wantUsage, strings.Contains(out, `"usage"`))

			if tt.upstream != "" {
				// Reported prompt count is kept, the zero completion count is estimated.
				assert.Contains(t, out, `"prompt_tokens":9`)
				assert.NotContains(t, out, `"completion_tokens":0`)
			}
		})
	}
}

func TestStream_ErrorBeforeFirstByte(t *testing.T) {
	srv := upstreamServer(t, nil, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
	g, _, _ := newGateway(t, service("a", "openai", srv.URL, 0))

	rec := httptest.NewRecorder()
	err := g.Stream(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(`{"model":"m","stream":true,"messages":[]}`)}, rec)

	apiErr := asAPIError(t, err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatusCode())
	assert.Zero(t, rec.Body.Len())
	assert.Empty(t, rec.Header().Get("Content-Type"))
}

func TestStream_UsesFirstCandidateOnly(t *testing.T) {
	down := upstreamServer(t, nil, http.StatusServiceUnavailable, `{}`)
	var hits []byte
	healthy := streamServer(t, func() string { return "data: [DONE]\n\n" }, &hits)

	g, _, _ := newGateway(t,
		service("a", "openai", down.URL, 0),
		service("b", "openai", healthy.URL, 1),
	)

	err := g.Stream(context.Background(), Request{Format: domain.FormatOpenAI, Body: []byte(`{"model":"m","stream":true,"messages":[]}`)}, httptest.NewRecorder())
	apiErr := asAPIError(t, err)
	assert.Equal(t, domain.ErrorCodeUpstreamError, apiErr.Code)
	assert.Nil(t, hits, "second candidate must not be tried")
}

func TestStream_InBandError(t *testing.T) {
	srv := streamServer(t, func() string {
		return contentChunk(t, "partial") + `data: {"error":{"message":"boom","type":"server_error"}}` + "\n\n"
	}, nil)
	g, _, _ := newGateway(t, service("a", "openai", srv.URL, 0))

	rec := httptest.NewRecorder()
	require.NoError(t, g.Stream(context.Background(), Request{Format: domain.FormatAnthropic, Body: []byte(`{"model":"m","max_tokens":10,"messages":[]}`), Stream: true}, rec))

	out := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "event: error")
	assert.NotContains(t, out, "boom")
}

func TestStream_GeminiClient(t *testing.T) {
	srv := streamServer(t, func() string {
		return contentChunk(t, "hello") + finishChunk + "data: [DONE]\n\n"
	}, nil)
	g, _, _ := newGateway(t, service("a", "openai", srv.URL, 0))

	rec := httptest.NewRecorder()
	require.NoError(t, g.Stream(context.Background(), Request{Format: domain.FormatGemini, Model: "m", Stream: true,
		Body: []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)}, rec))

	out := rec.Body.String()
	assert.Contains(t, out, `"text":"hello"`)
	assert.Contains(t, out, `"usageMetadata"`)
	assert.NotContains(t, out, "[DONE]")
}
