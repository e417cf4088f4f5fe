package convert

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/tjfontaine/toolcall-gateway/internal/api/anthropic"
	"github.com/tjfontaine/toolcall-gateway/internal/api/gemini"
	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

const weatherSchema = `{"type":"object","properties":{"location":{"type":"string"},"-unit":{"type":"string","enum":["c","f"]}},"required":["location"]}`

func jsonEqual(t *testing.T, got, want []byte) bool {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal got %s: %v", got, err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("unmarshal want %s: %v", want, err)
	}
	return reflect.DeepEqual(g, w)
}

func TestRequest_SameFormatIsIdentity(t *testing.T) {
	body := []byte(`{"model":"x","messages":[],"unknown_field":true}`)
	for _, f := range domain.Formats {
		got, err := Request(body, f, f, Options{})
		if err != nil {
			t.Fatalf("Request(%s) error = %v", f, err)
		}
		if string(got) != string(body) {
			t.Errorf("Request(%s) = %s, want input unchanged", f, got)
		}
	}
}

func TestRequest_OpenAIToAnthropic(t *testing.T) {
	body := []byte(`{
		"model": "claude-x",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "system", "content": "be kind"},
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"location\":\"Paris\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "sunny"}
		],
		"tools": [{"type": "function", "function": {"name": "get_weather", "description": "Weather", "parameters": ` + weatherSchema + `}}],
		"tool_choice": "required",
		"stop": "END"
	}`)

	out, err := Request(body, domain.FormatOpenAI, domain.FormatAnthropic, Options{})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	var req anthropic.MessagesRequest
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if req.MaxTokens != DefaultAnthropicMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, DefaultAnthropicMaxTokens)
	}
	if got := req.System.Text(); got != "be brief\n\nbe kind" {
		t.Errorf("System = %q, want %q", got, "be brief\n\nbe kind")
	}
	if len(req.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(req.Messages))
	}
	use := req.Messages[1].Content[0]
	if use.Type != "tool_use" || use.ID != "call_1" || use.Name != "get_weather" {
		t.Errorf("tool_use block = %+v", use)
	}
	if !jsonEqual(t, use.Input, []byte(`{"location":"Paris"}`)) {
		t.Errorf("tool_use input = %s", use.Input)
	}
	result := req.Messages[2]
	if result.Role != "user" || result.Content[0].Type != "tool_result" || result.Content[0].ToolUseID != "call_1" {
		t.Errorf("tool result message = %+v", result)
	}
	if got := result.Content[0].Content.String(); got != "sunny" {
		t.Errorf("tool_result content = %q, want %q", got, "sunny")
	}
	if len(req.Tools) != 1 || !jsonEqual(t, req.Tools[0].InputSchema, []byte(weatherSchema)) {
		t.Errorf("Tools = %+v, want schema passed through", req.Tools)
	}
	if req.ToolChoice == nil || req.ToolChoice.Type != "any" {
		t.Errorf("ToolChoice = %+v, want any", req.ToolChoice)
	}
	if !reflect.DeepEqual(req.StopSequences, []string{"END"}) {
		t.Errorf("StopSequences = %v, want [END]", req.StopSequences)
	}
}

func TestRequest_AnthropicToOpenAI(t *testing.T) {
	body := []byte(`{
		"model": "gpt-x",
		"max_tokens": 100,
		"system": [{"type": "text", "text": "one"}, {"type": "text", "text": "two"}],
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": {"q": "x"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": [{"type": "text", "text": "found"}]},
				{"type": "text", "text": "thanks"}
			]}
		],
		"thinking": {"type": "enabled", "budget_tokens": 20000}
	}`)

	out, err := Request(body, domain.FormatAnthropic, domain.FormatOpenAI, Options{})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	wantRoles := []string{"system", "user", "assistant", "tool", "user"}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("len(Messages) = %d, want %d", len(req.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if req.Messages[i].Role != role {
			t.Errorf("Messages[%d].Role = %q, want %q", i, req.Messages[i].Role, role)
		}
	}
	if got := req.Messages[0].Content.String(); got != "one\n\ntwo" {
		t.Errorf("system = %q, want %q", got, "one\n\ntwo")
	}
	tc := req.Messages[2].ToolCalls
	if len(tc) != 1 || tc[0].ID != "toolu_1" || tc[0].Function.Arguments != `{"q":"x"}` {
		t.Errorf("ToolCalls = %+v", tc)
	}
	if req.Messages[3].ToolCallID != "toolu_1" || req.Messages[3].Content.String() != "found" {
		t.Errorf("tool message = %+v", req.Messages[3])
	}
	if req.MaxTokens == nil || *req.MaxTokens != 100 {
		t.Errorf("MaxTokens = %v, want 100", req.MaxTokens)
	}
	if req.ReasoningEffort != "high" {
		t.Errorf("ReasoningEffort = %q, want high", req.ReasoningEffort)
	}
}

func TestRequest_GeminiToOpenAI(t *testing.T) {
	body := []byte(`{
		"systemInstruction": {"parts": [{"text": "a"}, {"text": "b"}]},
		"contents": [
			{"role": "user", "parts": [{"text": "hello"}, {"inline_data": {"mime_type": "image/jpeg", "data": "QUJD"}}]},
			{"role": "model", "parts": [{"functionCall": {"name": "lookup", "args": {"q": 1}}}]},
			{"role": "user", "parts": [{"functionResponse": {"name": "lookup", "response": {"ok": true}}}]}
		],
		"generationConfig": {"maxOutputTokens": 50, "temperature": 0.2, "stopSequences": ["x"]},
		"tools": [{"functionDeclarations": [{"name": "lookup", "parameters": {"type": "object"}}]}]
	}`)

	out, err := Request(body, domain.FormatGemini, domain.FormatOpenAI, Options{Model: "gemini-pro"})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if req.Model != "gemini-pro" {
		t.Errorf("Model = %q, want gemini-pro", req.Model)
	}
	if got := req.Messages[0].Content.String(); got != "a\nb" {
		t.Errorf("system = %q, want %q", got, "a\nb")
	}
	user := req.Messages[1]
	if !user.Content.IsParts() || len(user.Content.Parts) != 2 {
		t.Fatalf("user content = %+v, want two parts", user.Content)
	}
	if got := user.Content.Parts[1].ImageURL.URL; got != "data:image/jpeg;base64,QUJD" {
		t.Errorf("image url = %q", got)
	}
	call := req.Messages[2].ToolCalls[0]
	tool := req.Messages[3]
	if tool.Role != "tool" || tool.ToolCallID != call.ID {
		t.Errorf("tool_call_id = %q, want it to match call id %q", tool.ToolCallID, call.ID)
	}
	if tool.Content.String() != `{"ok":true}` {
		t.Errorf("tool content = %q", tool.Content.String())
	}
	if req.MaxTokens == nil || *req.MaxTokens != 50 {
		t.Errorf("MaxTokens = %v, want 50", req.MaxTokens)
	}
}

func TestRequest_OpenAIToGemini(t *testing.T) {
	body := []byte(`{
		"model": "gemini-pro",
		"messages": [
			{"role": "system", "content": "rules"},
			{"role": "user", "content": "go"},
			{"role": "assistant", "content": "", "tool_calls": [
				{"id": "call_a", "type": "function", "function": {"name": "a", "arguments": "{}"}},
				{"id": "call_b", "type": "function", "function": {"name": "b", "arguments": "{\"n\":2}"}}
			]},
			{"role": "tool", "tool_call_id": "call_a", "content": "plain text"},
			{"role": "tool", "tool_call_id": "call_b", "content": "{\"v\":1}"}
		],
		"max_completion_tokens": 10,
		"reasoning_effort": "low",
		"tool_choice": {"type": "function", "function": {"name": "a"}}
	}`)

	out, err := Request(body, domain.FormatOpenAI, domain.FormatGemini, Options{})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	var req gemini.GenerateContentRequest
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if req.SystemInstruction == nil || *req.SystemInstruction.Parts[0].Text != "rules" {
		t.Errorf("SystemInstruction = %+v", req.SystemInstruction)
	}
	if len(req.Contents) != 3 {
		t.Fatalf("len(Contents) = %d, want 3", len(req.Contents))
	}
	if req.Contents[1].Role != "model" || len(req.Contents[1].Parts) != 2 {
		t.Errorf("model turn = %+v", req.Contents[1])
	}
	results := req.Contents[2].Parts
	if len(results) != 2 {
		t.Fatalf("function responses = %d, want 2", len(results))
	}
	if results[0].FunctionResponse.Name != "a" || !jsonEqual(t, results[0].FunctionResponse.Response, []byte(`{"content":"plain text"}`)) {
		t.Errorf("first response = %+v", results[0].FunctionResponse)
	}
	if results[1].FunctionResponse.Name != "b" || !jsonEqual(t, results[1].FunctionResponse.Response, []byte(`{"v":1}`)) {
		t.Errorf("second response = %+v", results[1].FunctionResponse)
	}
	gc := req.GenerationConfig
	if gc == nil || gc.MaxOutputTokens == nil || *gc.MaxOutputTokens != 10 {
		t.Errorf("GenerationConfig = %+v, want maxOutputTokens 10", gc)
	}
	if gc.ThinkingConfig == nil || *gc.ThinkingConfig.ThinkingBudget != 2048 {
		t.Errorf("ThinkingConfig = %+v, want budget 2048", gc.ThinkingConfig)
	}
	fcc := req.ToolConfig.FunctionCallingConfig
	if fcc.Mode != "ANY" || !reflect.DeepEqual(fcc.AllowedFunctionNames, []string{"a"}) {
		t.Errorf("FunctionCallingConfig = %+v", fcc)
	}
}

func TestResponse_GeminiWithoutCandidates(t *testing.T) {
	for _, target := range []domain.Format{domain.FormatOpenAI, domain.FormatAnthropic} {
		_, err := Response([]byte(`{"candidates":[]}`), domain.FormatGemini, target, Options{})
		if !errors.Is(err, ErrNoCandidates) {
			t.Errorf("Response(gemini -> %s) error = %v, want ErrNoCandidates", target, err)
		}
	}
}

func TestResponse_AnthropicToOpenAI(t *testing.T) {
	body := []byte(`{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude",
		"content": [
			{"type": "text", "text": "Let me look."},
			{"type": "tool_use", "id": "toolu_9", "name": "search", "input": {"q": "go"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`)

	out, err := Response(body, domain.FormatAnthropic, domain.FormatOpenAI, Options{Model: "client-model"})
	if err != nil {
		t.Fatalf("Response() error = %v", err)
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	choice := resp.Choices[0]
	if choice.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", choice.FinishReason)
	}
	if choice.Message.Content.String() != "Let me look." {
		t.Errorf("Content = %q", choice.Message.Content.String())
	}
	if tc := choice.Message.ToolCalls; len(tc) != 1 || tc[0].ID != "toolu_9" || tc[0].Function.Arguments != `{"q":"go"}` {
		t.Errorf("ToolCalls = %+v", tc)
	}
	want := openai.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19}
	if resp.Usage == nil || *resp.Usage != want {
		t.Errorf("Usage = %+v, want %+v", resp.Usage, want)
	}
	if resp.Model != "client-model" {
		t.Errorf("Model = %q, want client-model", resp.Model)
	}
}

func TestResponse_OpenAIToAnthropicEmptyContent(t *testing.T) {
	body := []byte(`{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":null},"finish_reason":"length"}]}`)

	out, err := Response(body, domain.FormatOpenAI, domain.FormatAnthropic, Options{})
	if err != nil {
		t.Fatalf("Response() error = %v", err)
	}
	var resp anthropic.MessagesResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != "text" || resp.Content[0].Text == nil || *resp.Content[0].Text != "" {
		t.Errorf("Content = %+v, want one empty text block", resp.Content)
	}
	if resp.StopReason == nil || *resp.StopReason != "max_tokens" {
		t.Errorf("StopReason = %v, want max_tokens", resp.StopReason)
	}
}

// Tool schemas and tool-call arguments survive a trip through every format.
func TestRoundTrip_ToolFidelity(t *testing.T) {
	reqBody := []byte(`{
		"model": "m",
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [{"type": "function", "function": {"name": "get_weather", "description": "Weather", "parameters": ` + weatherSchema + `}}]
	}`)
	respBody := []byte(`{
		"id": "chatcmpl-1", "object": "chat.completion", "model": "m",
		"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {"role": "assistant", "content": null,
			"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"location\":\"Paris\",\"-unit\":\"c\"}"}}]}}]
	}`)

	for _, f := range []domain.Format{domain.FormatAnthropic, domain.FormatGemini} {
		t.Run(string(f), func(t *testing.T) {
			there, err := Request(reqBody, domain.FormatOpenAI, f, Options{})
			if err != nil {
				t.Fatalf("Request(openai -> %s) error = %v", f, err)
			}
			back, err := Request(there, f, domain.FormatOpenAI, Options{Model: "m"})
			if err != nil {
				t.Fatalf("Request(%s -> openai) error = %v", f, err)
			}
			var req openai.ChatCompletionRequest
			if err := json.Unmarshal(back, &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(req.Tools) != 1 || req.Tools[0].Function.Name != "get_weather" {
				t.Fatalf("Tools = %+v", req.Tools)
			}
			if !jsonEqual(t, req.Tools[0].Function.Parameters, []byte(weatherSchema)) {
				t.Errorf("Parameters = %s, want %s", req.Tools[0].Function.Parameters, weatherSchema)
			}

			there, err = Response(respBody, domain.FormatOpenAI, f, Options{})
			if err != nil {
				t.Fatalf("Response(openai -> %s) error = %v", f, err)
			}
			back, err = Response(there, f, domain.FormatOpenAI, Options{})
			if err != nil {
				t.Fatalf("Response(%s -> openai) error = %v", f, err)
			}
			var resp openai.ChatCompletionResponse
			if err := json.Unmarshal(back, &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			tc := resp.Choices[0].Message.ToolCalls
			if len(tc) != 1 || tc[0].Function.Name != "get_weather" {
				t.Fatalf("ToolCalls = %+v", tc)
			}
			if !jsonEqual(t, []byte(tc[0].Function.Arguments), []byte(`{"location":"Paris","-unit":"c"}`)) {
				t.Errorf("Arguments = %s", tc[0].Function.Arguments)
			}
		})
	}
}
