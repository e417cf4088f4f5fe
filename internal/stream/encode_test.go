package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

var testUsage = json.RawMessage(`{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}`)

func encodeAll(t *testing.T, format domain.Format, events []Event, usage json.RawMessage) []SSEEvent {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(format, &buf, Meta{ID: "resp_1", Model: "test-model", Created: 1700000000}, nil)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	require.NoError(t, enc.Close(usage))
	return readAll(t, buf.String())
}

func names(events []SSEEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Event
	}
	return out
}

func TestOpenAIEncoder(t *testing.T) {
	out := encodeAll(t, domain.FormatOpenAI, []Event{
		TextEvent("Hi"),
		{Type: EventToolCall, ToolCall: ToolCallDelta{Index: 0, ID: "call_1", Name: "f"}},
		{Type: EventToolCall, ToolCall: ToolCallDelta{Index: 0, Arguments: `{"a":1}`}},
		FinishEvent("tool_calls"),
		FinishEvent("stop"),
	}, testUsage)

	require.Len(t, out, 6)
	first := gjson.Parse(out[0].Data)
	assert.Equal(t, "resp_1", first.Get("id").String())
	assert.Equal(t, "chat.completion.chunk", first.Get("object").String())
	assert.Equal(t, "test-model", first.Get("model").String())
	assert.Equal(t, int64(1700000000), first.Get("created").Int())
	assert.Equal(t, "assistant", first.Get("choices.0.delta.role").String())
	assert.Equal(t, "Hi", first.Get("choices.0.delta.content").String())

	call := gjson.Parse(out[1].Data).Get("choices.0.delta.tool_calls.0")
	assert.False(t, gjson.Parse(out[1].Data).Get("choices.0.delta.role").Exists())
	assert.Equal(t, "call_1", call.Get("id").String())
	assert.Equal(t, "function", call.Get("type").String())
	assert.Equal(t, "f", call.Get("function.name").String())

	args := gjson.Parse(out[2].Data).Get("choices.0.delta.tool_calls.0")
	assert.False(t, args.Get("type").Exists())
	assert.Equal(t, `{"a":1}`, args.Get("function.arguments").String())

	assert.Equal(t, "tool_calls", gjson.Parse(out[3].Data).Get("choices.0.finish_reason").String())

	usage := gjson.Parse(out[4].Data)
	assert.Equal(t, 0, len(usage.Get("choices").Array()))
	assert.JSONEq(t, string(testUsage), usage.Get("usage").Raw)

	assert.Equal(t, "[DONE]", out[5].Data)
}

func TestOpenAIEncoder_CloseWithoutFinish(t *testing.T) {
	out := encodeAll(t, domain.FormatOpenAI, []Event{TextEvent("x")}, nil)
	require.Len(t, out, 3)
	assert.Equal(t, "stop", gjson.Parse(out[1].Data).Get("choices.0.finish_reason").String())
	assert.False(t, gjson.Parse(out[1].Data).Get("usage").Exists())
	assert.Equal(t, "[DONE]", out[2].Data)
}

func TestOpenAIEncoder_Fail(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(domain.FormatOpenAI, &buf, Meta{}, nil)
	require.NoError(t, enc.Fail(&UpstreamError{Message: "boom"}))

	out := readAll(t, buf.String())
	require.Len(t, out, 2)
	assert.True(t, gjson.Get(out[0].Data, "error.message").Exists())
	assert.Equal(t, "[DONE]", out[1].Data)
}

func TestAnthropicEncoder_TextThenTool(t *testing.T) {
	out := encodeAll(t, domain.FormatAnthropic, []Event{
		TextEvent("Let me "),
		TextEvent("check."),
		{Type: EventToolCall, ToolCall: ToolCallDelta{Index: 0, ID: "call_1", Name: "get_weather"}},
		{Type: EventToolCall, ToolCall: ToolCallDelta{Index: 0, Arguments: `{"location":"Paris"}`}},
		FinishEvent("tool_calls"),
	}, testUsage)

	assert.Equal(t, []string{
		"message_start",
		"content_block_start", "content_block_delta", "content_block_delta", "content_block_stop",
		"content_block_start", "content_block_delta", "content_block_stop",
		"message_delta", "message_stop",
	}, names(out))

	start := gjson.Parse(out[0].Data).Get("message")
	assert.Equal(t, "resp_1", start.Get("id").String())
	assert.Equal(t, "assistant", start.Get("role").String())
	assert.Equal(t, "test-model", start.Get("model").String())

	assert.Equal(t, "text", gjson.Get(out[1].Data, "content_block.type").String())
	assert.Equal(t, int64(0), gjson.Get(out[1].Data, "index").Int())
	assert.Equal(t, "check.", gjson.Get(out[3].Data, "delta.text").String())

	tool := gjson.Parse(out[5].Data)
	assert.Equal(t, int64(1), tool.Get("index").Int())
	assert.Equal(t, "tool_use", tool.Get("content_block.type").String())
	assert.Equal(t, "call_1", tool.Get("content_block.id").String())
	assert.Equal(t, "get_weather", tool.Get("content_block.name").String())
	assert.Equal(t, "input_json_delta", gjson.Get(out[6].Data, "delta.type").String())
	assert.Equal(t, `{"location":"Paris"}`, gjson.Get(out[6].Data, "delta.partial_json").String())

	delta := gjson.Parse(out[8].Data)
	assert.Equal(t, "tool_use", delta.Get("delta.stop_reason").String())
	assert.Equal(t, int64(10), delta.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(5), delta.Get("usage.output_tokens").Int())
}

func TestAnthropicEncoder_StopReasons(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   string
	}{
		{name: "stop", events: []Event{TextEvent("a"), FinishEvent("stop")}, want: "end_turn"},
		{name: "length", events: []Event{TextEvent("a"), FinishEvent("length")}, want: "max_tokens"},
		{name: "no finish", events: []Event{TextEvent("a")}, want: "end_turn"},
		{name: "tool last", events: []Event{{Type: EventToolCall, ToolCall: ToolCallDelta{Name: "f"}}, FinishEvent("stop")}, want: "tool_use"},
		{name: "text after tool", events: []Event{
			{Type: EventToolCall, ToolCall: ToolCallDelta{Name: "f"}},
			TextEvent("done"),
			FinishEvent("stop"),
		}, want: "end_turn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encodeAll(t, domain.FormatAnthropic, tt.events, nil)
			require.GreaterOrEqual(t, len(out), 2)
			delta := out[len(out)-2]
			require.Equal(t, "message_delta", delta.Event)
			assert.Equal(t, tt.want, gjson.Get(delta.Data, "delta.stop_reason").String())
		})
	}
}

func TestAnthropicEncoder_EmptyStream(t *testing.T) {
	out := encodeAll(t, domain.FormatAnthropic, nil, nil)
	assert.Equal(t, []string{"message_start", "message_delta", "message_stop"}, names(out))
}

func TestAnthropicEncoder_GeneratedIDs(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(domain.FormatAnthropic, &buf, Meta{Model: "m"}, nil)
	require.NoError(t, enc.Encode(Event{Type: EventToolCall, ToolCall: ToolCallDelta{Name: "f"}}))
	require.NoError(t, enc.Close(nil))

	out := readAll(t, buf.String())
	assert.Regexp(t, `^msg_`, gjson.Get(out[0].Data, "message.id").String())
	assert.Regexp(t, `^toolu_`, gjson.Get(out[1].Data, "content_block.id").String())
}

func TestAnthropicEncoder_Fail(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(domain.FormatAnthropic, &buf, Meta{}, nil)
	require.NoError(t, enc.Fail(errors.New("boom")))

	out := readAll(t, buf.String())
	require.Len(t, out, 1)
	assert.Equal(t, "error", out[0].Event)
	assert.Equal(t, "error", gjson.Get(out[0].Data, "type").String())
}

func TestGeminiEncoder(t *testing.T) {
	out := encodeAll(t, domain.FormatGemini, []Event{
		TextEvent("Checking"),
		{Type: EventToolCall, ToolCall: ToolCallDelta{Index: 0, ID: "call_1", Name: "get_weather"}},
		{Type: EventToolCall, ToolCall: ToolCallDelta{Index: 0, Arguments: `{"location":`}},
		{Type: EventToolCall, ToolCall: ToolCallDelta{Index: 0, Arguments: `"Paris"}`}},
		FinishEvent("tool_calls"),
	}, testUsage)

	require.Len(t, out, 2)
	text := gjson.Parse(out[0].Data)
	assert.Equal(t, "Checking", text.Get("candidates.0.content.parts.0.text").String())
	assert.Equal(t, "model", text.Get("candidates.0.content.role").String())
	assert.Equal(t, "resp_1", text.Get("responseId").String())

	final := gjson.Parse(out[1].Data)
	call := final.Get("candidates.0.content.parts.0.functionCall")
	assert.Equal(t, "get_weather", call.Get("name").String())
	assert.JSONEq(t, `{"location":"Paris"}`, call.Get("args").Raw)
	assert.Equal(t, "STOP", final.Get("candidates.0.finishReason").String())
	assert.Equal(t, int64(15), final.Get("usageMetadata.totalTokenCount").Int())
}

func TestGeminiEncoder_TextOnly(t *testing.T) {
	out := encodeAll(t, domain.FormatGemini, []Event{TextEvent("a"), FinishEvent("length")}, nil)
	require.Len(t, out, 2)
	final := gjson.Parse(out[1].Data)
	assert.Equal(t, "MAX_TOKENS", final.Get("candidates.0.finishReason").String())
	assert.False(t, final.Get("usageMetadata").Exists())
}
