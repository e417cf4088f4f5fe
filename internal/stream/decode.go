package stream

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/api/anthropic"
	"github.com/tjfontaine/toolcall-gateway/internal/api/gemini"
	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/convert"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// Decoder turns upstream SSE events into Events.
type Decoder interface {
	// Decode converts one SSE event. done reports that the upstream sent its
	// end-of-stream marker.
	Decode(ev SSEEvent) (events []Event, done bool)
}

// NewDecoder returns the decoder for an upstream format. Malformed chunks are
// logged to logger and skipped.
func NewDecoder(format domain.Format, logger *slog.Logger) Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	switch format {
	case domain.FormatAnthropic:
		return &anthropicDecoder{logger: logger, toolIndex: make(map[int]int)}
	case domain.FormatGemini:
		return &geminiDecoder{logger: logger}
	default:
		return &openAIDecoder{logger: logger}
	}
}

type openAIDecoder struct {
	logger *slog.Logger
}

func (d *openAIDecoder) Decode(ev SSEEvent) ([]Event, bool) {
	data := strings.TrimSpace(ev.Data)
	if data == "[DONE]" {
		return nil, true
	}

	values, err := SplitJSON([]byte(data))
	if err != nil {
		d.logger.Warn("skipping malformed stream chunk",
			slog.String("format", "openai"),
			slog.String("error", err.Error()),
			slog.Int("recovered", len(values)),
		)
	}

	var events []Event
	for _, raw := range values {
		events = append(events, d.decodeChunk(raw)...)
	}
	return events, false
}

func (d *openAIDecoder) decodeChunk(raw json.RawMessage) []Event {
	if e := gjson.GetBytes(raw, "error"); e.IsObject() {
		return []Event{ErrorEvent(&UpstreamError{
			Type:    e.Get("type").String(),
			Message: e.Get("message").String(),
		})}
	}

	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		d.logger.Warn("skipping undecodable stream chunk",
			slog.String("format", "openai"),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var events []Event
	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if choice.Delta.Content != "" {
			events = append(events, TextEvent(choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			delta := ToolCallDelta{Index: tc.Index, ID: tc.ID}
			if tc.Function != nil {
				delta.Name = tc.Function.Name
				delta.Arguments = tc.Function.Arguments
			}
			events = append(events, Event{Type: EventToolCall, ToolCall: delta})
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			events = append(events, FinishEvent(*choice.FinishReason))
		}
	}
	if u := gjson.GetBytes(raw, "usage"); u.IsObject() {
		events = append(events, UsageEvent(json.RawMessage(u.Raw)))
	}
	return events
}

type anthropicDecoder struct {
	logger      *slog.Logger
	inputTokens int
	// toolIndex maps content block indices to tool-call indices.
	toolIndex map[int]int
}

func (d *anthropicDecoder) Decode(ev SSEEvent) ([]Event, bool) {
	var env anthropic.StreamEvent
	if err := json.Unmarshal([]byte(ev.Data), &env); err != nil {
		d.logger.Warn("skipping undecodable stream event",
			slog.String("format", "anthropic"),
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	kind := env.Type
	if kind == "" {
		kind = ev.Event
	}

	switch kind {
	case anthropic.EventMessageStart:
		if env.Message != nil {
			d.inputTokens = env.Message.Usage.InputTokens
		}
	case anthropic.EventContentBlockStart:
		if env.ContentBlock != nil && env.ContentBlock.Type == "tool_use" {
			n := len(d.toolIndex)
			d.toolIndex[env.Index] = n
			return []Event{{Type: EventToolCall, ToolCall: ToolCallDelta{
				Index: n,
				ID:    env.ContentBlock.ID,
				Name:  env.ContentBlock.Name,
			}}}, false
		}
	case anthropic.EventContentBlockDelta:
		var delta anthropic.BlockDelta
		if err := json.Unmarshal(env.Delta, &delta); err != nil {
			d.logger.Warn("skipping undecodable block delta",
				slog.String("format", "anthropic"),
				slog.String("error", err.Error()),
			)
			return nil, false
		}
		switch delta.Type {
		case "text_delta":
			if delta.Text != nil && *delta.Text != "" {
				return []Event{TextEvent(*delta.Text)}, false
			}
		case "input_json_delta":
			n, ok := d.toolIndex[env.Index]
			if ok && delta.PartialJSON != nil && *delta.PartialJSON != "" {
				return []Event{{Type: EventToolCall, ToolCall: ToolCallDelta{Index: n, Arguments: *delta.PartialJSON}}}, false
			}
		}
	case anthropic.EventMessageDelta:
		var events []Event
		var delta anthropic.MessageDelta
		if len(env.Delta) > 0 {
			if err := json.Unmarshal(env.Delta, &delta); err == nil && delta.StopReason != "" {
				events = append(events, FinishEvent(convert.FinishReason(delta.StopReason, domain.FormatAnthropic, domain.FormatOpenAI)))
			}
		}
		if env.Usage != nil {
			input := env.Usage.InputTokens
			if input == 0 {
				input = d.inputTokens
			}
			raw, _ := json.Marshal(convert.UsageFromAnthropic(anthropic.MessagesUsage{
				InputTokens:  input,
				OutputTokens: env.Usage.OutputTokens,
			}))
			events = append(events, UsageEvent(raw))
		}
		return events, false
	case anthropic.EventMessageStop:
		return nil, true
	case anthropic.EventError:
		upErr := &UpstreamError{Message: "unknown error"}
		if env.Error != nil {
			upErr.Type, upErr.Message = env.Error.Type, env.Error.Message
		}
		return []Event{ErrorEvent(upErr)}, false
	}
	return nil, false
}

type geminiDecoder struct {
	logger *slog.Logger
	calls  int
}

func (d *geminiDecoder) Decode(ev SSEEvent) ([]Event, bool) {
	values, err := SplitJSON([]byte(ev.Data))
	if err != nil {
		d.logger.Warn("skipping malformed stream chunk",
			slog.String("format", "gemini"),
			slog.String("error", err.Error()),
			slog.Int("recovered", len(values)),
		)
	}

	var events []Event
	for _, raw := range values {
		// The streaming endpoint without alt=sse wraps chunks in an array.
		if r := gjson.ParseBytes(raw); r.IsArray() {
			r.ForEach(func(_, v gjson.Result) bool {
				events = append(events, d.decodeChunk(json.RawMessage(v.Raw))...)
				return true
			})
			continue
		}
		events = append(events, d.decodeChunk(raw)...)
	}
	return events, false
}

func (d *geminiDecoder) decodeChunk(raw json.RawMessage) []Event {
	if e := gjson.GetBytes(raw, "error"); e.IsObject() {
		return []Event{ErrorEvent(&UpstreamError{
			Type:    e.Get("status").String(),
			Message: e.Get("message").String(),
		})}
	}

	var chunk gemini.GenerateContentResponse
	if err := json.Unmarshal(raw, &chunk); err != nil {
		d.logger.Warn("skipping undecodable stream chunk",
			slog.String("format", "gemini"),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var events []Event
	if len(chunk.Candidates) > 0 {
		candidate := chunk.Candidates[0]
		for _, p := range candidate.Content.Parts {
			switch {
			case p.Thought:
			case p.Text != nil && *p.Text != "":
				events = append(events, TextEvent(*p.Text))
			case p.FunctionCall != nil:
				events = append(events, Event{Type: EventToolCall, ToolCall: ToolCallDelta{
					Index:     d.calls,
					ID:        firstNonEmpty(p.FunctionCall.ID, domain.NewID(domain.PrefixOpenAICall)),
					Name:      p.FunctionCall.Name,
					Arguments: openai.CompactArguments(p.FunctionCall.Args),
				}})
				d.calls++
			}
		}
		if candidate.FinishReason != "" {
			events = append(events, FinishEvent(convert.FinishReason(candidate.FinishReason, domain.FormatGemini, domain.FormatOpenAI)))
		}
	}
	if chunk.UsageMetadata != nil {
		raw, _ := json.Marshal(convert.UsageFromGemini(chunk.UsageMetadata))
		events = append(events, UsageEvent(raw))
	}
	return events
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
