package stream

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/api/gemini"
	"github.com/tjfontaine/toolcall-gateway/internal/codec"
	"github.com/tjfontaine/toolcall-gateway/internal/convert"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// geminiEncoder writes streamGenerateContent chunks. Text is forwarded as it
// arrives. Tool calls are collected and sent whole in the final chunk.
type geminiEncoder struct {
	sse    *SSEWriter
	meta   Meta
	calls  []*pendingCall
	byIdx  map[int]*pendingCall
	finish string
}

type pendingCall struct {
	name string
	args strings.Builder
}

func newGeminiEncoder(sse *SSEWriter, meta Meta) *geminiEncoder {
	return &geminiEncoder{sse: sse, meta: meta, byIdx: make(map[int]*pendingCall)}
}

func (e *geminiEncoder) Encode(ev Event) error {
	switch ev.Type {
	case EventText:
		if ev.Text == "" {
			return nil
		}
		return e.write(gemini.GenerateContentResponse{
			Candidates: []gemini.Candidate{{
				Content: gemini.Content{Role: "model", Parts: []gemini.Part{gemini.TextPart(ev.Text)}},
			}},
			ModelVersion: e.meta.Model,
		})
	case EventToolCall:
		call, ok := e.byIdx[ev.ToolCall.Index]
		if !ok {
			call = &pendingCall{}
			e.byIdx[ev.ToolCall.Index] = call
			e.calls = append(e.calls, call)
		}
		if ev.ToolCall.Name != "" {
			call.name = ev.ToolCall.Name
		}
		call.args.WriteString(ev.ToolCall.Arguments)
	case EventFinish:
		e.finish = ev.FinishReason
	}
	return nil
}

func (e *geminiEncoder) Close(usage json.RawMessage) error {
	var parts []gemini.Part
	for _, call := range e.calls {
		args := json.RawMessage(call.args.String())
		if r := gjson.ParseBytes(args); !r.IsObject() {
			args = json.RawMessage("{}")
		}
		parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{Name: call.name, Args: args}})
	}
	if len(parts) == 0 {
		parts = []gemini.Part{gemini.TextPart("")}
	}

	final := gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content:      gemini.Content{Role: "model", Parts: parts},
			FinishReason: convert.FinishReason(e.finish, domain.FormatOpenAI, domain.FormatGemini),
		}},
		ModelVersion: e.meta.Model,
	}
	if len(usage) > 0 {
		u := UsageFromRaw(usage)
		final.UsageMetadata = convert.UsageToGemini(&u)
	}
	return e.write(final)
}

func (e *geminiEncoder) Fail(err error) error {
	return e.sse.WriteData(codec.FormatError(err, domain.FormatGemini).Body)
}

func (e *geminiEncoder) write(resp gemini.GenerateContentResponse) error {
	resp.ResponseID = e.meta.ID
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return e.sse.WriteData(data)
}
