package stream

import (
	"encoding/json"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/codec"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// chunk mirrors openai.ChatCompletionChunk with usage kept raw.
type chunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []openai.ChunkChoice `json:"choices"`
	Usage   json.RawMessage      `json:"usage,omitempty"`
}

type openAIEncoder struct {
	sse      *SSEWriter
	meta     Meta
	roleSent bool
	finished bool
}

func (e *openAIEncoder) Encode(ev Event) error {
	var delta openai.ChunkDelta
	var finish *string

	switch ev.Type {
	case EventText:
		delta.Content = ev.Text
	case EventToolCall:
		tc := openai.ToolCallChunk{
			Index:    ev.ToolCall.Index,
			ID:       ev.ToolCall.ID,
			Function: &openai.FunctionCallChunk{Name: ev.ToolCall.Name, Arguments: ev.ToolCall.Arguments},
		}
		if tc.ID != "" {
			tc.Type = "function"
		}
		delta.ToolCalls = []openai.ToolCallChunk{tc}
	case EventFinish:
		if e.finished {
			return nil
		}
		reason := ev.FinishReason
		finish = &reason
		e.finished = true
	default:
		return nil
	}

	if !e.roleSent {
		delta.Role = "assistant"
		e.roleSent = true
	}
	return e.write(chunk{Choices: []openai.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}}})
}

func (e *openAIEncoder) Close(usage json.RawMessage) error {
	if !e.finished {
		if err := e.Encode(FinishEvent("stop")); err != nil {
			return err
		}
	}
	if len(usage) > 0 {
		if err := e.write(chunk{Choices: []openai.ChunkChoice{}, Usage: usage}); err != nil {
			return err
		}
	}
	return e.sse.WriteDone()
}

func (e *openAIEncoder) Fail(err error) error {
	body := codec.FormatError(err, domain.FormatOpenAI).Body
	if werr := e.sse.WriteData(body); werr != nil {
		return werr
	}
	return e.sse.WriteDone()
}

func (e *openAIEncoder) write(c chunk) error {
	c.ID = e.meta.ID
	c.Object = "chat.completion.chunk"
	c.Created = e.meta.Created
	c.Model = e.meta.Model
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return e.sse.WriteData(data)
}
