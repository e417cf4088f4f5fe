package stream

import (
	"encoding/json"
	"log/slog"

	"github.com/tjfontaine/toolcall-gateway/internal/api/anthropic"
	"github.com/tjfontaine/toolcall-gateway/internal/codec"
	"github.com/tjfontaine/toolcall-gateway/internal/convert"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

const (
	blockNone = ""
	blockText = "text"
	blockTool = "tool_use"
)

// anthropicEncoder re-emits events as Anthropic Messages SSE. Each run of
// text or each tool call becomes one content block.
type anthropicEncoder struct {
	sse    *SSEWriter
	meta   Meta
	logger *slog.Logger

	started   bool
	nextIndex int
	openIndex int
	openType  string
	lastType  string
	// toolBlock maps tool-call indices to their content block index.
	toolBlock map[int]int
	finish    string
}

func newAnthropicEncoder(sse *SSEWriter, meta Meta, logger *slog.Logger) *anthropicEncoder {
	return &anthropicEncoder{sse: sse, meta: meta, logger: logger, toolBlock: make(map[int]int)}
}

func (e *anthropicEncoder) Encode(ev Event) error {
	switch ev.Type {
	case EventText:
		if ev.Text == "" {
			return nil
		}
		if err := e.start(); err != nil {
			return err
		}
		if e.openType != blockText {
			if err := e.openBlock(blockText, anthropic.TextContent("")); err != nil {
				return err
			}
		}
		text := ev.Text
		return e.delta(anthropic.BlockDelta{Type: "text_delta", Text: &text})

	case EventToolCall:
		if err := e.start(); err != nil {
			return err
		}
		tc := ev.ToolCall
		blockIdx, known := e.toolBlock[tc.Index]
		if !known {
			id := tc.ID
			if id == "" {
				id = domain.NewID(domain.PrefixAnthropicTool)
			}
			err := e.openBlock(blockTool, anthropic.ResponseContent{
				Type:  "tool_use",
				ID:    id,
				Name:  tc.Name,
				Input: json.RawMessage("{}"),
			})
			if err != nil {
				return err
			}
			e.toolBlock[tc.Index] = e.openIndex
			blockIdx = e.openIndex
		}
		if tc.Arguments == "" {
			return nil
		}
		if e.openType != blockTool || blockIdx != e.openIndex {
			e.logger.Warn("dropping arguments for closed tool block",
				slog.Int("tool_index", tc.Index),
				slog.Int("block_index", blockIdx),
			)
			return nil
		}
		args := tc.Arguments
		return e.delta(anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: &args})

	case EventFinish:
		e.finish = ev.FinishReason
	}
	return nil
}

func (e *anthropicEncoder) Close(usage json.RawMessage) error {
	if err := e.start(); err != nil {
		return err
	}
	if err := e.closeBlock(); err != nil {
		return err
	}

	stopReason := convert.FinishReason(e.finish, domain.FormatOpenAI, domain.FormatAnthropic)
	if e.lastType == blockTool {
		stopReason = "tool_use"
	}
	u := UsageFromRaw(usage)
	if err := e.write(anthropic.EventMessageDelta, anthropic.MessageDeltaEvent{
		Type:  anthropic.EventMessageDelta,
		Delta: anthropic.MessageDelta{StopReason: stopReason},
		Usage: &anthropic.DeltaUsage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens},
	}); err != nil {
		return err
	}
	return e.write(anthropic.EventMessageStop, anthropic.MessageStopEvent{Type: anthropic.EventMessageStop})
}

func (e *anthropicEncoder) Fail(err error) error {
	return e.sse.WriteEvent(anthropic.EventError, codec.FormatError(err, domain.FormatAnthropic).Body)
}

func (e *anthropicEncoder) start() error {
	if e.started {
		return nil
	}
	e.started = true
	return e.write(anthropic.EventMessageStart, anthropic.MessageStartEvent{
		Type: anthropic.EventMessageStart,
		Message: anthropic.MessagesResponse{
			ID:      e.meta.ID,
			Type:    "message",
			Role:    "assistant",
			Content: []anthropic.ResponseContent{},
			Model:   e.meta.Model,
		},
	})
}

func (e *anthropicEncoder) openBlock(kind string, block anthropic.ResponseContent) error {
	if err := e.closeBlock(); err != nil {
		return err
	}
	e.openIndex = e.nextIndex
	e.nextIndex++
	e.openType = kind
	e.lastType = kind
	return e.write(anthropic.EventContentBlockStart, anthropic.ContentBlockStartEvent{
		Type:         anthropic.EventContentBlockStart,
		Index:        e.openIndex,
		ContentBlock: block,
	})
}

func (e *anthropicEncoder) closeBlock() error {
	if e.openType == blockNone {
		return nil
	}
	e.openType = blockNone
	return e.write(anthropic.EventContentBlockStop, anthropic.ContentBlockStopEvent{
		Type:  anthropic.EventContentBlockStop,
		Index: e.openIndex,
	})
}

func (e *anthropicEncoder) delta(d anthropic.BlockDelta) error {
	return e.write(anthropic.EventContentBlockDelta, anthropic.ContentBlockDeltaEvent{
		Type:  anthropic.EventContentBlockDelta,
		Index: e.openIndex,
		Delta: d,
	})
}

func (e *anthropicEncoder) write(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.sse.WriteEvent(event, data)
}
