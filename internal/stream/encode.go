package stream

import (
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// Meta describes the response being encoded.
type Meta struct {
	// ID is the response id. One is generated in the client's format when empty.
	ID string
	// Model is the model name reported to the client.
	Model string
	// Created is the creation time in Unix seconds; now when zero.
	Created int64
}

// Encoder writes Events to a client in one wire format.
type Encoder interface {
	// Encode writes one event. Usage and error events are ignored; usage is
	// passed to Close and errors to Fail.
	Encode(ev Event) error
	// Close writes the closing frames. usage is an OpenAI usage object or nil.
	Close(usage json.RawMessage) error
	// Fail reports err inside the stream and ends it.
	Fail(err error) error
}

// NewEncoder returns an encoder writing format to w.
func NewEncoder(format domain.Format, w io.Writer, meta Meta, logger *slog.Logger) Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	if meta.Created == 0 {
		meta.Created = time.Now().Unix()
	}
	sse := NewSSEWriter(w)
	switch format {
	case domain.FormatAnthropic:
		if meta.ID == "" {
			meta.ID = domain.NewID(domain.PrefixAnthropicMsg)
		}
		return newAnthropicEncoder(sse, meta, logger)
	case domain.FormatGemini:
		return newGeminiEncoder(sse, meta)
	default:
		if meta.ID == "" {
			meta.ID = domain.NewID(domain.PrefixOpenAICompl)
		}
		return &openAIEncoder{sse: sse, meta: meta}
	}
}

// UsageFromRaw reads prompt and completion counts from an OpenAI usage object.
func UsageFromRaw(raw json.RawMessage) openai.Usage {
	r := gjson.ParseBytes(raw)
	return openai.Usage{
		PromptTokens:     int(r.Get("prompt_tokens").Int()),
		CompletionTokens: int(r.Get("completion_tokens").Int()),
		TotalTokens:      int(r.Get("total_tokens").Int()),
	}
}
