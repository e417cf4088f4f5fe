// Package tokens estimates token usage for responses whose upstream did not
// report it.
package tokens

import (
	"log/slog"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
)

// Chat framing overhead, after OpenAI's published counting recipe.
const (
	tokensPerMessage  = 3
	tokensPerRole     = 1
	tokensPerToolCall = 3
	tokensPerImage    = 85
	assistantPriming  = 3
)

// charsPerToken is the fallback ratio when no encoding can be loaded.
const charsPerToken = 4

// Counter counts tokens with tiktoken encodings. Codecs are loaded lazily
// and cached. A Counter is safe for concurrent use.
type Counter struct {
	logger *slog.Logger

	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter returns a counter logging codec failures to logger.
func NewCounter(logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{logger: logger, codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

func (c *Counter) codec(model string) tokenizer.Codec {
	encoding := encodingFor(model)

	c.mu.RLock()
	codec, ok := c.codecs[encoding]
	c.mu.RUnlock()
	if ok {
		return codec
	}

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		c.logger.Warn("tokenizer unavailable, estimating by length",
			slog.String("encoding", string(encoding)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	c.mu.Lock()
	c.codecs[encoding] = codec
	c.mu.Unlock()
	return codec
}

// CountText returns the number of tokens in text.
func (c *Counter) CountText(text, model string) int {
	if text == "" {
		return 0
	}
	return c.count(c.codec(model), text)
}

// CountMessages returns the prompt tokens of a chat request, including the
// per-message framing overhead.
func (c *Counter) CountMessages(messages []openai.Message, model string) int {
	codec := c.codec(model)

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage + tokensPerRole
		total += c.count(codec, msg.Name)

		if msg.Content.IsParts() {
			for _, part := range msg.Content.Parts {
				switch part.Type {
				case "text":
					total += c.count(codec, part.Text)
				case "image_url":
					total += tokensPerImage
				}
			}
		} else {
			total += c.count(codec, msg.Content.String())
		}

		for _, tc := range msg.ToolCalls {
			total += c.count(codec, tc.Function.Name)
			total += c.count(codec, tc.Function.Arguments)
			total += tokensPerToolCall
		}
	}
	return total + assistantPriming
}

func (c *Counter) count(codec tokenizer.Codec, text string) int {
	if text == "" {
		return 0
	}
	if codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}
