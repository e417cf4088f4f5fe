package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/convert"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/router"
	"github.com/tjfontaine/toolcall-gateway/internal/toolcall"
	"github.com/tjfontaine/toolcall-gateway/internal/upstream"
)

// Result is a finished non-streaming call.
type Result struct {
	// Body is the response in the client's format.
	Body []byte
	// Upstream names the service that answered.
	Upstream string
	// Model is the upstream model used.
	Model string
}

// Complete runs a non-streaming request. Candidates are tried one at a time
// in priority order. A 4xx other than 429 stops immediately; rate limits,
// server errors, transport failures and unusable bodies move on to the next
// candidate. Returned errors are *domain.APIError.
func (g *Gateway) Complete(ctx context.Context, req Request) (*Result, error) {
	p, err := g.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	p.stream = false

	var (
		lastClass = failureNone
		lastErr   error
	)
	for i, c := range p.candidates {
		if err := ctx.Err(); err != nil {
			return nil, domain.ErrServer(err)
		}

		body, err := g.attempt(ctx, p, c)
		if err == nil {
			return &Result{Body: body, Upstream: c.Service.Name, Model: c.Model}, nil
		}

		class, retryable := classify(err)
		if !retryable {
			var se *upstream.StatusError
			errors.As(err, &se)
			g.logger.WarnContext(ctx, "upstream rejected request",
				slog.String("upstream", c.Service.Name),
				slog.Int("status", se.StatusCode),
				slog.String("error", err.Error()),
			)
			return nil, terminalError(se)
		}

		lastClass, lastErr = class, err
		g.logger.WarnContext(ctx, "upstream attempt failed",
			slog.String("upstream", c.Service.Name),
			slog.String("model", c.Model),
			slog.Int("attempt", i+1),
			slog.Int("candidates", len(p.candidates)),
			slog.String("error", err.Error()),
		)
	}
	return nil, exhaustedError(lastClass, lastErr)
}

// attempt sends the prepared request to one candidate and returns the reply
// in the client's format.
func (g *Gateway) attempt(ctx context.Context, p *prepared, c router.Candidate) ([]byte, error) {
	payload, err := p.payload(c)
	if err != nil {
		return nil, err
	}

	data, err := g.client.Complete(ctx, p.upstreamRequest(c, payload))
	if err != nil {
		return nil, err
	}

	resp, err := g.toOpenAI(data, c.Service.Type, p)
	if err != nil {
		return nil, domain.ErrConversion(err)
	}

	if p.inject {
		var calls []domain.ToolCall
		resp, calls, err = replaceToolCalls(resp, p.snap.Trigger)
		if err != nil {
			return nil, domain.ErrConversion(err)
		}
		g.recordCalls(ctx, calls)
	}

	resp, err = overlayResponseUsage(resp, p.promptTokens, g.counter.CountText(completionText(resp), p.model))
	if err != nil {
		return nil, domain.ErrConversion(err)
	}

	out, err := convert.Response(resp, domain.FormatOpenAI, p.format, p.convertOptions(p.model))
	if err != nil {
		return nil, domain.ErrConversion(err)
	}
	return out, nil
}

// toOpenAI returns an upstream response as an OpenAI response with the
// client-facing model name. OpenAI replies are patched in place so fields
// the gateway does not model survive.
func (g *Gateway) toOpenAI(data []byte, source domain.Format, p *prepared) ([]byte, error) {
	if source == domain.FormatOpenAI {
		if !gjson.GetBytes(data, "choices").IsArray() {
			return nil, errors.New("openai response without choices")
		}
		return sjson.SetBytes(data, "model", p.model)
	}
	hub, err := convert.ResponseToHub(data, source, p.convertOptions(p.model))
	if err != nil {
		return nil, err
	}
	return json.Marshal(hub)
}

// replaceToolCalls parses prompt-emulated tool calls out of the first
// choice's text. When any are found the text is cut at the trigger, the
// calls become native tool_calls and the finish reason becomes tool_calls.
func replaceToolCalls(resp []byte, trigger string) ([]byte, []domain.ToolCall, error) {
	text := messageText(gjson.GetBytes(resp, "choices.0.message.content"))
	calls := toolcall.Parse(text, trigger)
	if len(calls) == 0 {
		return resp, nil, nil
	}

	native := make([]openai.ToolCall, len(calls))
	for i := range calls {
		calls[i].ID = domain.NewID(domain.PrefixOpenAICall)
		native[i] = openai.ToolCall{
			ID:   calls[i].ID,
			Type: "function",
			Function: openai.FunctionCall{
				Name:      calls[i].Name,
				Arguments: string(calls[i].Args),
			},
		}
	}
	rawCalls, err := json.Marshal(native)
	if err != nil {
		return nil, nil, err
	}

	before, _, _ := toolcall.SplitAtTrigger(text, trigger)
	var content any
	if before = strings.TrimSpace(before); before != "" {
		content = before
	}

	if resp, err = sjson.SetBytes(resp, "choices.0.message.content", content); err != nil {
		return nil, nil, err
	}
	if resp, err = sjson.SetRawBytes(resp, "choices.0.message.tool_calls", rawCalls); err != nil {
		return nil, nil, err
	}
	if resp, err = sjson.SetBytes(resp, "choices.0.finish_reason", "tool_calls"); err != nil {
		return nil, nil, err
	}
	return resp, calls, nil
}

// messageText returns string content, or the joined text parts of array
// content.
func messageText(content gjson.Result) string {
	if !content.IsArray() {
		return content.String()
	}
	var sb strings.Builder
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			sb.WriteString(part.Get("text").String())
		}
		return true
	})
	return sb.String()
}

// completionText is the text a completion-token estimate is based on.
func completionText(resp []byte) string {
	msg := gjson.GetBytes(resp, "choices.0.message")
	var sb strings.Builder
	sb.WriteString(messageText(msg.Get("content")))
	msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		sb.WriteString(tc.Get("function.name").String())
		sb.WriteString(tc.Get("function.arguments").String())
		return true
	})
	return sb.String()
}
