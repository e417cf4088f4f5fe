package stream

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// Pipe copies an upstream SSE body to an Encoder.
type Pipe struct {
	Decoder Decoder
	// Transcoder is optional. When set, every event passes through it.
	Transcoder *Transcoder
	Encoder    Encoder
	Logger     *slog.Logger
}

// Result summarises a finished Pipe run.
type Result struct {
	// Output is the text and tool arguments sent to the client, used for
	// token estimation.
	Output string
	// Usage is the last usage object reported by the upstream, or nil.
	Usage json.RawMessage
	// ToolCalls are the calls the transcoder synthesised.
	ToolCalls []domain.ToolCall
	// Finished reports whether the upstream sent a finish reason.
	Finished bool
}

// Run reads the upstream body until it ends and encodes every event. It
// does not close the encoder: the caller finalises usage and calls Close, or
// Fail when Run returns an error. An error wrapping ErrClientGone means the
// client went away and nothing more can be written.
func (p *Pipe) Run(body io.Reader) (Result, error) {
	var (
		res    Result
		output strings.Builder
	)
	reader := NewSSEReader(body)

	forward := func(events []Event) error {
		for _, ev := range events {
			switch ev.Type {
			case EventText:
				output.WriteString(ev.Text)
			case EventToolCall:
				output.WriteString(ev.ToolCall.Name)
				output.WriteString(ev.ToolCall.Arguments)
			case EventFinish:
				res.Finished = true
			case EventError:
				return ev.Err
			}
			if err := p.Encoder.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	finish := func() Result {
		res.Output = output.String()
		if p.Transcoder != nil {
			res.ToolCalls = p.Transcoder.Calls()
		}
		return res
	}

	for {
		sev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return finish(), err
		}

		events, done := p.Decoder.Decode(sev)
		for _, ev := range events {
			if ev.Type == EventUsage {
				res.Usage = ev.Usage
			}
			out := []Event{ev}
			if p.Transcoder != nil {
				out = p.Transcoder.Push(ev)
			}
			if err := forward(out); err != nil {
				return finish(), err
			}
		}
		if done {
			break
		}
	}

	if p.Transcoder != nil {
		if err := forward(p.Transcoder.Finish()); err != nil {
			return finish(), err
		}
	}
	return finish(), nil
}
