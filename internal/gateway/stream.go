package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/stream"
)

// Stream runs a streaming request against the first candidate only and
// writes the reply to w as server-sent events in the client's format.
//
// An error returned by Stream means nothing was written and the caller
// should send an ordinary error response. Once the first byte is out,
// failures are reported inside the stream and Stream returns nil.
func (g *Gateway) Stream(ctx context.Context, req Request, w http.ResponseWriter) error {
	p, err := g.prepare(ctx, req)
	if err != nil {
		return err
	}
	p.stream = true
	c := p.candidates[0]

	payload, err := p.payload(c)
	if err != nil {
		return err
	}

	body, err := g.client.Stream(ctx, p.upstreamRequest(c, payload))
	if err != nil {
		g.logger.WarnContext(ctx, "upstream stream failed",
			slog.String("upstream", c.Service.Name),
			slog.String("error", err.Error()),
		)
		return upstreamError(err)
	}
	defer body.Close()

	stream.SetHeaders(w)
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(p.format, w, stream.Meta{Model: p.model}, g.logger)
	pipe := &stream.Pipe{
		Decoder: stream.NewDecoder(c.Service.Type, g.logger),
		Encoder: enc,
		Logger:  g.logger,
	}
	if p.inject {
		pipe.Transcoder = stream.NewTranscoder(p.snap.Trigger)
	}

	res, err := pipe.Run(body)
	g.recordCalls(ctx, res.ToolCalls)

	if err != nil {
		if errors.Is(err, stream.ErrClientGone) || ctx.Err() != nil {
			g.logger.InfoContext(ctx, "client disconnected during stream",
				slog.String("upstream", c.Service.Name),
			)
			return nil
		}
		g.logger.ErrorContext(ctx, "stream failed",
			slog.String("upstream", c.Service.Name),
			slog.String("error", err.Error()),
		)
		if ferr := enc.Fail(streamError(err)); ferr != nil {
			g.logger.DebugContext(ctx, "failed to report stream error", slog.String("error", ferr.Error()))
		}
		return nil
	}

	usage := overlayUsage(res.Usage, p.promptTokens, g.counter.CountText(res.Output, p.model))
	if !g.emitUsage(p, res.Usage) {
		usage = nil
	}
	if err := enc.Close(usage); err != nil && !errors.Is(err, stream.ErrClientGone) {
		g.logger.WarnContext(ctx, "failed to close stream", slog.String("error", err.Error()))
	}
	return nil
}

// emitUsage reports whether the client gets a usage record. Anthropic and
// Gemini streams always carry one; OpenAI clients get it when they asked or
// the upstream reported it.
func (g *Gateway) emitUsage(p *prepared, reported json.RawMessage) bool {
	if p.format != domain.FormatOpenAI {
		return true
	}
	return p.includeUsage || len(reported) > 0
}

// streamError is the client-visible form of a mid-stream failure.
func streamError(err error) *domain.APIError {
	var ue *stream.UpstreamError
	if errors.As(err, &ue) {
		return domain.NewAPIError(domain.ErrorTypeUpstream, "Upstream stream error").
			WithCode(domain.ErrorCodeUpstreamError).
			WithCause(err)
	}
	return domain.ErrServer(err)
}
