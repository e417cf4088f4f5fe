// Package gateway orchestrates one client request: it resolves upstream
// candidates, emulates function calling where needed, dispatches with
// failover and converts the reply back to the client's format.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/convert"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/pkg/config"
	"github.com/tjfontaine/toolcall-gateway/internal/router"
	"github.com/tjfontaine/toolcall-gateway/internal/storage"
	"github.com/tjfontaine/toolcall-gateway/internal/tokens"
	"github.com/tjfontaine/toolcall-gateway/internal/toolcall"
	"github.com/tjfontaine/toolcall-gateway/internal/upstream"
)

// recordTimeout bounds a side-table write.
const recordTimeout = 5 * time.Second

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithToolCallStore sets the side table synthesised tool calls are recorded
// in and tool names are recovered from.
func WithToolCallStore(s storage.ToolCallStore) Option {
	return func(g *Gateway) {
		g.calls = s
	}
}

// WithCounter sets the token counter used for usage estimates.
func WithCounter(c *tokens.Counter) Option {
	return func(g *Gateway) {
		g.counter = c
	}
}

// Gateway is the request orchestrator. It is safe for concurrent use.
type Gateway struct {
	store   *config.Store
	client  *upstream.Client
	counter *tokens.Counter
	calls   storage.ToolCallStore
	logger  *slog.Logger
}

// New creates a Gateway reading configuration from store.
func New(store *config.Store, client *upstream.Client, opts ...Option) *Gateway {
	g := &Gateway{
		store:  store,
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.counter == nil {
		g.counter = tokens.NewCounter(g.logger)
	}
	return g
}

// Request is one client call in the client's wire format.
type Request struct {
	Format domain.Format
	Body   []byte
	// Model overrides the body's model; Gemini carries it in the path.
	Model string
	// Stream forces streaming; Gemini selects it by path.
	Stream bool
	// APIKey is the client's key, forwarded upstream under key passthrough.
	APIKey string
}

// prepared is a request made ready for dispatch. The same prepared payload is
// used for every candidate.
type prepared struct {
	snap         *config.Snapshot
	format       domain.Format
	model        string
	candidates   []router.Candidate
	hub          *openai.ChatCompletionRequest
	inject       bool
	stream       bool
	includeUsage bool
	promptTokens int
	apiKey       string
}

func (p *prepared) convertOptions(model string) convert.Options {
	return convert.Options{Model: model, Reasoning: p.snap.Config.Reasoning}
}

// IsStream reports whether the request asks for a streamed reply.
func IsStream(req Request) bool {
	return req.Stream || gjson.GetBytes(req.Body, "stream").Bool()
}

func (g *Gateway) prepare(ctx context.Context, req Request) (*prepared, error) {
	snap := g.store.Load()
	if snap == nil {
		return nil, domain.ErrServer(errors.New("configuration not loaded"))
	}
	features := snap.Config.Features

	if !gjson.ValidBytes(req.Body) {
		return nil, domain.ErrInvalidRequest("Invalid JSON payload")
	}
	hub, err := convert.RequestToHub(req.Body, req.Format, convert.Options{Model: req.Model, Reasoning: snap.Config.Reasoning})
	if err != nil {
		return nil, domain.ErrInvalidRequest("Invalid request body").WithCause(err)
	}

	model := req.Model
	if model == "" {
		model = hub.Model
	}
	if model == "" {
		return nil, domain.ErrInvalidRequest("model is required").WithParam("model")
	}

	res := snap.Routes.Resolve(model, features.ModelPassthrough)
	if len(res.Candidates) == 0 {
		return nil, domain.NewAPIError(domain.ErrorTypeUpstream, "No upstream service available").
			WithCode(domain.ErrorCodeAllUpstreamsFailed)
	}

	if !features.EnableFunctionCalling {
		hub.Tools = nil
		hub.ToolChoice = nil
	}
	inject := len(hub.Tools) > 0 && snap.InjectFor(res.Candidates[0].Service)

	for _, problem := range toolcall.ValidateHistory(hub.Messages) {
		g.logger.WarnContext(ctx, "message history", slog.String("problem", problem))
	}

	messages := toolcall.Preprocess(ctx, hub.Messages, toolcall.PreprocessOptions{
		Trigger:           snap.Trigger,
		Inject:            inject,
		DeveloperToSystem: features.ConvertDeveloperToSystem,
		Resolve:           g.resolveName,
	})
	if inject {
		prompt := toolcall.BuildPrompt(toolcall.ToolsFromOpenAI(hub.Tools), snap.Trigger, features.PromptTemplate)
		prompt += toolcall.ChoiceInstruction(hub.ToolChoice)
		messages = toolcall.Inject(messages, prompt)
		hub.Tools = nil
		hub.ToolChoice = nil
	}
	hub.Messages = messages

	p := &prepared{
		snap:         snap,
		format:       req.Format,
		model:        model,
		candidates:   res.Candidates,
		hub:          hub,
		inject:       inject,
		stream:       req.Stream || hub.Stream,
		includeUsage: hub.StreamOptions != nil && hub.StreamOptions.IncludeUsage,
		promptTokens: g.counter.CountMessages(messages, model),
	}
	if features.KeyPassthrough {
		p.apiKey = req.APIKey
	}

	g.logger.DebugContext(ctx, "request prepared",
		slog.String("model", model),
		slog.String("resolution", string(res.Step)),
		slog.Int("candidates", len(res.Candidates)),
		slog.Bool("inject", inject),
		slog.Bool("stream", p.stream),
	)
	return p, nil
}

// payload builds the upstream body for one candidate.
func (p *prepared) payload(c router.Candidate) ([]byte, error) {
	out := *p.hub
	out.Model = c.Model
	out.Stream = p.stream
	if !p.stream || c.Service.Type != domain.FormatOpenAI {
		out.StreamOptions = nil
	}
	body, err := convert.RequestFromHub(&out, c.Service.Type, p.convertOptions(c.Model))
	if err != nil {
		return nil, domain.ErrConversion(err)
	}
	return body, nil
}

func (p *prepared) upstreamRequest(c router.Candidate, body []byte) upstream.Request {
	return upstream.Request{
		Service: c.Service,
		Model:   c.Model,
		Body:    body,
		Stream:  p.stream,
		APIKey:  p.apiKey,
	}
}

func (g *Gateway) resolveName(ctx context.Context, id string) (string, bool) {
	if g.calls == nil || id == "" {
		return "", false
	}
	rec, err := g.calls.Lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.logger.WarnContext(ctx, "tool call lookup failed",
				slog.String("tool_call_id", id),
				slog.String("error", err.Error()),
			)
		}
		return "", false
	}
	return rec.Name, true
}

// recordCalls writes calls to the side table without blocking the request.
func (g *Gateway) recordCalls(ctx context.Context, calls []domain.ToolCall) {
	if g.calls == nil || len(calls) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, recordTimeout)
		defer cancel()
		now := time.Now()
		for _, call := range calls {
			rec := storage.ToolCallRecord{
				ID:          call.ID,
				Name:        call.Name,
				Args:        call.Args,
				Description: "Calling tool " + call.Name,
				CreatedAt:   now,
			}
			if err := g.calls.Store(ctx, rec); err != nil {
				g.logger.WarnContext(ctx, "failed to record tool call",
					slog.String("tool_call_id", call.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}
