// Package upstream sends converted requests to upstream providers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/router"
)

const defaultTimeout = 180 * time.Second

// maxErrorBody bounds how much of an error reply is kept.
const maxErrorBody = 64 * 1024

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout bounds each non-streaming call. For streams it bounds the wait
// for response headers and then every gap between reads.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent sent upstream.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client calls upstream services of every type over one shared connection
// pool.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	userAgent  string
}

// NewClient creates a client. The default transport is traced with otelhttp.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     slog.Default(),
		timeout:    defaultTimeout,
		userAgent:  "toolcall-gateway",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is one call to an upstream.
type Request struct {
	Service *router.Service
	// Model is the upstream model name; Gemini puts it in the URL.
	Model string
	// Body is the payload already converted to the service's format.
	Body   []byte
	Stream bool
	// APIKey replaces the service key when set.
	APIKey string
}

func (r Request) key() string {
	if r.APIKey != "" {
		return r.APIKey
	}
	return r.Service.APIKey
}

// Complete performs a non-streaming call and returns the decoded body. A
// non-200 reply is a *StatusError; a failed call, an empty body or a body
// that is not JSON is a *TransportError.
func (c *Client) Complete(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &TransportError{Service: req.Service.Name, Kind: KindConnection, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &TransportError{Service: req.Service.Name, Kind: KindEmptyBody}
	}
	if !json.Valid(data) {
		return nil, &TransportError{Service: req.Service.Name, Kind: KindInvalidBody, Err: errors.New("response is not JSON")}
	}
	return data, nil
}

// Stream performs a streaming call and returns the open event stream. The
// caller must close it; cancelling ctx aborts the upstream connection. The
// stream is aborted when no data arrives for the client timeout, however long
// it runs in total.
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	req.Stream = true
	ctx, cancel := context.WithCancel(ctx)
	idle := time.AfterFunc(c.timeout, cancel)

	body, err := c.do(ctx, req)
	if err != nil {
		idle.Stop()
		cancel()
		return nil, err
	}
	return &idleBody{ReadCloser: body, cancel: cancel, timer: idle, timeout: c.timeout}, nil
}

func (c *Client) do(ctx context.Context, req Request) (io.ReadCloser, error) {
	svc := req.Service
	key := req.key()

	target, err := BuildURL(svc, req.Model, req.Stream, key)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, svc.Type, key, req.Stream)

	start := time.Now()
	c.logger.Debug("upstream request",
		slog.String("upstream", svc.Name),
		slog.String("url", redact(target)),
		slog.Bool("stream", req.Stream),
		slog.Int("bytes", len(req.Body)),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Service: svc.Name, Kind: KindConnection, Err: err}
	}

	c.logger.Debug("upstream response",
		slog.String("upstream", svc.Name),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	body, err := decodedBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &TransportError{Service: svc.Name, Kind: KindInvalidBody, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer body.Close()
		data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		return nil, &StatusError{Service: svc.Name, StatusCode: resp.StatusCode, Body: data}
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, format domain.Format, key string, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Accept-Encoding", "identity")
	} else {
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	switch format {
	case domain.FormatOpenAI:
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	case domain.FormatAnthropic:
		if key != "" {
			req.Header.Set("x-api-key", key)
		}
		req.Header.Set("anthropic-version", AnthropicVersion)
	}
}

// idleBody cancels the request when reads stall for longer than timeout.
type idleBody struct {
	io.ReadCloser
	cancel  context.CancelFunc
	timer   *time.Timer
	timeout time.Duration
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
