// Package frontdoor holds the client-facing HTTP handlers shared by every
// protocol, and the request flow the protocol handlers delegate to.
package frontdoor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/toolcall-gateway/internal/auth"
	"github.com/tjfontaine/toolcall-gateway/internal/codec"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/gateway"
	"github.com/tjfontaine/toolcall-gateway/internal/pkg/config"
	"github.com/tjfontaine/toolcall-gateway/internal/server"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 32 << 20

// Dispatcher runs requests. *gateway.Gateway implements it.
type Dispatcher interface {
	Complete(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	Stream(ctx context.Context, req gateway.Request, w http.ResponseWriter) error
}

// Route is one handler registration.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Handler authenticates client requests and hands them to the Dispatcher.
type Handler struct {
	dispatcher Dispatcher
	store      *config.Store
	logger     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(dispatcher Dispatcher, store *config.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dispatcher: dispatcher, store: store, logger: logger}
}

// Call describes what the protocol handler learned from the route.
type Call struct {
	Format domain.Format
	// Model is set when the path carries it.
	Model string
	// Stream is set when the path selects streaming.
	Stream bool
}

// Serve runs one chat request end to end and writes the reply in the
// client's format.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, call Call) {
	ctx := r.Context()
	server.AddLogField(ctx, "frontdoor", string(call.Format))

	snap := h.store.Load()
	key, err := auth.Authenticate(r, call.Format, snap.Config.ClientAuthentication.AllowedKeys, snap.Config.Features.KeyPassthrough)
	if err != nil {
		h.fail(w, r, err, call.Format)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, domain.ErrInvalidRequest("Request body too large").WithStatusCode(http.StatusRequestEntityTooLarge), call.Format)
			return
		}
		h.fail(w, r, domain.ErrInvalidRequest("Failed to read request body").WithCause(err), call.Format)
		return
	}

	req := gateway.Request{
		Format: call.Format,
		Body:   body,
		Model:  call.Model,
		Stream: call.Stream,
		APIKey: key,
	}

	if gateway.IsStream(req) {
		server.AddLogField(ctx, "stream", "true")
		if err := h.dispatcher.Stream(ctx, req, w); err != nil {
			h.fail(w, r, err, call.Format)
		}
		return
	}

	res, err := h.dispatcher.Complete(ctx, req)
	if err != nil {
		h.fail(w, r, err, call.Format)
		return
	}
	server.AddLogField(ctx, "upstream", res.Upstream)
	server.AddLogField(ctx, "model", res.Model)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(res.Body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, format domain.Format) {
	apiErr := codec.ToCanonicalError(err)
	server.AddError(r.Context(), err)
	if apiErr.HTTPStatusCode() >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", server.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
	codec.WriteError(w, apiErr, format)
}
