// Package anthropic serves the Anthropic Messages front door.
package anthropic

import (
	"net/http"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/frontdoor"
)

type Handler struct {
	base *frontdoor.Handler
}

func NewHandler(base *frontdoor.Handler) *Handler {
	return &Handler{base: base}
}

// HandleMessages serves POST /v1/messages. Streaming follows the body's
// stream flag.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	h.base.Serve(w, r, frontdoor.Call{Format: domain.FormatAnthropic})
}

// Routes returns the handler's routes.
func (h *Handler) Routes() []frontdoor.Route {
	return []frontdoor.Route{
		{Method: http.MethodPost, Path: "/v1/messages", Handler: h.HandleMessages},
	}
}
