// Package openai serves the OpenAI chat-completions front door.
package openai

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

// HandleChatCompletion serves POST /v1/chat/completions.
func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	h.base.Serve(w, r, frontdoor.Call{Format: domain.FormatOpenAI})
}

// Routes returns the handler's routes.
func (h *Handler) Routes() []frontdoor.Route {
	return []frontdoor.Route{
		{Method: http.MethodPost, Path: "/v1/chat/completions", Handler: h.HandleChatCompletion},
	}
}
