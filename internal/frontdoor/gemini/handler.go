// Package gemini serves the Gemini generateContent front door.
package gemini

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/frontdoor"
)

const (
	methodGenerate = "generateContent"
	methodStream   = "streamGenerateContent"
)

type Handler struct {
	base *frontdoor.Handler
}

func NewHandler(base *frontdoor.Handler) *Handler {
	return &Handler{base: base}
}

// HandleGenerate serves POST /{version}/models/{model}:{method}. The model
// and the streaming mode come from the path; alt=sse also selects
// streaming when the method suffix is absent.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	model, stream := parseModelPath(chi.URLParam(r, "model"), r.URL.Query().Get("alt"))
	h.base.Serve(w, r, frontdoor.Call{Format: domain.FormatGemini, Model: model, Stream: stream})
}

// parseModelPath splits "gemini-2.0-flash:streamGenerateContent" into the
// model and the streaming mode.
func parseModelPath(path, alt string) (model string, stream bool) {
	model = strings.TrimPrefix(path, "models/")
	if i := strings.LastIndex(model, ":"); i >= 0 {
		name, method := model[:i], model[i+1:]
		switch method {
		case methodStream:
			return name, true
		case methodGenerate:
			return name, alt == "sse"
		}
	}
	return model, alt == "sse"
}

// Routes returns the handler's routes.
func (h *Handler) Routes() []frontdoor.Route {
	return []frontdoor.Route{
		{Method: http.MethodPost, Path: "/v1beta/models/{model}", Handler: h.HandleGenerate},
		{Method: http.MethodPost, Path: "/v1/models/{model}", Handler: h.HandleGenerate},
	}
}
