package frontdoor

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/auth"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/pkg/config"
)

// modelCreated is the fixed creation time reported for every model.
const modelCreated = 1677610602

// ModelOwner is reported as owned_by.
const ModelOwner = "toolgate"

type serviceStatus struct {
	Name                  string   `json:"name"`
	ServiceType           string   `json:"service_type"`
	BaseURL               string   `json:"base_url"`
	APIKey                string   `json:"api_key"`
	Priority              int      `json:"priority"`
	IsDefault             bool     `json:"is_default"`
	InjectFunctionCalling *bool    `json:"inject_function_calling"`
	Models                []string `json:"models"`
}

type featureStatus struct {
	EnableFunctionCalling    bool `json:"enable_function_calling"`
	ConvertDeveloperToSystem bool `json:"convert_developer_to_system"`
	KeyPassthrough           bool `json:"key_passthrough"`
	ModelPassthrough         bool `json:"model_passthrough"`
	CustomPromptTemplate     bool `json:"custom_prompt_template"`
}

type statusResponse struct {
	Status string `json:"status"`
	Config struct {
		UpstreamServices []serviceStatus `json:"upstream_services"`
		ClientKeys       int             `json:"client_keys"`
		Models           []string        `json:"models"`
		Features         featureStatus   `json:"features"`
	} `json:"config"`
}

// StatusHandler reports that the gateway is up and summarises its
// configuration. Keys are masked.
func StatusHandler(store *config.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := store.Load()
		cfg := snap.Config

		var resp statusResponse
		resp.Status = "toolgate is running"
		for _, svc := range cfg.UpstreamServices {
			resp.Config.UpstreamServices = append(resp.Config.UpstreamServices, serviceStatus{
				Name:                  svc.Name,
				ServiceType:           svc.ServiceType,
				BaseURL:               svc.BaseURL,
				APIKey:                config.MaskKey(svc.APIKey),
				Priority:              svc.Priority,
				IsDefault:             svc.IsDefault,
				InjectFunctionCalling: svc.InjectFunctionCalling,
				Models:                svc.Models,
			})
		}
		resp.Config.ClientKeys = len(cfg.ClientAuthentication.AllowedKeys)
		resp.Config.Models = snap.Routes.VisibleModels()
		resp.Config.Features = featureStatus{
			EnableFunctionCalling:    cfg.Features.EnableFunctionCalling,
			ConvertDeveloperToSystem: cfg.Features.ConvertDeveloperToSystem,
			KeyPassthrough:           cfg.Features.KeyPassthrough,
			ModelPassthrough:         cfg.Features.ModelPassthrough,
			CustomPromptTemplate:     cfg.Features.PromptTemplate != "",
		}
		writeJSON(w, resp)
	}
}

// Models lists the client-visible models in OpenAI's format. It requires
// the same key as the chat endpoints.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Load()
	if _, err := auth.Authenticate(r, domain.FormatOpenAI, snap.Config.ClientAuthentication.AllowedKeys, snap.Config.Features.KeyPassthrough); err != nil {
		h.fail(w, r, err, domain.FormatOpenAI)
		return
	}

	models := snap.Routes.VisibleModels()
	list := openai.ModelList{Object: "list", Data: make([]openai.Model, 0, len(models))}
	for _, id := range models {
		list.Data = append(list.Data, openai.Model{
			ID:      id,
			Object:  "model",
			Created: modelCreated,
			OwnedBy: ModelOwner,
		})
	}
	writeJSON(w, list)
}

// Routes returns the shared routes.
func (h *Handler) Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Path: "/", Handler: StatusHandler(h.store)},
		{Method: http.MethodGet, Path: "/v1/models", Handler: h.Models},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
