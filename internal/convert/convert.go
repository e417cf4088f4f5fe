// Package convert translates chat-completion requests and non-streaming
// responses between the OpenAI, Anthropic and Gemini wire formats.
//
// Every pair goes through the OpenAI shape: a request is first decoded into
// an openai.ChatCompletionRequest and then encoded for the target. Converting
// a payload to its own format returns it untouched.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// ErrNoCandidates is returned for a Gemini response without candidates.
var ErrNoCandidates = errors.New("no candidates in Gemini response")

// DefaultAnthropicMaxTokens is used when a request converted to Anthropic
// does not carry a token limit, since the Messages API requires one.
const DefaultAnthropicMaxTokens = 4096

// Options carries context that is not present in the payload itself.
type Options struct {
	// Model names the model for formats that carry it outside the body
	// (Gemini requests) and overrides the model reported in responses.
	Model string

	// Reasoning maps reasoning effort levels to thinking budgets.
	Reasoning ReasoningBudget

	// now is replaced in tests.
	now func() time.Time
}

func (o Options) timestamp() int64 {
	if o.now != nil {
		return o.now().Unix()
	}
	return time.Now().Unix()
}

// Request converts a request body from source to target format.
func Request(data []byte, source, target domain.Format, opts Options) ([]byte, error) {
	if source == target {
		return data, nil
	}
	hub, err := RequestToHub(data, source, opts)
	if err != nil {
		return nil, err
	}
	return RequestFromHub(hub, target, opts)
}

// RequestToHub decodes a request of any format into the OpenAI shape.
func RequestToHub(data []byte, source domain.Format, opts Options) (*openai.ChatCompletionRequest, error) {
	switch source {
	case domain.FormatOpenAI:
		var req openai.ChatCompletionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode openai request: %w", err)
		}
		return &req, nil
	case domain.FormatAnthropic:
		return anthropicRequestToHub(data, opts)
	case domain.FormatGemini:
		return geminiRequestToHub(data, opts)
	}
	return nil, fmt.Errorf("unsupported source format %q", source)
}

// RequestFromHub encodes an OpenAI-shaped request in the target format.
func RequestFromHub(req *openai.ChatCompletionRequest, target domain.Format, opts Options) ([]byte, error) {
	switch target {
	case domain.FormatOpenAI:
		return json.Marshal(req)
	case domain.FormatAnthropic:
		return json.Marshal(hubToAnthropicRequest(req, opts))
	case domain.FormatGemini:
		return json.Marshal(hubToGeminiRequest(req, opts))
	}
	return nil, fmt.Errorf("unsupported target format %q", target)
}

// Response converts a non-streaming response body from source to target format.
func Response(data []byte, source, target domain.Format, opts Options) ([]byte, error) {
	if source == target {
		return data, nil
	}
	hub, err := ResponseToHub(data, source, opts)
	if err != nil {
		return nil, err
	}
	return ResponseFromHub(hub, target, opts)
}

// ResponseToHub decodes a response of any format into the OpenAI shape.
func ResponseToHub(data []byte, source domain.Format, opts Options) (*openai.ChatCompletionResponse, error) {
	switch source {
	case domain.FormatOpenAI:
		var resp openai.ChatCompletionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode openai response: %w", err)
		}
		return &resp, nil
	case domain.FormatAnthropic:
		return anthropicResponseToHub(data, opts)
	case domain.FormatGemini:
		return geminiResponseToHub(data, opts)
	}
	return nil, fmt.Errorf("unsupported source format %q", source)
}

// ResponseFromHub encodes an OpenAI-shaped response in the target format.
func ResponseFromHub(resp *openai.ChatCompletionResponse, target domain.Format, opts Options) ([]byte, error) {
	switch target {
	case domain.FormatOpenAI:
		return json.Marshal(resp)
	case domain.FormatAnthropic:
		return json.Marshal(hubToAnthropicResponse(resp, opts))
	case domain.FormatGemini:
		return json.Marshal(hubToGeminiResponse(resp, opts))
	}
	return nil, fmt.Errorf("unsupported target format %q", target)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func maxTokens(req *openai.ChatCompletionRequest) *int {
	if req.MaxTokens != nil {
		return req.MaxTokens
	}
	return req.MaxCompletionTokens
}
