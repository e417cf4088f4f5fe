package convert

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
)

// dataURL builds a data: URL from a media type and base64 payload.
func dataURL(mediaType, data string) string {
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + data
}

// parseDataURL splits a base64 data: URL.
func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mediaType, payload, true
}

// toolChoiceKind normalises an OpenAI tool_choice into "auto", "none",
// "required" or "function" plus the function name.
func toolChoiceKind(raw json.RawMessage) (kind, name string) {
	if len(raw) == 0 {
		return "", ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, ""
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Function.Name != "" {
		return "function", obj.Function.Name
	}
	return "", ""
}

func functionToolChoice(name string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"type":     "function",
		"function": map[string]string{"name": name},
	})
	return raw
}

func stringToolChoice(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

// toolCallNames indexes assistant tool calls by id so tool results can be
// attributed to a function name.
func toolCallNames(messages []openai.Message) map[string]string {
	names := make(map[string]string)
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			names[tc.ID] = tc.Function.Name
		}
	}
	return names
}

// objectOrEmpty returns raw when it holds a JSON object, else {}.
func objectOrEmpty(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage("{}")
}
