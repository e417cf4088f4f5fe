package convert

import "github.com/tjfontaine/toolcall-gateway/internal/domain"

type stopKind int

const (
	stopNormal stopKind = iota
	stopLength
	stopToolCalls
	stopFiltered
)

// Reasons each format reports, mapped to the shared kinds. Anything not
// listed is treated as a normal stop.
var stopKinds = map[domain.Format]map[string]stopKind{
	domain.FormatOpenAI: {
		"stop":           stopNormal,
		"length":         stopLength,
		"tool_calls":     stopToolCalls,
		"function_call":  stopToolCalls,
		"content_filter": stopFiltered,
	},
	domain.FormatAnthropic: {
		"end_turn":      stopNormal,
		"stop_sequence": stopNormal,
		"pause_turn":    stopNormal,
		"max_tokens":    stopLength,
		"tool_use":      stopToolCalls,
		"refusal":       stopFiltered,
	},
	domain.FormatGemini: {
		"STOP":               stopNormal,
		"MAX_TOKENS":         stopLength,
		"SAFETY":             stopFiltered,
		"RECITATION":         stopFiltered,
		"BLOCKLIST":          stopFiltered,
		"PROHIBITED_CONTENT": stopFiltered,
		"SPII":               stopFiltered,
	},
}

// Reason each format reports for a kind. Anthropic has no filter reason and
// Gemini has no tool-call reason, so both fall back to their normal stop.
var stopReasons = map[domain.Format][4]string{
	domain.FormatOpenAI:    {stopNormal: "stop", stopLength: "length", stopToolCalls: "tool_calls", stopFiltered: "content_filter"},
	domain.FormatAnthropic: {stopNormal: "end_turn", stopLength: "max_tokens", stopToolCalls: "tool_use", stopFiltered: "end_turn"},
	domain.FormatGemini:    {stopNormal: "STOP", stopLength: "MAX_TOKENS", stopToolCalls: "STOP", stopFiltered: "SAFETY"},
}

// FinishReason maps a stop reason reported in source format to target format.
func FinishReason(reason string, source, target domain.Format) string {
	kind := stopKinds[source][reason] // unknown reasons are a normal stop
	return stopReasons[target][kind]
}
