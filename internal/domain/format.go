package domain

import "fmt"

// Format identifies one of the chat-completion wire protocols. The set is
// closed; every switch over Format is expected to be exhaustive.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
	FormatGemini    Format = "gemini"
)

// Formats lists every supported format in a stable order.
var Formats = []Format{FormatOpenAI, FormatAnthropic, FormatGemini}

// ParseFormat validates a service type or format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatOpenAI, FormatAnthropic, FormatGemini:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

func (f Format) String() string { return string(f) }
