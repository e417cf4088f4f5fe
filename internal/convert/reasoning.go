package convert

import "strings"

// ReasoningBudget maps OpenAI reasoning_effort levels to the thinking token
// budgets used by Anthropic and Gemini.
type ReasoningBudget struct {
	Low    int `koanf:"low"`
	Medium int `koanf:"medium"`
	High   int `koanf:"high"`
}

// DefaultReasoningBudget is used when no budget is configured.
var DefaultReasoningBudget = ReasoningBudget{Low: 2048, Medium: 8192, High: 16384}

func (b ReasoningBudget) orDefault() ReasoningBudget {
	if b.Low == 0 && b.Medium == 0 && b.High == 0 {
		return DefaultReasoningBudget
	}
	return b
}

// Tokens returns the budget for an effort level. Unknown levels get medium.
func (b ReasoningBudget) Tokens(effort string) int {
	b = b.orDefault()
	switch strings.ToLower(effort) {
	case "low", "minimal":
		return b.Low
	case "high":
		return b.High
	default:
		return b.Medium
	}
}

// Effort returns the level for a token budget: at or below Low is "low", at
// or above High is "high", anything between is "medium".
func (b ReasoningBudget) Effort(tokens int) string {
	b = b.orDefault()
	switch {
	case tokens <= b.Low:
		return "low"
	case tokens >= b.High:
		return "high"
	default:
		return "medium"
	}
}
