package convert

import (
	"github.com/tjfontaine/toolcall-gateway/internal/api/anthropic"
	"github.com/tjfontaine/toolcall-gateway/internal/api/gemini"
	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
)

// UsageFromAnthropic converts Anthropic usage; the total is the sum.
func UsageFromAnthropic(u anthropic.MessagesUsage) *openai.Usage {
	return &openai.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

// UsageToAnthropic converts OpenAI usage to Anthropic usage.
func UsageToAnthropic(u *openai.Usage) anthropic.MessagesUsage {
	if u == nil {
		return anthropic.MessagesUsage{}
	}
	return anthropic.MessagesUsage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

// UsageFromGemini converts Gemini usage metadata. A missing total is computed.
func UsageFromGemini(u *gemini.UsageMetadata) *openai.Usage {
	if u == nil {
		return nil
	}
	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}
	return &openai.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      total,
	}
}

// UsageToGemini converts OpenAI usage to Gemini usage metadata.
func UsageToGemini(u *openai.Usage) *gemini.UsageMetadata {
	if u == nil {
		return nil
	}
	return &gemini.UsageMetadata{
		PromptTokenCount:     u.PromptTokens,
		CandidatesTokenCount: u.CompletionTokens,
		TotalTokenCount:      u.TotalTokens,
	}
}
