package tokens

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// encodingFor maps a model name to its tiktoken encoding.
//
// Encoding reference:
//   - O200kBase: GPT-5, GPT-4.1, GPT-4o, o-series, and every non-OpenAI model
//   - Cl100kBase: GPT-4, GPT-3.5-turbo, text-embedding-ada-002
//   - P50kBase: text-davinci-003, text-davinci-002
//   - R50kBase: davinci, curie, babbage, ada
//
// Anthropic and Gemini models have no public tokenizer; o200k_base is the
// closest approximation available offline.
func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	// Alias-prefixed names ("smart:gpt-4o") count with the upstream model.
	if _, upstream, ok := strings.Cut(model, ":"); ok {
		model = upstream
	}

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-41"),
		strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase

	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase

	case strings.HasPrefix(model, "text-davinci"):
		return tokenizer.P50kBase
	case model == "davinci" || model == "curie" || model == "babbage" || model == "ada":
		return tokenizer.R50kBase

	default:
		return tokenizer.O200kBase
	}
}
