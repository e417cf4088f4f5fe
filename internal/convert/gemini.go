package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/api/gemini"
	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

func geminiRequestToHub(data []byte, opts Options) (*openai.ChatCompletionRequest, error) {
	var in gemini.GenerateContentRequest
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode gemini request: %w", err)
	}

	out := &openai.ChatCompletionRequest{Model: opts.Model}

	if in.SystemInstruction != nil {
		var texts []string
		for _, p := range in.SystemInstruction.Parts {
			if p.Text != nil {
				texts = append(texts, *p.Text)
			}
		}
		if len(texts) > 0 {
			out.Messages = append(out.Messages, openai.Message{
				Role:    "system",
				Content: openai.TextContent(strings.Join(texts, "\n")),
			})
		}
	}

	for _, c := range in.Contents {
		out.Messages = append(out.Messages, geminiContentToHub(c)...)
	}

	if gc := in.GenerationConfig; gc != nil {
		out.MaxTokens = gc.MaxOutputTokens
		out.Temperature = gc.Temperature
		out.TopP = gc.TopP
		out.Stop = gc.StopSequences
		if gc.ThinkingConfig != nil && gc.ThinkingConfig.ThinkingBudget != nil && *gc.ThinkingConfig.ThinkingBudget > 0 {
			out.ReasoningEffort = opts.Reasoning.Effort(*gc.ThinkingConfig.ThinkingBudget)
		}
	}

	for _, t := range in.Tools {
		for _, fd := range t.FunctionDeclarations {
			out.Tools = append(out.Tools, openai.Tool{
				Type: "function",
				Function: openai.FunctionTool{
					Name:        fd.Name,
					Description: fd.Description,
					Parameters:  fd.Parameters,
				},
			})
		}
	}

	if in.ToolConfig != nil && in.ToolConfig.FunctionCallingConfig != nil {
		fc := in.ToolConfig.FunctionCallingConfig
		switch fc.Mode {
		case "AUTO":
			out.ToolChoice = stringToolChoice("auto")
		case "NONE":
			out.ToolChoice = stringToolChoice("none")
		case "ANY":
			if len(fc.AllowedFunctionNames) == 1 {
				out.ToolChoice = functionToolChoice(fc.AllowedFunctionNames[0])
			} else {
				out.ToolChoice = stringToolChoice("required")
			}
		}
	}

	return out, nil
}

// geminiContentToHub converts one Gemini turn. Function responses become
// tool messages whose tool_call_id is the call id, or the function name when
// the call carried no id; function calls get the same ids so both sides of
// a call agree.
func geminiContentToHub(c gemini.Content) []openai.Message {
	role := "user"
	if c.Role == "model" {
		role = "assistant"
	}

	var (
		out       []openai.Message
		parts     []openai.ContentPart
		texts     []string
		toolCalls []openai.ToolCall
		hasImage  bool
	)
	for _, p := range c.Parts {
		switch {
		case p.Thought:
		case p.Text != nil:
			parts = append(parts, openai.ContentPart{Type: "text", Text: *p.Text})
			texts = append(texts, *p.Text)
		case p.InlineData != nil:
			parts = append(parts, openai.ContentPart{
				Type:     "image_url",
				ImageURL: &openai.ImageURL{URL: dataURL(p.InlineData.MimeType, p.InlineData.Data)},
			})
			hasImage = true
		case p.FunctionCall != nil:
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   firstNonEmpty(p.FunctionCall.ID, p.FunctionCall.Name),
				Type: "function",
				Function: openai.FunctionCall{
					Name:      p.FunctionCall.Name,
					Arguments: openai.CompactArguments(p.FunctionCall.Args),
				},
			})
		case p.FunctionResponse != nil:
			out = append(out, openai.Message{
				Role:       "tool",
				ToolCallID: firstNonEmpty(p.FunctionResponse.ID, p.FunctionResponse.Name),
				Content:    openai.TextContent(openai.CompactArguments(p.FunctionResponse.Response)),
			})
		}
	}

	switch {
	case role == "assistant":
		if len(texts) == 0 && len(toolCalls) == 0 {
			return out
		}
		m := openai.Message{Role: "assistant", ToolCalls: toolCalls}
		if len(texts) > 0 || len(toolCalls) == 0 {
			m.Content = openai.TextContent(strings.Join(texts, "\n"))
		}
		out = append(out, m)
	case len(parts) == 0:
	case hasImage:
		out = append(out, openai.Message{Role: role, Content: &openai.Content{Parts: parts}})
	default:
		out = append(out, openai.Message{Role: role, Content: openai.TextContent(strings.Join(texts, "\n"))})
	}
	return out
}

func hubToGeminiRequest(in *openai.ChatCompletionRequest, opts Options) *gemini.GenerateContentRequest {
	out := &gemini.GenerateContentRequest{Contents: []gemini.Content{}}
	names := toolCallNames(in.Messages)

	var system []gemini.Part
	for _, msg := range in.Messages {
		switch msg.Role {
		case "system", "developer":
			system = append(system, gemini.TextPart(msg.Content.String()))
		case "tool":
			part := gemini.Part{FunctionResponse: &gemini.FunctionResponse{
				Name:     firstNonEmpty(names[msg.ToolCallID], msg.ToolCallID),
				Response: toolResponseObject(msg.Content.String()),
			}}
			// Consecutive tool results share one user turn.
			if n := len(out.Contents); n > 0 && isFunctionResponseTurn(out.Contents[n-1]) {
				out.Contents[n-1].Parts = append(out.Contents[n-1].Parts, part)
				continue
			}
			out.Contents = append(out.Contents, gemini.Content{Role: "user", Parts: []gemini.Part{part}})
		case "assistant":
			var parts []gemini.Part
			if text := msg.Content.String(); text != "" {
				parts = append(parts, gemini.TextPart(text))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{
					Name: tc.Function.Name,
					Args: objectOrEmpty(openai.ParseArguments(tc.Function.Arguments)),
				}})
			}
			if len(parts) == 0 {
				parts = []gemini.Part{gemini.TextPart("")}
			}
			out.Contents = append(out.Contents, gemini.Content{Role: "model", Parts: parts})
		default:
			out.Contents = append(out.Contents, gemini.Content{Role: "user", Parts: hubContentToGemini(msg.Content)})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &gemini.Content{Parts: system}
	}

	gc := &gemini.GenerationConfig{
		MaxOutputTokens: maxTokens(in),
		Temperature:     in.Temperature,
		TopP:            in.TopP,
		StopSequences:   in.Stop,
	}
	if in.ReasoningEffort != "" {
		budget := opts.Reasoning.Tokens(in.ReasoningEffort)
		gc.ThinkingConfig = &gemini.ThinkingConfig{ThinkingBudget: &budget}
	}
	if gc.MaxOutputTokens != nil || gc.Temperature != nil || gc.TopP != nil || len(gc.StopSequences) > 0 || gc.ThinkingConfig != nil {
		out.GenerationConfig = gc
	}

	if len(in.Tools) > 0 {
		decls := make([]gemini.FunctionDeclaration, 0, len(in.Tools))
		for _, t := range in.Tools {
			decls = append(decls, gemini.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		out.Tools = []gemini.Tool{{FunctionDeclarations: decls}}
	}

	var fcc *gemini.FunctionCallingConfig
	switch kind, name := toolChoiceKind(in.ToolChoice); kind {
	case "auto":
		fcc = &gemini.FunctionCallingConfig{Mode: "AUTO"}
	case "none":
		fcc = &gemini.FunctionCallingConfig{Mode: "NONE"}
	case "required":
		fcc = &gemini.FunctionCallingConfig{Mode: "ANY"}
	case "function":
		fcc = &gemini.FunctionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{name}}
	}
	if fcc != nil {
		out.ToolConfig = &gemini.ToolConfig{FunctionCallingConfig: fcc}
	}

	return out
}

func isFunctionResponseTurn(c gemini.Content) bool {
	if c.Role != "user" || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// toolResponseObject keeps a JSON object result as is and wraps anything
// else as {"content": "<text>"}.
func toolResponseObject(content string) json.RawMessage {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	raw, _ := json.Marshal(map[string]string{"content": content})
	return raw
}

func hubContentToGemini(c *openai.Content) []gemini.Part {
	if !c.IsParts() {
		return []gemini.Part{gemini.TextPart(c.String())}
	}
	parts := make([]gemini.Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, gemini.TextPart(p.Text))
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mediaType, data, ok := parseDataURL(p.ImageURL.URL); ok {
				parts = append(parts, gemini.Part{InlineData: &gemini.Blob{MimeType: mediaType, Data: data}})
			} else {
				parts = append(parts, gemini.TextPart(p.ImageURL.URL))
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, gemini.TextPart(""))
	}
	return parts
}

func geminiResponseToHub(data []byte, opts Options) (*openai.ChatCompletionResponse, error) {
	var in gemini.GenerateContentResponse
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(in.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	candidate := in.Candidates[0]
	var (
		texts     []string
		toolCalls []openai.ToolCall
	)
	for _, p := range candidate.Content.Parts {
		switch {
		case p.Thought:
		case p.Text != nil:
			texts = append(texts, *p.Text)
		case p.FunctionCall != nil:
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   firstNonEmpty(p.FunctionCall.ID, domain.NewID(domain.PrefixOpenAICall)),
				Type: "function",
				Function: openai.FunctionCall{
					Name:      p.FunctionCall.Name,
					Arguments: openai.CompactArguments(p.FunctionCall.Args),
				},
			})
		}
	}

	msg := openai.Message{Role: "assistant", ToolCalls: toolCalls}
	if len(texts) > 0 {
		msg.Content = openai.TextContent(strings.Join(texts, ""))
	}

	return &openai.ChatCompletionResponse{
		ID:      firstNonEmpty(in.ResponseID, domain.NewID(domain.PrefixOpenAICompl)),
		Object:  "chat.completion",
		Created: opts.timestamp(),
		Model:   firstNonEmpty(opts.Model, in.ModelVersion),
		Choices: []openai.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: FinishReason(firstNonEmpty(candidate.FinishReason, "STOP"), domain.FormatGemini, domain.FormatOpenAI),
		}},
		Usage: UsageFromGemini(in.UsageMetadata),
	}, nil
}

func hubToGeminiResponse(in *openai.ChatCompletionResponse, opts Options) *gemini.GenerateContentResponse {
	var (
		parts        []gemini.Part
		finishReason string
	)
	if len(in.Choices) > 0 {
		choice := in.Choices[0]
		finishReason = choice.FinishReason
		if text := choice.Message.Content.String(); text != "" {
			parts = append(parts, gemini.TextPart(text))
		}
		for _, tc := range choice.Message.ToolCalls {
			parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{
				Name: tc.Function.Name,
				Args: objectOrEmpty(openai.ParseArguments(tc.Function.Arguments)),
			}})
		}
	}
	if len(parts) == 0 {
		parts = []gemini.Part{gemini.TextPart("")}
	}

	return &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content:      gemini.Content{Role: "model", Parts: parts},
			FinishReason: FinishReason(finishReason, domain.FormatOpenAI, domain.FormatGemini),
			Index:        0,
		}},
		UsageMetadata: UsageToGemini(in.Usage),
		ModelVersion:  firstNonEmpty(opts.Model, in.Model),
		ResponseID:    in.ID,
	}
}
