package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/api/anthropic"
	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

func anthropicRequestToHub(data []byte, opts Options) (*openai.ChatCompletionRequest, error) {
	var in anthropic.MessagesRequest
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode anthropic request: %w", err)
	}

	out := &openai.ChatCompletionRequest{
		Model:       firstNonEmpty(opts.Model, in.Model),
		Stream:      in.Stream,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stop:        in.StopSequences,
	}
	if in.MaxTokens > 0 {
		out.MaxTokens = &in.MaxTokens
	}
	if in.Metadata != nil {
		out.User = in.Metadata.UserID
	}
	if in.Thinking != nil && in.Thinking.Type == "enabled" {
		out.ReasoningEffort = opts.Reasoning.Effort(in.Thinking.BudgetTokens)
	}

	if system := in.System.Text(); system != "" {
		out.Messages = append(out.Messages, openai.Message{Role: "system", Content: openai.TextContent(system)})
	}

	for _, msg := range in.Messages {
		out.Messages = append(out.Messages, anthropicMessageToHub(msg)...)
	}

	for _, t := range in.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.FunctionTool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	if in.ToolChoice != nil {
		switch in.ToolChoice.Type {
		case "auto":
			out.ToolChoice = stringToolChoice("auto")
		case "any":
			out.ToolChoice = stringToolChoice("required")
		case "none":
			out.ToolChoice = stringToolChoice("none")
		case "tool":
			out.ToolChoice = functionToolChoice(in.ToolChoice.Name)
		}
	}

	return out, nil
}

// anthropicMessageToHub splits one Anthropic message into OpenAI messages.
// tool_result blocks become tool messages ahead of any remaining user content.
func anthropicMessageToHub(msg anthropic.Message) []openai.Message {
	var (
		out       []openai.Message
		parts     []openai.ContentPart
		text      strings.Builder
		toolCalls []openai.ToolCall
		hasImage  bool
	)

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			parts = append(parts, openai.ContentPart{Type: "text", Text: block.Text})
			text.WriteString(block.Text)
		case "image":
			if block.Source == nil {
				continue
			}
			url := block.Source.URL
			if block.Source.Type == "base64" {
				url = dataURL(block.Source.MediaType, block.Source.Data)
			}
			parts = append(parts, openai.ContentPart{Type: "image_url", ImageURL: &openai.ImageURL{URL: url}})
			hasImage = true
		case "tool_use":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: openai.CompactArguments(block.Input),
				},
			})
		case "tool_result":
			out = append(out, openai.Message{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    openai.TextContent(block.Content.String()),
			})
		}
	}

	switch {
	case msg.Role == "assistant":
		if len(parts) == 0 && len(toolCalls) == 0 {
			return out
		}
		m := openai.Message{Role: "assistant", ToolCalls: toolCalls}
		if text.Len() > 0 || len(toolCalls) == 0 {
			m.Content = openai.TextContent(text.String())
		}
		out = append(out, m)
	case len(parts) == 0:
	case hasImage || len(parts) > 1:
		out = append(out, openai.Message{Role: msg.Role, Content: &openai.Content{Parts: parts}})
	default:
		out = append(out, openai.Message{Role: msg.Role, Content: openai.TextContent(text.String())})
	}
	return out
}

func hubToAnthropicRequest(in *openai.ChatCompletionRequest, opts Options) *anthropic.MessagesRequest {
	out := &anthropic.MessagesRequest{
		Model:         in.Model,
		MaxTokens:     DefaultAnthropicMaxTokens,
		Temperature:   in.Temperature,
		TopP:          in.TopP,
		Stream:        in.Stream,
		StopSequences: in.Stop,
	}
	if mt := maxTokens(in); mt != nil && *mt > 0 {
		out.MaxTokens = *mt
	}
	if in.User != "" {
		out.Metadata = &anthropic.Metadata{UserID: in.User}
	}
	if in.ReasoningEffort != "" {
		out.Thinking = &anthropic.ThinkingConfig{Type: "enabled", BudgetTokens: opts.Reasoning.Tokens(in.ReasoningEffort)}
	}

	var system []string
	for _, msg := range in.Messages {
		switch msg.Role {
		case "system", "developer":
			system = append(system, msg.Content.String())
		case "tool":
			block := anthropic.ContentPart{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   &anthropic.ToolResultContent{Text: msg.Content.String()},
			}
			// Consecutive tool results share one user turn.
			if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == "user" && isToolResultTurn(out.Messages[n-1]) {
				out.Messages[n-1].Content = append(out.Messages[n-1].Content, block)
				continue
			}
			out.Messages = append(out.Messages, anthropic.Message{Role: "user", Content: anthropic.ContentBlock{block}})
		case "assistant":
			var blocks anthropic.ContentBlock
			if text := msg.Content.String(); text != "" {
				blocks = append(blocks, anthropic.ContentPart{Type: "text", Text: text})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.ContentPart{
					Type:  "tool_use",
					ID:    firstNonEmpty(tc.ID, domain.NewID(domain.PrefixAnthropicTool)),
					Name:  tc.Function.Name,
					Input: objectOrEmpty(openai.ParseArguments(tc.Function.Arguments)),
				})
			}
			if len(blocks) == 0 {
				blocks = anthropic.ContentBlock{{Type: "text", Text: ""}}
			}
			out.Messages = append(out.Messages, anthropic.Message{Role: "assistant", Content: blocks})
		default:
			out.Messages = append(out.Messages, anthropic.Message{Role: "user", Content: hubContentToAnthropic(msg.Content)})
		}
	}
	if len(system) > 0 {
		out.System = anthropic.SystemMessages{{Type: "text", Text: strings.Join(system, "\n\n")}}
	}

	for _, t := range in.Tools {
		schema := t.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	switch kind, name := toolChoiceKind(in.ToolChoice); kind {
	case "auto":
		out.ToolChoice = &anthropic.ToolChoice{Type: "auto"}
	case "required":
		out.ToolChoice = &anthropic.ToolChoice{Type: "any"}
	case "none":
		out.ToolChoice = &anthropic.ToolChoice{Type: "none"}
	case "function":
		out.ToolChoice = &anthropic.ToolChoice{Type: "tool", Name: name}
	}

	return out
}

func isToolResultTurn(m anthropic.Message) bool {
	for _, b := range m.Content {
		if b.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}

func hubContentToAnthropic(c *openai.Content) anthropic.ContentBlock {
	if !c.IsParts() {
		return anthropic.ContentBlock{{Type: "text", Text: c.String()}}
	}
	blocks := make(anthropic.ContentBlock, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, anthropic.ContentPart{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mediaType, data, ok := parseDataURL(p.ImageURL.URL); ok {
				blocks = append(blocks, anthropic.ContentPart{Type: "image", Source: &anthropic.ImageSource{
					Type: "base64", MediaType: mediaType, Data: data,
				}})
			} else {
				blocks = append(blocks, anthropic.ContentPart{Type: "image", Source: &anthropic.ImageSource{
					Type: "url", URL: p.ImageURL.URL,
				}})
			}
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.ContentPart{Type: "text", Text: ""})
	}
	return blocks
}

func anthropicResponseToHub(data []byte, opts Options) (*openai.ChatCompletionResponse, error) {
	var in anthropic.MessagesResponse
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	var (
		texts     []string
		toolCalls []openai.ToolCall
	)
	for _, block := range in.Content {
		switch block.Type {
		case "text":
			if block.Text != nil {
				texts = append(texts, *block.Text)
			}
		case "tool_use":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   firstNonEmpty(block.ID, domain.NewID(domain.PrefixOpenAICall)),
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: openai.CompactArguments(block.Input),
				},
			})
		}
	}

	msg := openai.Message{Role: "assistant", ToolCalls: toolCalls}
	if len(texts) > 0 {
		msg.Content = openai.TextContent(strings.Join(texts, "\n"))
	}

	stopReason := "end_turn"
	if in.StopReason != nil {
		stopReason = *in.StopReason
	}

	return &openai.ChatCompletionResponse{
		ID:      firstNonEmpty(in.ID, domain.NewID(domain.PrefixOpenAICompl)),
		Object:  "chat.completion",
		Created: opts.timestamp(),
		Model:   firstNonEmpty(opts.Model, in.Model),
		Choices: []openai.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: FinishReason(stopReason, domain.FormatAnthropic, domain.FormatOpenAI),
		}},
		Usage: UsageFromAnthropic(in.Usage),
	}, nil
}

func hubToAnthropicResponse(in *openai.ChatCompletionResponse, opts Options) *anthropic.MessagesResponse {
	var (
		content      []anthropic.ResponseContent
		finishReason string
	)
	if len(in.Choices) > 0 {
		choice := in.Choices[0]
		finishReason = choice.FinishReason
		if text := choice.Message.Content.String(); text != "" {
			content = append(content, anthropic.TextContent(text))
		}
		for _, tc := range choice.Message.ToolCalls {
			content = append(content, anthropic.ResponseContent{
				Type:  "tool_use",
				ID:    firstNonEmpty(tc.ID, domain.NewID(domain.PrefixAnthropicTool)),
				Name:  tc.Function.Name,
				Input: objectOrEmpty(openai.ParseArguments(tc.Function.Arguments)),
			})
		}
	}
	if len(content) == 0 {
		content = append(content, anthropic.TextContent(""))
	}

	stopReason := FinishReason(finishReason, domain.FormatOpenAI, domain.FormatAnthropic)
	return &anthropic.MessagesResponse{
		ID:         firstNonEmpty(in.ID, domain.NewID(domain.PrefixAnthropicMsg)),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      firstNonEmpty(opts.Model, in.Model),
		StopReason: &stopReason,
		Usage:      UsageToAnthropic(in.Usage),
	}
}
