package toolcall

import (
	"context"
	"fmt"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// NameResolver returns the tool name recorded for a tool call id.
type NameResolver func(ctx context.Context, callID string) (string, bool)

// PreprocessOptions controls Preprocess.
type PreprocessOptions struct {
	// Trigger is the active trigger signal.
	Trigger string
	// Inject rewrites tool traffic into plain text for upstreams that only
	// see the injected prompt.
	Inject bool
	// DeveloperToSystem renames the developer role to system.
	DeveloperToSystem bool
	// Resolve is consulted first when naming a tool result. May be nil.
	Resolve NameResolver
}

// Preprocess rewrites a conversation before it is sent upstream. The input
// slice is not modified.
//
// With Inject set, tool results become user messages wrapped in
// <tool_result> tags and assistant tool calls become text in the trigger
// grammar, so the upstream sees a history consistent with the prompt it was
// given.
func Preprocess(ctx context.Context, messages []openai.Message, opts PreprocessOptions) []openai.Message {
	out := make([]openai.Message, 0, len(messages))
	seen := make(map[string]string)

	for _, msg := range messages {
		if msg.Role == "developer" && opts.DeveloperToSystem {
			msg.Role = "system"
		}
		if !opts.Inject {
			out = append(out, msg)
			continue
		}

		switch {
		case msg.Role == "tool":
			name := toolName(ctx, msg.ToolCallID, seen, opts.Resolve)
			out = append(out, openai.Message{
				Role:    "user",
				Content: openai.TextContent(FormatToolResult(name, msg.Content.String())),
			})
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			calls := make([]domain.ToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				seen[tc.ID] = tc.Function.Name
				calls = append(calls, domain.ToolCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: openai.ParseArguments(tc.Function.Arguments),
				})
			}
			out = append(out, openai.Message{
				Role:    "assistant",
				Content: openai.TextContent(RenderWithTrigger(msg.Content.String(), opts.Trigger, calls)),
			})
		default:
			out = append(out, msg)
		}
	}
	return out
}

func toolName(ctx context.Context, id string, seen map[string]string, resolve NameResolver) string {
	if resolve != nil && id != "" {
		if name, ok := resolve(ctx, id); ok && name != "" {
			return name
		}
	}
	if name, ok := seen[id]; ok && name != "" {
		return name
	}
	return "unknown"
}

// FormatToolResult renders a tool result as the plain text fed back to the
// model.
func FormatToolResult(name, content string) string {
	return fmt.Sprintf("Tool execution result:\n- Tool name: %s\n- Execution result:\n<tool_result>\n%s\n</tool_result>", name, content)
}

// ValidateHistory reports tool results that do not answer an earlier tool
// call. Problems are returned for logging; they never reject a request.
func ValidateHistory(messages []openai.Message) []string {
	var problems []string
	pending := make(map[string]bool)
	for i, msg := range messages {
		for _, tc := range msg.ToolCalls {
			pending[tc.ID] = true
		}
		if msg.Role != "tool" {
			continue
		}
		switch {
		case msg.ToolCallID == "":
			problems = append(problems, fmt.Sprintf("message %d: tool result without tool_call_id", i))
		case !pending[msg.ToolCallID]:
			problems = append(problems, fmt.Sprintf("message %d: tool result %s has no preceding tool call", i, msg.ToolCallID))
		}
	}
	return problems
}

// Inject prepends the prompt as a system message.
func Inject(messages []openai.Message, prompt string) []openai.Message {
	out := make([]openai.Message, 0, len(messages)+1)
	out = append(out, openai.Message{Role: "system", Content: openai.TextContent(prompt)})
	return append(out, messages...)
}
