package toolcall

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

func TestRenderTools(t *testing.T) {
	tools := []domain.ToolDefinition{
		{
			Name:        "grep",
			Description: "Search files",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {"type": "string", "description": "Regex", "minLength": 1},
					"-i": {"type": "boolean", "default": false},
					"mode": {"type": "string", "enum": ["files", "content"], "examples": ["files"]},
					"paths": {"type": "array", "items": {"type": "string"}, "maxItems": 10}
				},
				"required": ["pattern"]
			}`),
		},
		{Name: "ping"},
	}

	got := RenderTools(tools)

	wantFirst := "1. <tool name=\"grep\">\n" +
		"   Description:\n```\nSearch files\n```\n" +
		"   Parameters summary: pattern (string), -i (boolean), mode (string), paths (array)\n" +
		"   Required parameters: pattern\n" +
		"   Parameter details:\n" +
		"- pattern:\n  - type: string\n  - required: Yes\n  - description: Regex\n  - constraints: {\"minLength\":1}\n" +
		"- -i:\n  - type: boolean\n  - required: No\n  - default: false\n" +
		"- mode:\n  - type: string\n  - required: No\n  - enum: [\"files\",\"content\"]\n  - examples: [\"files\"]\n" +
		"- paths:\n  - type: array\n  - required: No\n  - constraints: {\"maxItems\":10,\"items.type\":\"string\"}"
	wantSecond := "2. <tool name=\"ping\">\n" +
		"   Description:\nNone\n" +
		"   Parameters summary: None\n" +
		"   Required parameters: None\n" +
		"   Parameter details:\n(no parameter details)"

	assert.Equal(t, wantFirst+"\n\n"+wantSecond, got)
}

func TestBuildPrompt(t *testing.T) {
	tools := []domain.ToolDefinition{{Name: "ping"}}

	t.Run("default template", func(t *testing.T) {
		prompt := BuildPrompt(tools, testTrigger, "")
		assert.Contains(t, prompt, `1. <tool name="ping">`)
		assert.Contains(t, prompt, "\n"+testTrigger+"\n<function_calls>")
		assert.NotContains(t, prompt, PlaceholderTrigger)
		assert.NotContains(t, prompt, PlaceholderTools)
	})

	t.Run("custom template", func(t *testing.T) {
		prompt := BuildPrompt(tools, testTrigger, "Use {trigger_signal}.\n{tools_list}")
		assert.True(t, strings.HasPrefix(prompt, "Use "+testTrigger+".\n1. <tool"))
	})
}

func TestToolsFromOpenAI(t *testing.T) {
	tools := []openai.Tool{
		{Type: "function", Function: openai.FunctionTool{Name: "a", Description: "A", Parameters: json.RawMessage(`{"type":"object"}`)}},
		{Type: "web_search"},
	}
	defs := ToolsFromOpenAI(tools)
	assert.Len(t, defs, 1)
	assert.Equal(t, "a", defs[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(defs[0].Parameters))
}

func TestChoiceInstruction(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{``, ""},
		{`"auto"`, ""},
		{`"none"`, "Do not call any tools"},
		{`"required"`, "must call at least one tool"},
		{`{"type":"function","function":{"name":"get_weather"}}`, "must call the tool `get_weather`"},
		{`{"type":"function"}`, ""},
		{`42`, ""},
	}
	for _, tt := range tests {
		got := ChoiceInstruction(json.RawMessage(tt.raw))
		if tt.want == "" {
			assert.Empty(t, got, tt.raw)
			continue
		}
		assert.Contains(t, got, tt.want, tt.raw)
	}
}
