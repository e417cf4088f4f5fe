package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/api/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// Template placeholders.
const (
	PlaceholderTrigger = "{trigger_signal}"
	PlaceholderTools   = "{tools_list}"
)

// Schema keywords listed as constraints in the parameter details.
var constraintKeys = []string{
	"minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum",
	"minLength", "maxLength", "pattern", "format",
	"minItems", "maxItems", "uniqueItems",
}

// DefaultTemplate is the instruction block used when no template is configured.
const DefaultTemplate = `
You have access to the following tools:

{tools_list}

**TOOL USAGE RULES**

Use a tool whenever the task calls for an action the tool can perform. Do not
describe what you would do; call the tool instead. You may call several tools in
one response. Earlier tool results appear in the conversation wrapped in
<tool_result>...</tool_result> tags; read them before calling a tool again.

**TOOL CALL FORMAT**

To call tools, first write the trigger signal on a line of its own, exactly as
shown and with nothing else on that line:
{trigger_signal}

Starting on the next line, write a single XML block:
<function_calls>
    <function_call>
        <tool>EXACT_TOOL_NAME</tool>
        <args>
            <param_name>value</param_name>
        </args>
    </function_call>
</function_calls>

Rules:
1. Text before the trigger signal line is allowed, for example "Let me check that."
2. Nothing may appear between the trigger signal and <function_calls>.
3. Use exactly one <function_calls> element. Do not nest it.
4. Put one <function_call> element inside it for each tool you call.
5. Stop writing immediately after </function_calls>.

Argument rules:
- Each child of <args> is one argument. Its tag name must be the parameter key
  exactly as defined, including case and punctuation. A key that starts with a
  hyphen keeps it: <-i>true</-i>.
- <tool> must contain the exact name of one of the tools listed above.
- Include every required argument.
- Numbers, booleans, arrays and objects are written as JSON. Strings are written
  as plain text.
- Write file contents and code verbatim without escaping. Wrap content that
  contains < or & in <![CDATA[ ... ]]>.

Example:
I'll look up the weather.
{trigger_signal}
<function_calls>
    <function_call>
        <tool>get_weather</tool>
        <args>
            <location>Paris</location>
            <days>3</days>
        </args>
    </function_call>
</function_calls>
`

// ToolsFromOpenAI extracts tool definitions from OpenAI function tools.
func ToolsFromOpenAI(tools []openai.Tool) []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return defs
}

// BuildPrompt renders the system prompt that teaches the model the trigger
// grammar. An empty template selects DefaultTemplate.
func BuildPrompt(tools []domain.ToolDefinition, trigger, template string) string {
	if template == "" {
		template = DefaultTemplate
	}
	prompt := strings.ReplaceAll(template, PlaceholderTrigger, trigger)
	return strings.ReplaceAll(prompt, PlaceholderTools, RenderTools(tools))
}

// RenderTools describes each tool as a numbered block. Parameters are listed
// in the order they appear in the schema.
func RenderTools(tools []domain.ToolDefinition) string {
	blocks := make([]string, 0, len(tools))
	for i, tool := range tools {
		blocks = append(blocks, renderTool(i+1, tool))
	}
	return strings.Join(blocks, "\n\n")
}

func renderTool(n int, tool domain.ToolDefinition) string {
	schema := gjson.ParseBytes(tool.Parameters)
	required := make(map[string]bool)
	var requiredNames []string
	for _, r := range schema.Get("required").Array() {
		required[r.String()] = true
		requiredNames = append(requiredNames, r.String())
	}

	var (
		summary []string
		details []string
	)
	schema.Get("properties").ForEach(func(key, prop gjson.Result) bool {
		name := key.String()
		typ := schemaType(prop)
		summary = append(summary, fmt.Sprintf("%s (%s)", name, typ))

		details = append(details, "- "+name+":", "  - type: "+typ)
		if required[name] {
			details = append(details, "  - required: Yes")
		} else {
			details = append(details, "  - required: No")
		}
		if desc := prop.Get("description").String(); desc != "" {
			details = append(details, "  - description: "+desc)
		}
		if v := prop.Get("enum"); v.Exists() {
			details = append(details, "  - enum: "+compactJSON(v.Raw))
		}
		if v := prop.Get("default"); v.Exists() && v.Type != gjson.Null {
			details = append(details, "  - default: "+compactJSON(v.Raw))
		}
		if v := prop.Get("examples"); v.Exists() {
			details = append(details, "  - examples: "+compactJSON(v.Raw))
		} else if v := prop.Get("example"); v.Exists() {
			details = append(details, "  - examples: "+compactJSON(v.Raw))
		}
		if c := constraints(prop, typ); c != "" {
			details = append(details, "  - constraints: "+c)
		}
		return true
	})

	desc := "None"
	if tool.Description != "" {
		desc = "```\n" + tool.Description + "\n```"
	}
	paramSummary := "None"
	if len(summary) > 0 {
		paramSummary = strings.Join(summary, ", ")
	}
	requiredList := "None"
	if len(requiredNames) > 0 {
		requiredList = strings.Join(requiredNames, ", ")
	}
	detailBlock := "(no parameter details)"
	if len(details) > 0 {
		detailBlock = strings.Join(details, "\n")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. <tool name=%q>\n", n, tool.Name)
	fmt.Fprintf(&sb, "   Description:\n%s\n", desc)
	fmt.Fprintf(&sb, "   Parameters summary: %s\n", paramSummary)
	fmt.Fprintf(&sb, "   Required parameters: %s\n", requiredList)
	fmt.Fprintf(&sb, "   Parameter details:\n%s", detailBlock)
	return sb.String()
}

func schemaType(prop gjson.Result) string {
	t := prop.Get("type")
	switch {
	case !t.Exists():
		return "any"
	case t.IsArray():
		var types []string
		for _, v := range t.Array() {
			types = append(types, v.String())
		}
		return strings.Join(types, "|")
	default:
		return t.String()
	}
}

// constraints renders the schema keywords that limit a value as a JSON object,
// keeping schema order. Array item types are reported as "items.type".
func constraints(prop gjson.Result, typ string) string {
	var buf bytes.Buffer
	add := func(key, raw string) {
		if buf.Len() == 0 {
			buf.WriteByte('{')
		} else {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.WriteString(compactJSON(raw))
	}
	for _, key := range constraintKeys {
		if v := prop.Get(key); v.Exists() {
			add(key, v.Raw)
		}
	}
	if typ == "array" {
		if it := prop.Get("items.type"); it.Exists() && it.Type == gjson.String {
			add("items.type", it.Raw)
		}
	}
	if buf.Len() == 0 {
		return ""
	}
	buf.WriteByte('}')
	return buf.String()
}

func compactJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw
	}
	return buf.String()
}
