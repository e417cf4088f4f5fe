package toolcall

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// Render writes calls as a <function_calls> block that Parse reads back to
// the same names and arguments.
func Render(calls []domain.ToolCall) string {
	var sb strings.Builder
	sb.WriteString(openCalls + "\n")
	for _, call := range calls {
		sb.WriteString("    " + openCall + "\n")
		sb.WriteString("        " + openTool + call.Name + closeTool + "\n")
		sb.WriteString("        " + openArgs + "\n")
		gjson.ParseBytes(call.Args).ForEach(func(key, value gjson.Result) bool {
			k := key.String()
			sb.WriteString("            <" + k + ">")
			sb.WriteString(renderValue(value))
			sb.WriteString("</" + k + ">\n")
			return true
		})
		sb.WriteString("        " + closeArgs + "\n")
		sb.WriteString("    " + closeCall + "\n")
	}
	sb.WriteString(closeCalls)
	return sb.String()
}

// RenderWithTrigger renders calls preceded by the trigger signal on its own
// line, the way the model is asked to write them.
func RenderWithTrigger(text, trigger string, calls []domain.ToolCall) string {
	var sb strings.Builder
	if text != "" {
		sb.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			sb.WriteByte('\n')
		}
	}
	sb.WriteString(trigger)
	sb.WriteByte('\n')
	sb.WriteString(Render(calls))
	return sb.String()
}

func renderValue(v gjson.Result) string {
	if v.Type != gjson.String {
		var buf bytes.Buffer
		json.HTMLEscape(&buf, []byte(compactJSON(v.Raw)))
		return buf.String()
	}
	s := v.String()
	switch {
	case strings.ContainsAny(s, "<&"):
		return cdata(s)
	case s != strings.TrimSpace(s) || s == "" || json.Valid([]byte(s)):
		// Quote values that would otherwise be trimmed, empty or read back as JSON.
		raw, _ := marshalNoEscape(s)
		return string(raw)
	default:
		return s
	}
}

func cdata(s string) string {
	return cdataOpen + strings.ReplaceAll(s, cdataClose, "]]"+cdataClose+cdataOpen+">") + cdataClose
}
