package toolcall

import (
	"encoding/json"
	"fmt"
)

// ChoiceInstruction returns the text appended to the injected prompt for an
// OpenAI tool_choice value. "auto", an absent value and anything unrecognised
// add nothing.
func ChoiceInstruction(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "none":
			return "\n\n**IMPORTANT:** Do not call any tools in this response. Answer the user directly."
		case "required":
			return "\n\n**IMPORTANT:** You must call at least one tool in this response."
		}
		return ""
	}

	var named struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err != nil || named.Function.Name == "" {
		return ""
	}
	return fmt.Sprintf("\n\n**IMPORTANT:** You must call the tool `%s` in this response and no other tool.", named.Function.Name)
}
