package domain

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ToolDefinition describes a tool a client offers to the model. Parameters is
// the JSON Schema object exactly as the client supplied it.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a parsed tool invocation. Args is the JSON encoding of the
// arguments, usually an object, with keys in the order the model wrote them.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ID prefixes used by the different wire formats.
const (
	PrefixOpenAICall    = "call_"
	PrefixOpenAICompl   = "chatcmpl-"
	PrefixAnthropicTool = "toolu_"
	PrefixAnthropicMsg  = "msg_"
)

// NewID returns prefix followed by 32 random hex characters.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
