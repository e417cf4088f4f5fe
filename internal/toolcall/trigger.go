// Package toolcall emulates native function calling for upstream models that
// lack it. Tools are described in an injected system prompt, the model
// answers with a trigger signal followed by an XML block, and the block is
// parsed back into tool calls.
package toolcall

import (
	"crypto/rand"
	"strings"
)

const triggerAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewTriggerSignal returns a marker of the form <Function_XXXX_Start/> where
// XXXX is four random alphanumeric characters.
func NewTriggerSignal() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("toolcall: crypto/rand failed: " + err.Error())
	}
	var sb strings.Builder
	sb.WriteString("<Function_")
	for _, c := range b {
		sb.WriteByte(triggerAlphabet[int(c)%len(triggerAlphabet)])
	}
	sb.WriteString("_Start/>")
	return sb.String()
}

// IsTriggerSignal reports whether s has the shape produced by NewTriggerSignal.
func IsTriggerSignal(s string) bool {
	inner, ok := strings.CutPrefix(s, "<Function_")
	if !ok {
		return false
	}
	inner, ok = strings.CutSuffix(inner, "_Start/>")
	if !ok || len(inner) != 4 {
		return false
	}
	for i := 0; i < len(inner); i++ {
		if !strings.ContainsRune(triggerAlphabet, rune(inner[i])) {
			return false
		}
	}
	return true
}
