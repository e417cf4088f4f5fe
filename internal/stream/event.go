// Package stream moves streamed completions between wire formats.
//
// Upstream streams of every format are decoded into Events shaped after
// OpenAI chunk deltas. Events pass through an optional Transcoder that turns
// prompt-emulated tool calls into tool-call deltas, then an Encoder writes
// them in the client's format.
package stream

import "encoding/json"

// EventType identifies the payload of an Event.
type EventType int

const (
	// EventText carries a content fragment in Text.
	EventText EventType = iota
	// EventToolCall carries a tool-call fragment in ToolCall.
	EventToolCall
	// EventFinish carries the OpenAI finish reason in FinishReason.
	EventFinish
	// EventUsage carries an OpenAI usage object in Usage.
	EventUsage
	// EventError carries an upstream failure reported inside the stream.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventText:
		return "text"
	case EventToolCall:
		return "tool_call"
	case EventFinish:
		return "finish"
	case EventUsage:
		return "usage"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one unit of a streamed completion.
type Event struct {
	Type         EventType
	Text         string
	ToolCall     ToolCallDelta
	FinishReason string
	// Usage is kept raw so fields the gateway does not know survive.
	Usage json.RawMessage
	Err   error
}

// ToolCallDelta is a fragment of one tool call. The first fragment of a call
// carries ID and Name; later fragments append to Arguments. Index identifies
// the call within the response.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// TextEvent returns a text event.
func TextEvent(text string) Event { return Event{Type: EventText, Text: text} }

// FinishEvent returns a finish event.
func FinishEvent(reason string) Event { return Event{Type: EventFinish, FinishReason: reason} }

// UsageEvent returns a usage event.
func UsageEvent(usage json.RawMessage) Event { return Event{Type: EventUsage, Usage: usage} }

// ErrorEvent returns an error event.
func ErrorEvent(err error) Event { return Event{Type: EventError, Err: err} }

// UpstreamError is an error reported by the upstream inside an open stream.
type UpstreamError struct {
	Type    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Type == "" {
		return "upstream stream error: " + e.Message
	}
	return "upstream stream error (" + e.Type + "): " + e.Message
}
