package stream

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/toolcall"
)

// State is the position of a Transcoder in a response.
type State int

const (
	// StatePassthrough forwards text while watching for the trigger signal.
	StatePassthrough State = iota
	// StateBuffering withholds text after the trigger until the
	// <function_calls> block is complete.
	StateBuffering
	// StateEmitting is entered once the block is complete and its tool calls
	// are being emitted.
	StateEmitting
	// StateDone drops all further content.
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePassthrough:
		return "PASSTHROUGH"
	case StateBuffering:
		return "BUFFERING"
	case StateEmitting:
		return "EMITTING_TOOLCALLS"
	case StateDone:
		return "DONE"
	}
	return "UNKNOWN"
}

const (
	openCalls  = "<function_calls>"
	closeCalls = "</function_calls>"
)

// Transcoder turns tool calls written in the trigger grammar into tool-call
// events. Neither the trigger signal nor the XML that follows it is ever
// passed on. Usage events are captured instead of forwarded; read them with
// Usage once the stream has ended.
//
// A Transcoder belongs to a single response and is not safe for concurrent
// use.
type Transcoder struct {
	trigger string
	state   State

	// pending is forwardable text held back because it ends with a prefix
	// of the trigger signal.
	pending string
	// buffer holds the text from the trigger signal onwards.
	buffer strings.Builder

	usage    json.RawMessage
	calls    []domain.ToolCall
	finished bool
}

// NewTranscoder returns a transcoder watching for trigger.
func NewTranscoder(trigger string) *Transcoder {
	return &Transcoder{trigger: trigger}
}

// State returns the current state.
func (t *Transcoder) State() State { return t.state }

// Usage returns the last usage record seen, or nil.
func (t *Transcoder) Usage() json.RawMessage { return t.usage }

// Calls returns the tool calls emitted so far, with their generated ids.
func (t *Transcoder) Calls() []domain.ToolCall { return t.calls }

// Push processes one upstream event and returns the events to forward.
func (t *Transcoder) Push(ev Event) []Event {
	switch ev.Type {
	case EventUsage:
		t.usage = ev.Usage
		return nil
	case EventText:
		return t.pushText(ev.Text)
	case EventFinish:
		if t.state == StateDone {
			return nil
		}
		out := t.flush()
		t.finished = true
		return append(out, ev)
	case EventToolCall:
		if t.state != StatePassthrough {
			return nil
		}
		out := t.flushPending()
		return append(out, ev)
	default:
		out := t.flush()
		return append(out, ev)
	}
}

// Finish is called when the upstream stream ends. Text still withheld is
// released as ordinary content, including an unterminated tool-call block.
func (t *Transcoder) Finish() []Event {
	if t.state == StateDone {
		return nil
	}
	return t.flush()
}

// Finished reports whether a finish event has been forwarded.
func (t *Transcoder) Finished() bool { return t.finished }

func (t *Transcoder) pushText(text string) []Event {
	switch t.state {
	case StateDone, StateEmitting:
		return nil
	case StateBuffering:
		t.buffer.WriteString(text)
		return t.checkBlock()
	}

	t.pending += text
	if i := strings.Index(t.pending, t.trigger); i >= 0 && t.trigger != "" {
		var out []Event
		if i > 0 {
			out = append(out, TextEvent(t.pending[:i]))
		}
		t.buffer.Reset()
		t.buffer.WriteString(t.pending[i:])
		t.pending = ""
		t.state = StateBuffering
		return append(out, t.checkBlock()...)
	}

	hold := partialSuffix(t.pending, t.trigger)
	send := t.pending[:len(t.pending)-hold]
	t.pending = t.pending[len(t.pending)-hold:]
	if send == "" {
		return nil
	}
	return []Event{TextEvent(send)}
}

// checkBlock emits tool calls once the buffered block is balanced.
func (t *Transcoder) checkBlock() []Event {
	buffered := t.buffer.String()
	start := strings.Index(buffered, openCalls)
	if start < 0 {
		return nil
	}
	end := balancedEnd(buffered[start:])
	if end < 0 {
		return nil
	}

	t.state = StateEmitting
	parsed := toolcall.ParseBlock(buffered[start : start+end])
	if len(parsed) == 0 {
		// Nothing usable in the block: hand the text back as content.
		t.state = StatePassthrough
		t.buffer.Reset()
		return []Event{TextEvent(buffered)}
	}

	out := make([]Event, 0, 2*len(parsed)+1)
	for i, call := range parsed {
		call.ID = domain.NewID(domain.PrefixOpenAICall)
		t.calls = append(t.calls, call)
		out = append(out,
			Event{Type: EventToolCall, ToolCall: ToolCallDelta{Index: i, ID: call.ID, Name: call.Name}},
			Event{Type: EventToolCall, ToolCall: ToolCallDelta{Index: i, Arguments: string(call.Args)}},
		)
	}
	out = append(out, FinishEvent("tool_calls"))
	t.finished = true
	t.state = StateDone
	t.buffer.Reset()
	return out
}

func (t *Transcoder) flush() []Event {
	out := t.flushPending()
	if t.state == StateBuffering && t.buffer.Len() > 0 {
		out = append(out, TextEvent(t.buffer.String()))
		t.buffer.Reset()
		t.state = StatePassthrough
	}
	return out
}

func (t *Transcoder) flushPending() []Event {
	if t.pending == "" {
		return nil
	}
	text := t.pending
	t.pending = ""
	return []Event{TextEvent(text)}
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of trigger.
func partialSuffix(s, trigger string) int {
	n := min(len(s), len(trigger)-1)
	for ; n > 0; n-- {
		if strings.HasSuffix(s, trigger[:n]) {
			return n
		}
	}
	return 0
}

// balancedEnd returns the offset just past the </function_calls> that closes
// the block opening at the start of s, or -1 if the block is still open.
func balancedEnd(s string) int {
	depth := 0
	for i := 0; i < len(s); {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "<![CDATA["):
			end := strings.Index(rest, "]]>")
			if end < 0 {
				return -1
			}
			i += end + len("]]>")
		case strings.HasPrefix(rest, openCalls):
			depth++
			i += len(openCalls)
		case strings.HasPrefix(rest, closeCalls):
			depth--
			i += len(closeCalls)
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return -1
}
