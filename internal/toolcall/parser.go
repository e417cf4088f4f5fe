package toolcall

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tjfontaine/toolcall-gateway/internal/domain"
)

// Grammar tags.
const (
	openCalls  = "<function_calls>"
	closeCalls = "</function_calls>"
	openCall   = "<function_call>"
	closeCall  = "</function_call>"
	openTool   = "<tool>"
	closeTool  = "</tool>"
	openArgs   = "<args>"
	closeArgs  = "</args>"

	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

// SplitAtTrigger returns the text before the first trigger signal and the
// text after it. ok is false when the signal does not occur.
func SplitAtTrigger(text, trigger string) (before, after string, ok bool) {
	if trigger == "" {
		return text, "", false
	}
	i := strings.Index(text, trigger)
	if i < 0 {
		return text, "", false
	}
	return text[:i], text[i+len(trigger):], true
}

// Parse extracts the tool calls that follow the first trigger signal in
// text. It never fails: malformed fragments are skipped and whatever could
// be recovered is returned. A nil result means no tool was called. The
// returned calls carry no ID.
func Parse(text, trigger string) []domain.ToolCall {
	_, rest, ok := SplitAtTrigger(text, trigger)
	if !ok {
		return nil
	}
	start := strings.Index(rest, openCalls)
	if start < 0 {
		return nil
	}
	return ParseBlock(rest[start:])
}

// ParseBlock parses a <function_calls> block. Text before the opening tag is
// ignored; a missing closing tag is tolerated.
func ParseBlock(block string) []domain.ToolCall {
	start := strings.Index(block, openCalls)
	if start < 0 {
		return nil
	}
	body := block[start+len(openCalls):]
	if end := indexOutsideCDATA(body, closeCalls, 0); end >= 0 {
		body = body[:end]
	}

	var calls []domain.ToolCall
	pos := 0
	for {
		i := indexOutsideCDATA(body, openCall, pos)
		if i < 0 {
			break
		}
		contentStart := i + len(openCall)
		contentEnd := indexOutsideCDATA(body, closeCall, contentStart)
		next := contentEnd + len(closeCall)
		if contentEnd < 0 {
			// Unterminated call: take everything up to the next call, if any.
			contentEnd = indexOutsideCDATA(body, openCall, contentStart)
			if contentEnd < 0 {
				contentEnd = len(body)
			}
			next = contentEnd
		}
		if call, ok := parseCall(body[contentStart:contentEnd]); ok {
			calls = append(calls, call)
		}
		pos = next
	}
	return calls
}

func parseCall(body string) (domain.ToolCall, bool) {
	ts := strings.Index(body, openTool)
	if ts < 0 {
		return domain.ToolCall{}, false
	}
	te := strings.Index(body[ts:], closeTool)
	if te < 0 {
		return domain.ToolCall{}, false
	}
	name := strings.TrimSpace(unwrapText(body[ts+len(openTool) : ts+te]))
	if name == "" {
		return domain.ToolCall{}, false
	}

	args := json.RawMessage("{}")
	if as := indexOutsideCDATA(body, openArgs, 0); as >= 0 {
		inner := body[as+len(openArgs):]
		if ae := lastIndexOutsideCDATA(inner, closeArgs); ae >= 0 {
			inner = inner[:ae]
		}
		args = parseArgs(inner)
	}
	return domain.ToolCall{Name: name, Args: args}, true
}

// parseArgs turns the children of <args> into a JSON object, keeping the
// order in which keys appear. A repeated key keeps its first position and
// its last value.
func parseArgs(body string) json.RawMessage {
	var (
		keys   []string
		values = make(map[string]json.RawMessage)
	)
	s := &scanner{src: body}
	for {
		key, value, ok := s.nextElement()
		if !ok {
			break
		}
		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}
		values[key] = coerce(value)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := marshalNoEscape(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// scanner walks sibling elements of an XML-like fragment.
type scanner struct {
	src string
	pos int
}

// nextElement returns the next well-formed child element. Stray text,
// closing tags, comments and elements without a matching close tag are
// skipped.
func (s *scanner) nextElement() (name, content string, ok bool) {
	for s.pos < len(s.src) {
		lt := strings.IndexByte(s.src[s.pos:], '<')
		if lt < 0 {
			s.pos = len(s.src)
			return "", "", false
		}
		s.pos += lt
		rest := s.src[s.pos:]

		if strings.HasPrefix(rest, cdataOpen) {
			s.skipPast(cdataClose)
			continue
		}
		if len(rest) < 2 || rest[1] == '/' || rest[1] == '!' || rest[1] == '?' {
			s.skipPast(">")
			continue
		}

		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			s.pos = len(s.src)
			return "", "", false
		}
		tag := rest[1:gt]
		selfClosing := strings.HasSuffix(tag, "/")
		tag = strings.TrimSuffix(tag, "/")
		// Attributes are not part of the grammar; the name ends at whitespace.
		if i := strings.IndexAny(tag, " \t\r\n"); i >= 0 {
			tag = tag[:i]
		}
		if tag == "" || strings.ContainsAny(tag, "<\"'=") {
			s.pos++
			continue
		}

		contentStart := s.pos + gt + 1
		if selfClosing {
			s.pos = contentStart
			return tag, "", true
		}

		end := s.matchingClose(tag, contentStart)
		if end < 0 {
			s.pos = contentStart
			continue
		}
		content = s.src[contentStart:end]
		s.pos = end + len("</"+tag+">")
		return tag, content, true
	}
	return "", "", false
}

// matchingClose finds the close tag for name starting at from, counting
// nested elements of the same name and ignoring CDATA sections.
func (s *scanner) matchingClose(name string, from int) int {
	open := "<" + name + ">"
	closeTag := "</" + name + ">"
	depth := 1
	i := from
	for i < len(s.src) {
		rest := s.src[i:]
		switch {
		case strings.HasPrefix(rest, cdataOpen):
			end := strings.Index(rest[len(cdataOpen):], cdataClose)
			if end < 0 {
				return -1
			}
			i += len(cdataOpen) + end + len(cdataClose)
		case strings.HasPrefix(rest, closeTag):
			depth--
			if depth == 0 {
				return i
			}
			i += len(closeTag)
		case strings.HasPrefix(rest, open):
			depth++
			i += len(open)
		default:
			i++
		}
	}
	return -1
}

func (s *scanner) skipPast(marker string) {
	if i := strings.Index(s.src[s.pos+1:], marker); i >= 0 {
		s.pos += 1 + i + len(marker)
		return
	}
	s.pos = len(s.src)
}

// coerce converts argument text to JSON. CDATA content is always a string.
// Other text is used as JSON when it parses as JSON and kept as a string
// otherwise.
func coerce(content string) json.RawMessage {
	if text, ok := unwrapCDATA(content); ok {
		raw, _ := marshalNoEscape(text)
		return raw
	}
	trimmed := strings.TrimSpace(content)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return compactRaw(trimmed)
	}
	raw, _ := marshalNoEscape(trimmed)
	return raw
}

// unwrapCDATA returns the concatenated payload when content consists only of
// CDATA sections and surrounding whitespace.
func unwrapCDATA(content string) (string, bool) {
	rest := strings.TrimSpace(content)
	if !strings.HasPrefix(rest, cdataOpen) {
		return "", false
	}
	var sb strings.Builder
	for rest != "" {
		if !strings.HasPrefix(rest, cdataOpen) {
			return "", false
		}
		rest = rest[len(cdataOpen):]
		end := strings.Index(rest, cdataClose)
		if end < 0 {
			return "", false
		}
		sb.WriteString(rest[:end])
		rest = rest[end+len(cdataClose):]
	}
	return sb.String(), true
}

// unwrapText strips CDATA markers from short text such as tool names.
func unwrapText(s string) string {
	if text, ok := unwrapCDATA(s); ok {
		return text
	}
	return s
}

// indexOutsideCDATA is strings.Index starting at from, skipping matches
// inside CDATA sections.
func indexOutsideCDATA(s, substr string, from int) int {
	i := from
	for i <= len(s) {
		j := strings.Index(s[i:], substr)
		if j < 0 {
			return -1
		}
		c := strings.Index(s[i:], cdataOpen)
		if c < 0 || c >= j {
			return i + j
		}
		end := strings.Index(s[i+c+len(cdataOpen):], cdataClose)
		if end < 0 {
			return -1
		}
		i += c + len(cdataOpen) + end + len(cdataClose)
	}
	return -1
}

func lastIndexOutsideCDATA(s, substr string) int {
	last := -1
	for i := 0; ; {
		j := indexOutsideCDATA(s, substr, i)
		if j < 0 {
			return last
		}
		last = j
		i = j + len(substr)
	}
}

func compactRaw(s string) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return json.RawMessage(s)
	}
	return buf.Bytes()
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
