package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxLineSize bounds a single SSE line.
const maxLineSize = 1024 * 1024

// SSEEvent is one dispatched server-sent event.
type SSEEvent struct {
	Event string
	Data  string
}

// SSEReader reads server-sent events from an upstream body.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader returns a reader over r.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineSize)
	return &SSEReader{scanner: scanner}
}

// Next returns the next event with data. It returns io.EOF when the body is
// exhausted; an event still pending at EOF is returned first.
func (r *SSEReader) Next() (SSEEvent, error) {
	var (
		event string
		data  []string
	)
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if len(data) > 0 {
				return SSEEvent{Event: event, Data: strings.Join(data, "\n")}, nil
			}
			event = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return SSEEvent{}, fmt.Errorf("stream read error: %w", err)
	}
	if len(data) > 0 {
		return SSEEvent{Event: event, Data: strings.Join(data, "\n")}, nil
	}
	return SSEEvent{}, io.EOF
}

// SSEWriter writes server-sent events, flushing after each one when the
// underlying writer supports it.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter returns a writer over w.
func NewSSEWriter(w io.Writer) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// SetHeaders sets the event-stream response headers.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteData writes a data-only event.
func (s *SSEWriter) WriteData(data []byte) error {
	return s.write("data: " + string(data) + "\n\n")
}

// WriteEvent writes a named event.
func (s *SSEWriter) WriteEvent(event string, data []byte) error {
	return s.write("event: " + event + "\ndata: " + string(data) + "\n\n")
}

// WriteDone writes the OpenAI end-of-stream marker.
func (s *SSEWriter) WriteDone() error {
	return s.write("data: [DONE]\n\n")
}

func (s *SSEWriter) write(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return errors.Join(ErrClientGone, err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// ErrClientGone marks a failed write to the client.
var ErrClientGone = errors.New("client connection closed")
