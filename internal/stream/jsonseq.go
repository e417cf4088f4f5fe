package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// SplitJSON returns the JSON values in data. A single value is returned as
// is; several values written back to back are split in order. Values that
// decode before a syntax error are returned together with the error.
func SplitJSON(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if json.Valid(data) {
		return []json.RawMessage{data}, nil
	}

	var values []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var v json.RawMessage
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return values, nil
		}
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
}
