package gateway

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// overlayUsage fills zero or missing counts in an OpenAI usage object with
// estimates. Reported non-zero counts are kept; the total is recomputed when
// anything was estimated. raw may be nil. Other fields survive untouched.
func overlayUsage(raw json.RawMessage, promptEstimate, completionEstimate int) json.RawMessage {
	if len(raw) == 0 || !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		raw = json.RawMessage(`{}`)
	}
	r := gjson.ParseBytes(raw)

	estimated := false
	prompt := r.Get("prompt_tokens").Int()
	if prompt == 0 {
		prompt, estimated = int64(promptEstimate), true
	}
	completion := r.Get("completion_tokens").Int()
	if completion == 0 {
		completion, estimated = int64(completionEstimate), true
	}
	total := r.Get("total_tokens").Int()
	if total == 0 || estimated {
		total = prompt + completion
	}

	out := append([]byte(nil), raw...)
	for _, f := range []struct {
		path  string
		value int64
	}{
		{"prompt_tokens", prompt},
		{"completion_tokens", completion},
		{"total_tokens", total},
	} {
		if patched, err := sjson.SetBytes(out, f.path, f.value); err == nil {
			out = patched
		}
	}
	return out
}

// overlayResponseUsage applies overlayUsage to the usage field of an OpenAI
// response.
func overlayResponseUsage(resp []byte, promptEstimate, completionEstimate int) ([]byte, error) {
	var current json.RawMessage
	if u := gjson.GetBytes(resp, "usage"); u.Exists() {
		current = json.RawMessage(u.Raw)
	}
	return sjson.SetRawBytes(resp, "usage", overlayUsage(current, promptEstimate, completionEstimate))
}
