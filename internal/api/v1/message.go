package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyBody is returned when a payload holds no JSON value.
var ErrEmptyBody = errors.New("empty message body")

// Message is one telemetry record: a flat or nested JSON object whose fields
// are visible to profile expressions under their own names.
type Message map[string]any

// DecodeMessages parses a payload holding either a single JSON object or an
// array of objects.
//
// Integral JSON numbers decode to int64 and all others to float64, so that
// expressions can do integer arithmetic on counters.
func DecodeMessages(data []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyBody
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var out []Message
	switch trimmed[0] {
	case '{':
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = []Message{m}
	case '[':
		var list []map[string]any
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("decode message array: %w", err)
		}
		out = make([]Message, 0, len(list))
		for i, m := range list {
			if m == nil {
				return nil, fmt.Errorf("message %d: not a JSON object", i)
			}
			out = append(out, m)
		}
	default:
		return nil, errors.New("payload must be a JSON object or array of objects")
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON value")
	}

	for _, m := range out {
		for k, v := range m {
			m[k] = normalize(v)
		}
	}
	return out, nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		s := val.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := val.Int64(); err == nil {
				return i
			}
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, e := range val {
			val[k] = normalize(e)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = normalize(e)
		}
		return val
	}
	return v
}
