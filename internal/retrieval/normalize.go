package retrieval

import (
	"encoding/json"
	"fmt"
	"io"

	"sipdmod/internal/record"
)

// envelopeField is the list field of an enveloped response.
const envelopeField = "data"

// Decode parses a response body and normalizes its shape. Numbers are kept
// as json.Number so large amounts survive intact.
func Decode(r io.Reader) ([]record.RawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if err == io.EOF {
			return []record.RawRecord{}, nil
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return Normalize(v), nil
}

// Normalize accepts a bare list or an object with a "data" list. Any other
// shape yields an empty collection. Non-object list items are skipped.
func Normalize(v any) []record.RawRecord {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items, _ = t[envelopeField].([]any)
	}

	out := make([]record.RawRecord, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, record.RawRecord(m))
		}
	}
	return out
}

// Flatten concatenates pages in order.
func Flatten(pages [][]record.RawRecord) []record.RawRecord {
	n := 0
	for _, p := range pages {
		n += len(p)
	}
	out := make([]record.RawRecord, 0, n)
	for _, p := range pages {
		out = append(out, p...)
	}
	return out
}
