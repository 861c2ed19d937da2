// Package record holds the schema-less data items returned by the remote
// report endpoint.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RawRecord is one remote data item: field name to scalar value. Values are
// strings, json.Number, float64, bool or nil. Missing fields read as empty or zero.
type RawRecord map[string]any

// Has reports whether field is present with a non-nil value.
func (r RawRecord) Has(field string) bool {
	v, ok := r[field]
	return ok && v != nil
}

// String returns field as text. Missing and nil values are "".
func (r RawRecord) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Number returns field as a float. Missing, empty and non-numeric values
// contribute zero; NaN and infinities are treated as non-numeric.
func (r RawRecord) Number(field string) float64 {
	var f float64
	switch v := r[field].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Empty reports whether field is missing or renders as blank text.
func (r RawRecord) Empty(field string) bool {
	return strings.TrimSpace(r.String(field)) == ""
}
