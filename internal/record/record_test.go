package record

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumberCoercion(t *testing.T) {
	r := RawRecord{
		"num":    json.Number("1250000.5"),
		"float":  float64(10),
		"text":   " 42 ",
		"word":   "tidak ada",
		"nan":    math.NaN(),
		"nil":    nil,
		"flag":   true,
		"badnum": json.Number("x"),
	}
	assert.Equal(t, 1250000.5, r.Number("num"))
	assert.Equal(t, 10.0, r.Number("float"))
	assert.Equal(t, 42.0, r.Number("text"))
	assert.Zero(t, r.Number("word"))
	assert.Zero(t, r.Number("nan"))
	assert.Zero(t, r.Number("nil"))
	assert.Zero(t, r.Number("flag"))
	assert.Zero(t, r.Number("badnum"))
	assert.Zero(t, r.Number("missing"))
}

func TestStringCoercion(t *testing.T) {
	r := RawRecord{
		"kode":  "1.01.02",
		"num":   json.Number("7"),
		"float": 2.5,
		"nil":   nil,
	}
	assert.Equal(t, "1.01.02", r.String("kode"))
	assert.Equal(t, "7", r.String("num"))
	assert.Equal(t, "2.5", r.String("float"))
	assert.Equal(t, "", r.String("nil"))
	assert.Equal(t, "", r.String("missing"))

	assert.True(t, r.Has("kode"))
	assert.False(t, r.Has("nil"))
	assert.True(t, r.Empty("missing"))
	assert.False(t, r.Empty("num"))
}
