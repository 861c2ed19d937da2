package retrieval

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipdmod/internal/record"
)

func TestBareAndEnvelopedFlattenIdentically(t *testing.T) {
	items := `[{"kode_skpd":"1.01","nilai_realisasi":1500000},{"kode_skpd":"1.02","nilai_realisasi":"250"}]`

	bare, err := Decode(strings.NewReader(items))
	require.NoError(t, err)
	env, err := Decode(strings.NewReader(`{"status":true,"data":` + items + `}`))
	require.NoError(t, err)

	if diff := cmp.Diff(bare, env); diff != "" {
		t.Fatalf("shapes differ (-bare +enveloped):\n%s", diff)
	}
	require.Len(t, bare, 2)
	assert.Equal(t, json.Number("1500000"), bare[0]["nilai_realisasi"])
}

func TestUnknownShapesYieldEmpty(t *testing.T) {
	for _, body := range []string{
		`{"message":"ok"}`,
		`{"data":{"not":"a list"}}`,
		`"text"`,
		`null`,
		`42`,
		``,
	} {
		recs, err := Decode(strings.NewReader(body))
		require.NoError(t, err, body)
		assert.Empty(t, recs, body)
		assert.NotNil(t, recs, body)
	}
}

func TestNonObjectItemsSkipped(t *testing.T) {
	recs, err := Decode(strings.NewReader(`[1, "x", {"a":"b"}, null]`))
	require.NoError(t, err)
	assert.Equal(t, []record.RawRecord{{"a": "b"}}, recs)
}

func TestDecodeSyntaxError(t *testing.T) {
	_, err := Decode(strings.NewReader(`<html>502 Bad Gateway</html>`))
	assert.Error(t, err)
}

func TestFlattenKeepsPageOrder(t *testing.T) {
	got := Flatten([][]record.RawRecord{
		{{"m": "1"}},
		nil,
		{{"m": "3a"}, {"m": "3b"}},
	})
	want := []record.RawRecord{{"m": "1"}, {"m": "3a"}, {"m": "3b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}
