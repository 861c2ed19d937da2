// Package aggregate groups flat records by a composite key and sums
// designated numeric fields. It is pure: equal input gives equal output.
package aggregate

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"sipdmod/internal/logging"
	"sipdmod/internal/record"
)

// CatchAllKey labels the bucket of records whose key fields are all empty.
const CatchAllKey = "(tanpa kode)"

// Spec describes one aggregation request.
type Spec struct {
	// Keys are the fields forming the composite grouping key.
	Keys []string
	// Describe lists descriptive fields kept from the first record of each bucket.
	Describe []string
	// Sums lists the numeric fields to total.
	Sums []string
	// SortBy orders buckets by this field's first-seen value. Empty sorts by key.
	SortBy string
	// Language drives collation. Zero value means Indonesian.
	Language language.Tag
}

// Bucket is the accumulator for one key.
type Bucket struct {
	Key      string
	KeyParts []string
	// Values holds first-seen key, descriptive and sort field values.
	Values map[string]string
	Sums   map[string]float64
	Count  int
	// CatchAll marks the bucket collecting records without any key value.
	CatchAll bool
}

// Result is an ordered bucket list plus the grand total.
type Result struct {
	Buckets []Bucket
	Total   Bucket
}

// Sum returns the bucket's total for field.
func (b Bucket) Sum(field string) float64 { return b.Sums[field] }

// Aggregate groups records according to spec. Missing or non-numeric sum
// fields contribute zero. Buckets are ordered ascending by SortBy (or the
// key) with locale-aware collation; the catch-all bucket always sorts last.
func Aggregate(records []record.RawRecord, spec Spec) Result {
	tag := spec.Language
	if tag == language.Und {
		tag = language.Indonesian
	}

	keep := fieldSet(spec.Keys, spec.Describe, spec.SortBy)

	var (
		buckets []*Bucket
		index   = make(map[string]*Bucket)
		total   = Bucket{Key: "Total", Sums: zeroSums(spec.Sums)}
	)

	for _, r := range records {
		parts := make([]string, len(spec.Keys))
		empty := true
		for i, k := range spec.Keys {
			parts[i] = strings.TrimSpace(r.String(k))
			if parts[i] != "" {
				empty = false
			}
		}

		key := CatchAllKey
		if !empty {
			key = strings.Join(parts, " / ")
		}

		b, ok := index[key]
		if !ok {
			b = &Bucket{
				Key:      key,
				KeyParts: parts,
				Values:   make(map[string]string, len(keep)),
				Sums:     zeroSums(spec.Sums),
				CatchAll: empty,
			}
			for _, f := range keep {
				b.Values[f] = r.String(f)
			}
			index[key] = b
			buckets = append(buckets, b)
		}

		b.Count++
		total.Count++
		for _, f := range spec.Sums {
			v := r.Number(f)
			b.Sums[f] += v
			total.Sums[f] += v
		}
	}

	col := collate.New(tag)
	sort.SliceStable(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if a.CatchAll != b.CatchAll {
			return b.CatchAll
		}
		if spec.SortBy != "" {
			return col.CompareString(a.Values[spec.SortBy], b.Values[spec.SortBy]) < 0
		}
		for k := range a.KeyParts {
			if c := col.CompareString(a.KeyParts[k], b.KeyParts[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})

	out := Result{Buckets: make([]Bucket, len(buckets)), Total: total}
	for i, b := range buckets {
		out.Buckets[i] = *b
	}
	logging.Aggregate("Aggregated %d records into %d buckets by %v", len(records), len(out.Buckets), spec.Keys)
	return out
}

func zeroSums(fields []string) map[string]float64 {
	m := make(map[string]float64, len(fields))
	for _, f := range fields {
		m[f] = 0
	}
	return m
}

func fieldSet(keys, describe []string, sortBy string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range keys {
		add(f)
	}
	for _, f := range describe {
		add(f)
	}
	add(sortBy)
	return out
}
