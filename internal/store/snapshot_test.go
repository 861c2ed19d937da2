package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipdmod/internal/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadMonth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []record.RawRecord{
		{"nomor_dokumen": "001", "nilai_realisasi": 1500000},
		{"nomor_dokumen": "002", "nilai_realisasi": "250000.5"},
	}
	err := s.SaveRun(ctx, Run{ID: "run-1", Scope: "498", From: 1, To: 1, Records: 2},
		[]Snapshot{{Scope: "498", Month: 1, Records: recs}})
	require.NoError(t, err)

	snap, err := s.LoadMonth(ctx, "498", 1)
	require.NoError(t, err)
	assert.Equal(t, "run-1", snap.RunID)
	assert.NotEmpty(t, snap.Hash)
	assert.False(t, snap.FetchedAt.IsZero())
	require.Len(t, snap.Records, 2)

	// Numbers come back as json.Number and still read as floats.
	assert.Equal(t, json.Number("1500000"), snap.Records[0]["nilai_realisasi"])
	assert.Equal(t, 1500000.0, snap.Records[0].Number("nilai_realisasi"))
	assert.Equal(t, 250000.5, snap.Records[1].Number("nilai_realisasi"))
}

func TestLoadMonthNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadMonth(context.Background(), "498", 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertReplacesMonth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []Snapshot{{Scope: "498", Month: 2, Records: []record.RawRecord{{"a": "1"}}}}
	second := []Snapshot{{Scope: "498", Month: 2, Records: []record.RawRecord{{"a": "2"}, {"a": "3"}}}}
	require.NoError(t, s.SaveRun(ctx, Run{ID: "r1", Scope: "498", From: 2, To: 2}, first))
	require.NoError(t, s.SaveRun(ctx, Run{ID: "r2", Scope: "498", From: 2, To: 2}, second))

	snap, err := s.LoadMonth(ctx, "498", 2)
	require.NoError(t, err)
	assert.Equal(t, "r2", snap.RunID)
	if diff := cmp.Diff([]record.RawRecord{{"a": "2"}, {"a": "3"}}, snap.Records); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestEmptyMonthIsCached(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, Run{Scope: "498", From: 4, To: 4}, []Snapshot{{Scope: "498", Month: 4}}))
	snap, err := s.LoadMonth(ctx, "498", 4)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
}

func TestLoadRangeReportsMissingMonths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snaps := []Snapshot{
		{Scope: "498", Month: 1, Records: []record.RawRecord{{"m": "1"}}},
		{Scope: "498", Month: 3, Records: []record.RawRecord{{"m": "3a"}, {"m": "3b"}}},
		{Scope: "999", Month: 2, Records: []record.RawRecord{{"m": "other"}}},
	}
	require.NoError(t, s.SaveRun(ctx, Run{Scope: "498", From: 1, To: 3}, snaps))

	recs, missing, err := s.LoadRange(ctx, "498", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, missing)
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.String("m")
	}
	assert.Equal(t, []string{"1", "3a", "3b"}, got)
}

func TestRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, Run{ID: "old", Scope: "498", From: 1, To: 2, StartedAt: base, Elapsed: 1500 * time.Millisecond, Records: 10}, nil))
	require.NoError(t, s.SaveRun(ctx, Run{ID: "new", Scope: "498", From: 1, To: 1, StartedAt: base.Add(time.Hour), Err: "boom", Source: SourceCache}, nil))

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "boom", runs[0].Err)
	assert.Equal(t, SourceCache, runs[0].Source)
	assert.Equal(t, "old", runs[1].ID)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Elapsed)
	assert.Equal(t, SourceRemote, runs[1].Source)
	assert.Empty(t, runs[1].Err)

	limited, err := s.Runs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "new", limited[0].ID)
}

func TestMigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE snapshots (
			scope TEXT NOT NULL, month INTEGER NOT NULL, run_id TEXT NOT NULL,
			fetched_at DATETIME NOT NULL, record_count INTEGER NOT NULL, payload TEXT NOT NULL,
			PRIMARY KEY (scope, month));
		CREATE TABLE runs (
			id TEXT PRIMARY KEY, scope TEXT NOT NULL, from_month INTEGER NOT NULL,
			to_month INTEGER NOT NULL, started_at DATETIME NOT NULL, elapsed_ms INTEGER NOT NULL,
			records INTEGER NOT NULL, error TEXT);
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, columnExists(s.db, "snapshots", "content_hash"))
	assert.True(t, columnExists(s.db, "runs", "source"))
	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)

	require.NoError(t, s.SaveRun(context.Background(), Run{Scope: "1", From: 1, To: 1},
		[]Snapshot{{Scope: "1", Month: 1, Records: []record.RawRecord{{"x": "y"}}}}))
}
