// Package store caches fetched report months in SQLite so exports and
// summaries can be rebuilt without another round of remote calls.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"sipdmod/internal/logging"
	"sipdmod/internal/record"
)

// ErrNotFound is returned when no snapshot exists for a scope and month.
var ErrNotFound = errors.New("snapshot not found")

// Source values for Run.Source.
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
)

// Snapshot is the cached response of one month.
type Snapshot struct {
	Scope     string
	Month     int
	RunID     string
	FetchedAt time.Time
	Records   []record.RawRecord
	Hash      string
}

// Run is one entry of the fetch log.
type Run struct {
	ID        string
	Scope     string
	From, To  int
	StartedAt time.Time
	Elapsed   time.Duration
	Records   int
	Source    string
	Err       string
}

// Store is a SQLite-backed snapshot cache.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the snapshot database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		scope TEXT NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		run_id TEXT NOT NULL,
		fetched_at DATETIME NOT NULL,
		record_count INTEGER NOT NULL,
		payload TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (scope, month)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		from_month INTEGER NOT NULL,
		to_month INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		records INTEGER NOT NULL,
		source TEXT NOT NULL DEFAULT 'remote',
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func hashPayload(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SaveRun records run and upserts its snapshots in one transaction. A
// snapshot whose content is unchanged keeps its row and only gets the new
// run id and time.
func (s *Store) SaveRun(ctx context.Context, run Run, snaps []Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Source == "" {
		run.Source = SourceRemote
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var runErr any
	if run.Err != "" {
		runErr = run.Err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, scope, from_month, to_month, started_at, elapsed_ms, records, source, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Scope, run.From, run.To, run.StartedAt.UTC(), run.Elapsed.Milliseconds(), run.Records, run.Source, runErr)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	unchanged := 0
	for _, snap := range snaps {
		recs := snap.Records
		if recs == nil {
			recs = []record.RawRecord{}
		}
		payload, err := json.Marshal(recs)
		if err != nil {
			return fmt.Errorf("month %d: encode: %w", snap.Month, err)
		}
		hash := hashPayload(payload)

		var prev string
		err = tx.QueryRowContext(ctx, `SELECT content_hash FROM snapshots WHERE scope = ? AND month = ?`,
			snap.Scope, snap.Month).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("month %d: %w", snap.Month, err)
		}
		if prev == hash {
			unchanged++
		}

		fetched := snap.FetchedAt
		if fetched.IsZero() {
			fetched = run.StartedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (scope, month, run_id, fetched_at, record_count, payload, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(scope, month) DO UPDATE SET
				run_id = excluded.run_id,
				fetched_at = excluded.fetched_at,
				record_count = excluded.record_count,
				payload = excluded.payload,
				content_hash = excluded.content_hash
		`, snap.Scope, snap.Month, run.ID, fetched.UTC(), len(recs), string(payload), hash)
		if err != nil {
			return fmt.Errorf("month %d: failed to save snapshot: %w", snap.Month, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	logging.Store("Saved run %s: scope=%s months=%d-%d snapshots=%d unchanged=%d",
		run.ID, run.Scope, run.From, run.To, len(snaps), unchanged)
	return nil
}

// LoadMonth returns the cached snapshot of scope and month.
func (s *Store) LoadMonth(ctx context.Context, scope string, month int) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Scope: scope, Month: month}
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, fetched_at, payload, content_hash FROM snapshots WHERE scope = ? AND month = ?
	`, scope, month).Scan(&snap.RunID, &snap.FetchedAt, &payload, &snap.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("scope %s month %d: %w", scope, month, ErrNotFound)
	}
	if err != nil {
		return snap, fmt.Errorf("failed to load snapshot: %w", err)
	}

	recs, err := decodeRecords(payload)
	if err != nil {
		return snap, fmt.Errorf("scope %s month %d: %w", scope, month, err)
	}
	snap.Records = recs
	return snap, nil
}

// LoadRange returns the cached records of months from..to in month order.
// Months without a snapshot are listed in missing; their absence is not an
// error.
func (s *Store) LoadRange(ctx context.Context, scope string, from, to int) (recs []record.RawRecord, missing []int, err error) {
	for m := from; m <= to; m++ {
		snap, err := s.LoadMonth(ctx, scope, m)
		if errors.Is(err, ErrNotFound) {
			missing = append(missing, m)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, snap.Records...)
	}
	if len(missing) > 0 {
		logging.StoreDebug("Cache miss for scope %s: months %v", scope, missing)
	}
	return recs, missing, nil
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, scope, from_month, to_month, started_at, elapsed_ms, records, source, COALESCE(error, '')
		FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r  Run
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.Scope, &r.From, &r.To, &r.StartedAt, &ms, &r.Records, &r.Source, &r.Err); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Elapsed = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeRecords(payload string) ([]record.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	var recs []record.RawRecord
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return recs, nil
}
