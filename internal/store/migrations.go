package store

import (
	"database/sql"
	"fmt"

	"sipdmod/internal/logging"
)

// CurrentSchemaVersion is stored in PRAGMA user_version once Open succeeds.
//
//	v1  snapshots and runs
//	v2  snapshots.content_hash
//	v3  runs.source
const CurrentSchemaVersion = 3

// columnAdd upgrades a database to version by adding one column.
type columnAdd struct {
	version int
	table   string
	column  string
	def     string
}

var upgrades = []columnAdd{
	{2, "snapshots", "content_hash", "TEXT NOT NULL DEFAULT ''"},
	{3, "runs", "source", "TEXT NOT NULL DEFAULT 'remote'"},
}

// runMigrations brings a database written by an older build up to
// CurrentSchemaVersion and returns how many columns it added. initSchema has
// already created any missing table, so a fresh database only gets its
// version stamped.
func runMigrations(db *sql.DB) (int, error) {
	from, err := SchemaVersion(db)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, u := range upgrades {
		if from >= u.version || columnExists(db, u.table, u.column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", u.table, u.column, u.def)
		if _, err := db.Exec(stmt); err != nil {
			return added, fmt.Errorf("migrate to v%d (%s.%s): %w", u.version, u.table, u.column, err)
		}
		logging.Store("Schema v%d: added %s.%s", u.version, u.table, u.column)
		added++
	}

	if from != CurrentSchemaVersion {
		// PRAGMA takes no bound parameters.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", CurrentSchemaVersion)); err != nil {
			return added, fmt.Errorf("set schema version: %w", err)
		}
	}
	return added, nil
}

func columnExists(db *sql.DB, table, column string) bool {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		logging.StoreDebug("Column lookup %s.%s: %v", table, column, err)
		return false
	}
	return n > 0
}

// SchemaVersion reads PRAGMA user_version.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
