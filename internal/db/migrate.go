// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
)

// Migrations are additive-only and safe to run on every startup: tables are
// created when absent, and expected columns missing from the physical schema
// are added with a default and backfilled. Already-applied work is a no-op.

const createFeedings = `
CREATE TABLE IF NOT EXISTS feedings (
	id          TEXT PRIMARY KEY,
	amount      INTEGER NOT NULL CHECK(amount > 0),
	time        INTEGER NOT NULL,
	color       TEXT NOT NULL DEFAULT '',
	sync_status TEXT NOT NULL DEFAULT 'pending',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);`

const createDiapers = `
CREATE TABLE IF NOT EXISTS diapers (
	id          TEXT PRIMARY KEY,
	time        INTEGER NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT '',
	sync_status TEXT NOT NULL DEFAULT 'pending',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);`

const createKV = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_feedings_time ON feedings(time DESC);
CREATE INDEX IF NOT EXISTS idx_diapers_time ON diapers(time DESC);
CREATE INDEX IF NOT EXISTS idx_feedings_status ON feedings(sync_status);
CREATE INDEX IF NOT EXISTS idx_diapers_status ON diapers(sync_status);`

// columnSpec declares a column expected to exist, with the ALTER defaults used
// to add and backfill it on databases created by earlier versions.
type columnSpec struct {
	name       string
	definition string // type + default for ALTER TABLE ADD COLUMN
	backfill   string // value assigned to pre-existing rows
}

var expectedColumns = map[string][]columnSpec{
	"feedings": {
		{name: "color", definition: "TEXT NOT NULL DEFAULT ''", backfill: "''"},
		{name: "sync_status", definition: "TEXT NOT NULL DEFAULT 'pending'", backfill: "'pending'"},
		{name: "updated_at", definition: "INTEGER NOT NULL DEFAULT 0", backfill: "created_at"},
	},
	"diapers": {
		{name: "note", definition: "TEXT NOT NULL DEFAULT ''", backfill: "''"},
		{name: "color", definition: "TEXT NOT NULL DEFAULT ''", backfill: "''"},
		{name: "sync_status", definition: "TEXT NOT NULL DEFAULT 'pending'", backfill: "'pending'"},
		{name: "updated_at", definition: "INTEGER NOT NULL DEFAULT 0", backfill: "created_at"},
	},
}

// Migrate brings the physical schema up to date. Idempotent.
func Migrate(db *sql.DB) error {
	for _, stmt := range []string{createFeedings, createDiapers, createKV, createIndexes} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	for table, specs := range expectedColumns {
		existing, err := tableColumns(db, table)
		if err != nil {
			return fmt.Errorf("failed to inspect %s schema: %w", table, err)
		}
		for _, spec := range specs {
			if existing[spec.name] {
				continue
			}
			if err := addColumn(db, table, spec); err != nil {
				return fmt.Errorf("failed to migrate %s.%s: %w", table, spec.name, err)
			}
		}
	}

	return nil
}

// tableColumns returns the set of column names currently on a table.
func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// addColumn adds a missing column and backfills existing rows, atomically.
func addColumn(db *sql.DB, table string, spec columnSpec) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, spec.name, spec.definition)
	if _, err := tx.Exec(alter); err != nil {
		return err
	}

	backfill := fmt.Sprintf("UPDATE %s SET %s = %s", table, spec.name, spec.backfill)
	if _, err := tx.Exec(backfill); err != nil {
		return err
	}

	return tx.Commit()
}
