package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Catalogs created before pattern scoring existed stop at version 1 and are
// brought forward here rather than handled row by row.
var migrations = []migration{
	{
		Version:     1,
		Description: "objects: tracked object catalog",
		SQL: `
CREATE TABLE objects (
    id            TEXT PRIMARY KEY,
    location      TEXT NOT NULL,
    tier          TEXT NOT NULL,
    last_access   INTEGER,
    access_count  INTEGER NOT NULL DEFAULT 0 CHECK (access_count >= 0),
    created_at    INTEGER NOT NULL
);

CREATE INDEX idx_objects_tier ON objects(tier);
`,
	},
	{
		Version:     2,
		Description: "objects: pattern_score for EWMA hotness",
		SQL: `
ALTER TABLE objects ADD COLUMN pattern_score REAL NOT NULL DEFAULT 0;
`,
	},
}

func (db *DB) migrate() error {
	return db.migrateTo(len(migrations))
}

// migrateTo applies migrations up to and including version.
func (db *DB) migrateTo(version int) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		if m.Version > version {
			break
		}
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
