package canonstore

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("enable foreign_keys: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	if version < 1 {
		if err := applyV1(db); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version=%d`, schemaVersion)); err != nil {
		return fmt.Errorf("write user_version: %w", err)
	}
	return nil
}

func applyV1(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
  id                 TEXT PRIMARY KEY,
  universe_id        TEXT NOT NULL,
  entry_type         TEXT NOT NULL,
  name               TEXT NOT NULL,
  slug               TEXT NOT NULL,
  canon_status       TEXT NOT NULL,
  summary            TEXT NOT NULL DEFAULT '',
  body               TEXT NOT NULL DEFAULT '',
  details_json       TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_universe ON entries(universe_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_slug ON entries(universe_id, slug)`,

		`CREATE TABLE IF NOT EXISTS entry_relations (
  id                 TEXT PRIMARY KEY,
  universe_id        TEXT NOT NULL,
  from_id            TEXT NOT NULL,
  to_id              TEXT NOT NULL,
  kind               TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  UNIQUE(from_id, to_id, kind)
)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_universe ON entry_relations(universe_id)`,

		`CREATE TABLE IF NOT EXISTS mentions (
  id          TEXT PRIMARY KEY,
  universe_id TEXT NOT NULL,
  entry_id    TEXT NOT NULL,
  scene_id    TEXT NOT NULL,
  excerpt     TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_mentions_universe ON mentions(universe_id)`,

		`CREATE TABLE IF NOT EXISTS culture_memberships (
  id                 TEXT PRIMARY KEY,
  universe_id        TEXT NOT NULL,
  character_id       TEXT NOT NULL,
  culture_id         TEXT NOT NULL,
  kind               TEXT NOT NULL,
  valid_from_event_id TEXT NOT NULL DEFAULT '',
  valid_to_event_id  TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_universe ON culture_memberships(universe_id)`,

		`CREATE TABLE IF NOT EXISTS culture_versions (
  id                 TEXT PRIMARY KEY,
  universe_id        TEXT NOT NULL,
  entry_id           TEXT NOT NULL,
  era                TEXT NOT NULL DEFAULT '',
  snapshot_json      TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
)`,

		`CREATE TABLE IF NOT EXISTS continuity_issues (
  id                 TEXT PRIMARY KEY,
  universe_id        TEXT NOT NULL,
  severity           TEXT NOT NULL,
  status             TEXT NOT NULL,
  check_type         TEXT NOT NULL,
  description        TEXT NOT NULL DEFAULT '',
  evidence_json      TEXT NOT NULL DEFAULT '',
  resolution         TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_universe ON continuity_issues(universe_id, status)`,

		`CREATE TABLE IF NOT EXISTS entry_patches (
  id                 TEXT PRIMARY KEY,
  universe_id        TEXT NOT NULL,
  status             TEXT NOT NULL,
  operations_json    TEXT NOT NULL DEFAULT '',
  source_kind        TEXT NOT NULL DEFAULT '',
  source_id          TEXT NOT NULL DEFAULT '',
  confidence         REAL NOT NULL DEFAULT 0,
  auto_commit        INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_patches_universe ON entry_patches(universe_id, status)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
