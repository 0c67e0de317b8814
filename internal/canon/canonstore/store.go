// Package canonstore is the local SQLite-backed implementation of the
// canon storage capability interface.
//
// Notes:
//   - Data is scoped by universe_id so one database can hold several
//     projects side by side.
//   - WAL is enabled to support concurrent reads while writing (the UI
//     lists issues while a sweep persists).
package canonstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gibsondevhouse/quilliam/internal/canon"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- entries ---

func (s *Store) AddEntry(ctx context.Context, e canon.Entry) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.ID = strings.TrimSpace(e.ID)
	e.UniverseID = strings.TrimSpace(e.UniverseID)
	e.EntryType = strings.TrimSpace(e.EntryType)
	e.Name = strings.TrimSpace(e.Name)
	e.Slug = strings.TrimSpace(e.Slug)
	if e.ID == "" || e.Name == "" {
		return errors.New("invalid entry")
	}
	if e.Slug == "" {
		e.Slug = canon.Slugify(e.Name)
	}
	if e.CanonStatus == "" {
		e.CanonStatus = canon.CanonStatusDraft
	}
	now := time.Now().UnixMilli()
	if e.CreatedAtUnixMs <= 0 {
		e.CreatedAtUnixMs = now
	}
	if e.UpdatedAtUnixMs <= 0 {
		e.UpdatedAtUnixMs = e.CreatedAtUnixMs
	}
	details, err := encodeJSON(e.Details)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO entries(
  id, universe_id, entry_type, name, slug, canon_status,
  summary, body, details_json, created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		e.ID, e.UniverseID, e.EntryType, e.Name, e.Slug, string(e.CanonStatus),
		e.Summary, e.Body, details, e.CreatedAtUnixMs, e.UpdatedAtUnixMs,
	)
	return err
}

// UpdateEntry applies a partial field map to one entry. Known fields map
// onto their columns; a "details" map merges key-by-key into the stored
// details; any other field lands inside details under its own key (patches
// are AI-authored, unknown fields are kept rather than dropped).
func (s *Store) UpdateEntry(ctx context.Context, id string, fields map[string]any) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing entry id")
	}
	if len(fields) == 0 {
		return nil
	}

	e, err := s.GetEntryByID(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return sql.ErrNoRows
	}

	for key, val := range fields {
		switch normalizeFieldName(key) {
		case "name":
			if v, ok := val.(string); ok && strings.TrimSpace(v) != "" {
				e.Name = strings.TrimSpace(v)
			}
		case "slug":
			if v, ok := val.(string); ok && strings.TrimSpace(v) != "" {
				e.Slug = strings.TrimSpace(v)
			}
		case "summary":
			if v, ok := val.(string); ok {
				e.Summary = v
			}
		case "body":
			if v, ok := val.(string); ok {
				e.Body = v
			}
		case "entry_type":
			if v, ok := val.(string); ok && strings.TrimSpace(v) != "" {
				e.EntryType = strings.TrimSpace(v)
			}
		case "canon_status":
			if v, ok := val.(string); ok && strings.TrimSpace(v) != "" {
				e.CanonStatus = canon.CanonStatus(strings.TrimSpace(v))
			}
		case "details":
			m, ok := val.(map[string]any)
			if !ok {
				continue
			}
			if e.Details == nil {
				e.Details = make(map[string]any, len(m))
			}
			for k, v := range m {
				e.Details[k] = v
			}
		default:
			if e.Details == nil {
				e.Details = make(map[string]any, 1)
			}
			e.Details[key] = val
		}
	}
	e.UpdatedAtUnixMs = time.Now().UnixMilli()

	details, err := encodeJSON(e.Details)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE entries
SET entry_type = ?, name = ?, slug = ?, canon_status = ?,
    summary = ?, body = ?, details_json = ?, updated_at_unix_ms = ?
WHERE id = ?
`,
		e.EntryType, e.Name, e.Slug, string(e.CanonStatus),
		e.Summary, e.Body, details, e.UpdatedAtUnixMs, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing entry id")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	return err
}

func (s *Store) GetEntryByID(ctx context.Context, id string) (*canon.Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("missing entry id")
	}

	var e canon.Entry
	var status string
	var details string
	err := s.db.QueryRowContext(ctx, `
SELECT id, universe_id, entry_type, name, slug, canon_status,
       summary, body, details_json, created_at_unix_ms, updated_at_unix_ms
FROM entries
WHERE id = ?
`, id).Scan(
		&e.ID, &e.UniverseID, &e.EntryType, &e.Name, &e.Slug, &status,
		&e.Summary, &e.Body, &details, &e.CreatedAtUnixMs, &e.UpdatedAtUnixMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.CanonStatus = canon.CanonStatus(status)
	e.Details = decodeJSONMap(details)
	return &e, nil
}

func (s *Store) ListEntries(ctx context.Context, universeID string) ([]canon.Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	universeID = strings.TrimSpace(universeID)
	if universeID == "" {
		return nil, errors.New("missing universe_id")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, universe_id, entry_type, name, slug, canon_status,
       summary, body, details_json, created_at_unix_ms, updated_at_unix_ms
FROM entries
WHERE universe_id = ?
ORDER BY id ASC
`, universeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canon.Entry
	for rows.Next() {
		var e canon.Entry
		var status string
		var details string
		if err := rows.Scan(
			&e.ID, &e.UniverseID, &e.EntryType, &e.Name, &e.Slug, &status,
			&e.Summary, &e.Body, &details, &e.CreatedAtUnixMs, &e.UpdatedAtUnixMs,
		); err != nil {
			return nil, err
		}
		e.CanonStatus = canon.CanonStatus(status)
		e.Details = decodeJSONMap(details)
		out = append(out, e)
	}
	return out, rows.Err()
}

// normalizeFieldName maps wire field names (camelCase from AI payloads)
// onto column-ish names.
func normalizeFieldName(raw string) string {
	switch strings.TrimSpace(raw) {
	case "canonStatus", "canon_status":
		return "canon_status"
	case "entryType", "entry_type", "docType":
		return "entry_type"
	case "name", "slug", "summary", "body", "details":
		return strings.TrimSpace(raw)
	default:
		return ""
	}
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func decodeJSONMap(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
