package canonstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gibsondevhouse/quilliam/internal/canon"
)

func (s *Store) AddPatch(ctx context.Context, universeID string, p canon.EntryPatch) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return errors.New("missing patch id")
	}
	if p.Status == "" {
		p.Status = canon.PatchPending
	}
	if p.CreatedAtUnixMs <= 0 {
		p.CreatedAtUnixMs = time.Now().UnixMilli()
	}
	ops, err := encodeJSON(p.Operations)
	if err != nil {
		return err
	}
	autoCommit := 0
	if p.AutoCommit {
		autoCommit = 1
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO entry_patches(
  id, universe_id, status, operations_json, source_kind, source_id,
  confidence, auto_commit, created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		p.ID, strings.TrimSpace(universeID), string(p.Status), ops,
		string(p.Source.Kind), p.Source.ID, p.Confidence, autoCommit,
		p.CreatedAtUnixMs, p.CreatedAtUnixMs,
	)
	return err
}

func (s *Store) GetPatch(ctx context.Context, id string) (*canon.EntryPatch, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("missing patch id")
	}

	var p canon.EntryPatch
	var status, ops, srcKind string
	var autoCommit int
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
SELECT id, status, operations_json, source_kind, source_id,
       confidence, auto_commit, created_at_unix_ms, updated_at_unix_ms
FROM entry_patches
WHERE id = ?
`, id).Scan(
		&p.ID, &status, &ops, &srcKind, &p.Source.ID,
		&p.Confidence, &autoCommit, &p.CreatedAtUnixMs, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Status = canon.PatchStatus(status)
	p.Source.Kind = canon.SourceKind(srcKind)
	p.AutoCommit = autoCommit != 0
	if strings.TrimSpace(ops) != "" {
		if err := json.Unmarshal([]byte(ops), &p.Operations); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (s *Store) ListPatches(ctx context.Context, universeID string, status canon.PatchStatus) ([]canon.EntryPatch, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `
SELECT id, status, operations_json, source_kind, source_id,
       confidence, auto_commit, created_at_unix_ms
FROM entry_patches
WHERE universe_id = ?
`
	args := []any{strings.TrimSpace(universeID)}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at_unix_ms DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canon.EntryPatch
	for rows.Next() {
		var p canon.EntryPatch
		var st, ops, srcKind string
		var autoCommit int
		if err := rows.Scan(
			&p.ID, &st, &ops, &srcKind, &p.Source.ID,
			&p.Confidence, &autoCommit, &p.CreatedAtUnixMs,
		); err != nil {
			return nil, err
		}
		p.Status = canon.PatchStatus(st)
		p.Source.Kind = canon.SourceKind(srcKind)
		p.AutoCommit = autoCommit != 0
		if strings.TrimSpace(ops) != "" {
			if err := json.Unmarshal([]byte(ops), &p.Operations); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePatchStatus records the single pending -> accepted|rejected
// transition. Patch rows are never deleted.
func (s *Store) UpdatePatchStatus(ctx context.Context, id string, status canon.PatchStatus) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing patch id")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE entry_patches
SET status = ?, updated_at_unix_ms = ?
WHERE id = ?
`, string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
