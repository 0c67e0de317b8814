package canonstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gibsondevhouse/quilliam/internal/canon"
)

func (s *Store) AddEntryRelation(ctx context.Context, r canon.Relation) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.ID = strings.TrimSpace(r.ID)
	r.FromID = strings.TrimSpace(r.FromID)
	r.ToID = strings.TrimSpace(r.ToID)
	r.Kind = strings.TrimSpace(r.Kind)
	if r.ID == "" || r.FromID == "" || r.ToID == "" || r.Kind == "" {
		return errors.New("invalid relation")
	}
	if r.CreatedAtUnixMs <= 0 {
		r.CreatedAtUnixMs = time.Now().UnixMilli()
	}

	// Re-adding an existing edge is a no-op, not an error.
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO entry_relations(id, universe_id, from_id, to_id, kind, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, r.ID, strings.TrimSpace(r.UniverseID), r.FromID, r.ToID, r.Kind, r.CreatedAtUnixMs)
	return err
}

func (s *Store) RemoveEntryRelation(ctx context.Context, fromID, toID, kind string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	fromID = strings.TrimSpace(fromID)
	toID = strings.TrimSpace(toID)
	kind = strings.TrimSpace(kind)
	if fromID == "" || toID == "" {
		return errors.New("invalid relation endpoints")
	}
	if kind == "" {
		_, err := s.db.ExecContext(ctx, `
DELETE FROM entry_relations WHERE from_id = ? AND to_id = ?
`, fromID, toID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM entry_relations WHERE from_id = ? AND to_id = ? AND kind = ?
`, fromID, toID, kind)
	return err
}

func (s *Store) ListEntryRelations(ctx context.Context, universeID string) ([]canon.Relation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, universe_id, from_id, to_id, kind, created_at_unix_ms
FROM entry_relations
WHERE universe_id = ?
ORDER BY created_at_unix_ms ASC, id ASC
`, strings.TrimSpace(universeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canon.Relation
	for rows.Next() {
		var r canon.Relation
		if err := rows.Scan(&r.ID, &r.UniverseID, &r.FromID, &r.ToID, &r.Kind, &r.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AddMention(ctx context.Context, m canon.Mention) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.ID = strings.TrimSpace(m.ID)
	m.EntryID = strings.TrimSpace(m.EntryID)
	m.SceneID = strings.TrimSpace(m.SceneID)
	if m.ID == "" || m.EntryID == "" || m.SceneID == "" {
		return errors.New("invalid mention")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO mentions(id, universe_id, entry_id, scene_id, excerpt)
VALUES(?, ?, ?, ?, ?)
`, m.ID, strings.TrimSpace(m.UniverseID), m.EntryID, m.SceneID, m.Excerpt)
	return err
}

func (s *Store) ListMentions(ctx context.Context, universeID string) ([]canon.Mention, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, universe_id, entry_id, scene_id, excerpt
FROM mentions
WHERE universe_id = ?
ORDER BY id ASC
`, strings.TrimSpace(universeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canon.Mention
	for rows.Next() {
		var m canon.Mention
		if err := rows.Scan(&m.ID, &m.UniverseID, &m.EntryID, &m.SceneID, &m.Excerpt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AddCultureMembership(ctx context.Context, m canon.CultureMembership) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.ID = strings.TrimSpace(m.ID)
	m.CharacterID = strings.TrimSpace(m.CharacterID)
	m.CultureID = strings.TrimSpace(m.CultureID)
	if m.ID == "" || m.CharacterID == "" || m.CultureID == "" {
		return errors.New("invalid culture membership")
	}
	if m.Kind == "" {
		m.Kind = canon.MembershipPrimary
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO culture_memberships(id, universe_id, character_id, culture_id, kind, valid_from_event_id, valid_to_event_id)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, m.ID, strings.TrimSpace(m.UniverseID), m.CharacterID, m.CultureID, string(m.Kind), m.ValidFromEventID, m.ValidToEventID)
	return err
}

func (s *Store) ListCultureMemberships(ctx context.Context, universeID string) ([]canon.CultureMembership, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, universe_id, character_id, culture_id, kind, valid_from_event_id, valid_to_event_id
FROM culture_memberships
WHERE universe_id = ?
ORDER BY id ASC
`, strings.TrimSpace(universeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canon.CultureMembership
	for rows.Next() {
		var m canon.CultureMembership
		var kind string
		if err := rows.Scan(&m.ID, &m.UniverseID, &m.CharacterID, &m.CultureID, &kind, &m.ValidFromEventID, &m.ValidToEventID); err != nil {
			return nil, err
		}
		m.Kind = canon.MembershipKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AddCultureVersion(ctx context.Context, v canon.CultureVersion) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	v.ID = strings.TrimSpace(v.ID)
	v.EntryID = strings.TrimSpace(v.EntryID)
	if v.ID == "" || v.EntryID == "" {
		return errors.New("invalid culture version")
	}
	if v.CreatedAtUnixMs <= 0 {
		v.CreatedAtUnixMs = time.Now().UnixMilli()
	}
	snapshot, err := encodeJSON(v.Snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO culture_versions(id, universe_id, entry_id, era, snapshot_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, v.ID, strings.TrimSpace(v.UniverseID), v.EntryID, strings.TrimSpace(v.Era), snapshot, v.CreatedAtUnixMs)
	return err
}
