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

func (s *Store) AddContinuityIssue(ctx context.Context, issue canon.ContinuityIssue) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	issue.ID = strings.TrimSpace(issue.ID)
	issue.CheckType = strings.TrimSpace(issue.CheckType)
	if issue.ID == "" || issue.CheckType == "" {
		return errors.New("invalid continuity issue")
	}
	if issue.Severity == "" {
		issue.Severity = canon.SeverityWarning
	}
	if issue.Status == "" {
		issue.Status = canon.IssueOpen
	}
	now := time.Now().UnixMilli()
	if issue.CreatedAtUnixMs <= 0 {
		issue.CreatedAtUnixMs = now
	}
	if issue.UpdatedAtUnixMs <= 0 {
		issue.UpdatedAtUnixMs = issue.CreatedAtUnixMs
	}
	evidence, err := encodeJSON(issue.Evidence)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO continuity_issues(
  id, universe_id, severity, status, check_type, description,
  evidence_json, resolution, created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		issue.ID, strings.TrimSpace(issue.UniverseID), string(issue.Severity), string(issue.Status),
		issue.CheckType, issue.Description, evidence, issue.Resolution,
		issue.CreatedAtUnixMs, issue.UpdatedAtUnixMs,
	)
	return err
}

func (s *Store) UpdateContinuityIssueStatus(ctx context.Context, id string, status canon.IssueStatus, resolution string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing issue id")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE continuity_issues
SET status = ?, resolution = ?, updated_at_unix_ms = ?
WHERE id = ?
`, string(status), resolution, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) ListContinuityIssues(ctx context.Context, universeID string) ([]canon.ContinuityIssue, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, universe_id, severity, status, check_type, description,
       evidence_json, resolution, created_at_unix_ms, updated_at_unix_ms
FROM continuity_issues
WHERE universe_id = ?
ORDER BY created_at_unix_ms ASC, id ASC
`, strings.TrimSpace(universeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canon.ContinuityIssue
	for rows.Next() {
		var issue canon.ContinuityIssue
		var severity, status, evidence string
		if err := rows.Scan(
			&issue.ID, &issue.UniverseID, &severity, &status, &issue.CheckType,
			&issue.Description, &evidence, &issue.Resolution,
			&issue.CreatedAtUnixMs, &issue.UpdatedAtUnixMs,
		); err != nil {
			return nil, err
		}
		issue.Severity = canon.IssueSeverity(severity)
		issue.Status = canon.IssueStatus(status)
		if strings.TrimSpace(evidence) != "" {
			_ = json.Unmarshal([]byte(evidence), &issue.Evidence)
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}
