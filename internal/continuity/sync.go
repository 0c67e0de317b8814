package continuity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/gibsondevhouse/quilliam/internal/canon"
)

// IssueStore is the slice of the storage capability the reconciler needs.
type IssueStore interface {
	ListContinuityIssues(ctx context.Context, universeID string) ([]canon.ContinuityIssue, error)
	AddContinuityIssue(ctx context.Context, issue canon.ContinuityIssue) error
	UpdateContinuityIssueStatus(ctx context.Context, id string, status canon.IssueStatus, resolution string) error
}

// Recorder receives one revision record per ledger mutation. Optional.
type Recorder interface {
	RecordIssueRevision(action string, issueID string, detail map[string]any)
}

// Summary is the plain record surfaced after a sweep (badge/count UI).
type Summary struct {
	Detected        int   `json:"detected"`
	Created         int   `json:"created"`
	Reopened        int   `json:"reopened"`
	AutoResolved    int   `json:"auto_resolved"`
	OpenCount       int   `json:"open_count"`
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

// Syncer reconciles freshly detected issues against the persisted ledger.
type Syncer struct {
	Store     IssueStore
	Revisions Recorder
	Log       *slog.Logger
}

func (s *Syncer) logger() *slog.Logger {
	if s != nil && s.Log != nil {
		return s.Log
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Sync runs all checks over the context and reconciles the results against
// storage by fingerprint: unseen fingerprints create issues, previously
// resolved ones reopen, and still-open issues whose fingerprint is no
// longer detected auto-resolve. Running it twice with no underlying data
// change yields zero creates, reopens and auto-resolves on the second run.
func (s *Syncer) Sync(ctx context.Context, c Context) (Summary, error) {
	if s == nil || s.Store == nil {
		return Summary{}, fmt.Errorf("syncer not initialized")
	}
	log := s.logger()

	detected := RunChecks(c)
	existing, err := s.Store.ListContinuityIssues(ctx, c.UniverseID)
	if err != nil {
		return Summary{}, err
	}

	byFingerprint := make(map[string]*canon.ContinuityIssue, len(existing))
	status := make(map[string]canon.IssueStatus, len(existing))
	for i := range existing {
		issue := &existing[i]
		status[issue.ID] = issue.Status
		if _, ok := byFingerprint[issue.Fingerprint()]; !ok {
			byFingerprint[issue.Fingerprint()] = issue
		}
	}

	now := time.Now()
	sum := Summary{Detected: len(detected), UpdatedAtUnixMs: now.UnixMilli()}
	detectedFps := make(map[string]struct{}, len(detected))

	for _, d := range detected {
		fp := d.Fingerprint()
		if _, seen := detectedFps[fp]; seen {
			continue
		}
		detectedFps[fp] = struct{}{}

		ex, ok := byFingerprint[fp]
		if !ok {
			issue := d
			issue.ID = "ci_" + uuid.NewString()
			if issue.UniverseID == "" {
				issue.UniverseID = c.UniverseID
			}
			issue.Status = canon.IssueOpen
			issue.CreatedAtUnixMs = now.UnixMilli()
			issue.UpdatedAtUnixMs = now.UnixMilli()
			if err := s.Store.AddContinuityIssue(ctx, issue); err != nil {
				return Summary{}, err
			}
			s.record("issue_created", issue.ID, map[string]any{"check_type": issue.CheckType, "fingerprint": fp})
			status[issue.ID] = canon.IssueOpen
			sum.Created++
			continue
		}

		switch ex.Status {
		case canon.IssueResolved, canon.IssueWontFix:
			if err := s.Store.UpdateContinuityIssueStatus(ctx, ex.ID, canon.IssueOpen, ""); err != nil {
				return Summary{}, err
			}
			s.record("issue_reopened", ex.ID, map[string]any{"check_type": ex.CheckType, "fingerprint": fp})
			status[ex.ID] = canon.IssueOpen
			sum.Reopened++
		default:
			// Already open or in review: touched, no write.
		}
	}

	for i := range existing {
		ex := &existing[i]
		st := status[ex.ID]
		if st != canon.IssueOpen && st != canon.IssueInReview {
			continue
		}
		if _, ok := detectedFps[ex.Fingerprint()]; ok {
			continue
		}
		resolution := fmt.Sprintf("auto-resolved: no longer detected as of %s", now.UTC().Format(time.RFC3339))
		if err := s.Store.UpdateContinuityIssueStatus(ctx, ex.ID, canon.IssueResolved, resolution); err != nil {
			return Summary{}, err
		}
		s.record("issue_auto_resolved", ex.ID, map[string]any{"check_type": ex.CheckType})
		status[ex.ID] = canon.IssueResolved
		sum.AutoResolved++
	}

	for _, st := range status {
		if st == canon.IssueOpen || st == canon.IssueInReview {
			sum.OpenCount++
		}
	}

	log.Info("continuity sweep",
		"universe_id", c.UniverseID,
		"detected", sum.Detected,
		"created", sum.Created,
		"reopened", sum.Reopened,
		"auto_resolved", sum.AutoResolved,
		"open", sum.OpenCount,
	)
	return sum, nil
}

func (s *Syncer) record(action string, issueID string, detail map[string]any) {
	if s == nil || s.Revisions == nil {
		return
	}
	s.Revisions.RecordIssueRevision(action, issueID, detail)
}
