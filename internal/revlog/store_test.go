package revlog

import (
	"strings"
	"testing"
)

func TestNewRequiresStateDir(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{StateDir: "   "}); err == nil {
		t.Fatal("expected error for missing StateDir")
	}
}

func TestAppendAndListNewestFirst(t *testing.T) {
	t.Parallel()
	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Append(Entry{Action: "patch_accepted", PatchID: "pt_1"})
	s.Append(Entry{Action: "changeset_rejected", ChangeSetID: "cs_2"})
	s.Append(Entry{Action: "issue_reopened", IssueID: "ci_3"})

	got, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Action != "issue_reopened" || got[2].Action != "patch_accepted" {
		t.Fatalf("unexpected order: %s .. %s", got[0].Action, got[2].Action)
	}
	if got[2].Status != "success" {
		t.Fatalf("status = %q, want default success", got[2].Status)
	}
	if got[2].CreatedAt == "" {
		t.Fatal("created_at not stamped")
	}
}

func TestListLimit(t *testing.T) {
	t.Parallel()
	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Append(Entry{Action: "patch_accepted"})
	}
	got, err := s.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestRecordIssueRevision(t *testing.T) {
	t.Parallel()
	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RecordIssueRevision("issue_auto_resolved", "ci_9", map[string]any{"note": "no longer detected"})

	got, err := s.List(1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].IssueID != "ci_9" || got[0].Action != "issue_auto_resolved" {
		t.Fatalf("entry = %+v", got[0])
	}
	if got[0].Detail["note"] != "no longer detected" {
		t.Fatalf("detail = %v", got[0].Detail)
	}
}

func TestRotationKeepsJournalReadable(t *testing.T) {
	t.Parallel()
	s, err := New(Options{StateDir: t.TempDir(), MaxBytes: 256, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pad := strings.Repeat("x", 120)
	for i := 0; i < 20; i++ {
		s.Append(Entry{Action: "patch_accepted", Detail: map[string]any{"pad": pad}})
	}

	got, err := s.List(1000)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("journal empty after rotation")
	}
	for _, e := range got {
		if e.Action != "patch_accepted" {
			t.Fatalf("corrupt entry after rotation: %+v", e)
		}
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	t.Parallel()
	var s *Store
	s.Append(Entry{Action: "noop"})
	s.RecordIssueRevision("noop", "ci_1", nil)
	got, err := s.List(10)
	if err != nil || got != nil {
		t.Fatalf("List on nil store = %v, %v", got, err)
	}
}
