package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gibsondevhouse/quilliam/internal/canon"
	"github.com/gibsondevhouse/quilliam/internal/canon/canonstore"
	"github.com/gibsondevhouse/quilliam/internal/changeset"
	"github.com/gibsondevhouse/quilliam/internal/lineedit"
	"github.com/gibsondevhouse/quilliam/internal/revlog"
	"github.com/gibsondevhouse/quilliam/internal/roster"
)

func ndjson(t *testing.T, fragments ...string) *strings.Reader {
	t.Helper()
	var sb strings.Builder
	for _, frag := range fragments {
		b, err := json.Marshal(map[string]any{"message": map[string]any{"content": frag}})
		if err != nil {
			t.Fatalf("marshal fragment: %v", err)
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return strings.NewReader(sb.String())
}

func newTestService(t *testing.T) (*Service, *revlog.Store) {
	t.Helper()

	ws := t.TempDir()
	charDir := filepath.Join(ws, "characters")
	if err := os.MkdirAll(charDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	doc := "---\nname: Mira Senn\n---\nMira grew up on the docks.\nShe keeps a knife in her boot.\n"
	if err := os.WriteFile(filepath.Join(charDir, "mira.md"), []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	r, err := roster.Load(ws)
	if err != nil {
		t.Fatalf("roster.Load: %v", err)
	}

	store, err := canonstore.Open(filepath.Join(t.TempDir(), "canon.db"))
	if err != nil {
		t.Fatalf("canonstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rev, err := revlog.New(revlog.Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("revlog.New: %v", err)
	}

	svc, err := New(Options{
		UniverseID: "u1",
		Store:      store,
		Roster:     r,
		Revisions:  rev,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, rev
}

func lastActions(t *testing.T, rev *revlog.Store, n int) []string {
	t.Helper()
	entries, err := rev.List(n)
	if err != nil {
		t.Fatalf("revlog List: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestNewRequiresUniverseAndStore(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{UniverseID: " "}); err == nil {
		t.Fatal("expected error for missing universe")
	}
	if _, err := New(Options{UniverseID: "u1"}); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestIngestResponseActiveDocument(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	svc.SetActiveDocument("Hello\nWorld\n")

	res, err := svc.IngestResponse(ndjson(t,
		"Tighten the opening.\n",
		"```edit line=1\nGreetings\n```\n",
		"Done.\n",
	))
	if err != nil {
		t.Fatalf("IngestResponse: %v", err)
	}
	if len(res.ChangeSets) != 1 {
		t.Fatalf("changesets = %d, want 1", len(res.ChangeSets))
	}
	cs := res.ChangeSets[0]
	if cs.Target.Kind != lineedit.TargetActive {
		t.Fatalf("target = %+v, want active", cs.Target)
	}
	if cs.Commentary != "Tighten the opening." {
		t.Fatalf("commentary = %q", cs.Commentary)
	}
	if res.Text != "Tighten the opening.\nDone.\n" {
		t.Fatalf("transcript = %q", res.Text)
	}
	if len(res.UnknownTargets) != 0 {
		t.Fatalf("unknown targets = %v", res.UnknownTargets)
	}

	wc := svc.ChangeSets().WorkingCopy(lineedit.ActiveKey)
	if !strings.HasPrefix(wc, "Greetings\nWorld") {
		t.Fatalf("working copy = %q", wc)
	}
	if base := svc.ChangeSets().Base(lineedit.ActiveKey); !strings.HasPrefix(base, "Hello") {
		t.Fatalf("base mutated before accept: %q", base)
	}
}

func TestIngestResponseEntityTargetFoldsOverRosterBody(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	// Header casing differs from the roster's; resolution is
	// case-insensitive and the roster's canonical target wins.
	res, err := svc.IngestResponse(ndjson(t,
		"```edit line=2 file=character:mira senn\nShe keeps two knives in her boots.\n```\n",
	))
	if err != nil {
		t.Fatalf("IngestResponse: %v", err)
	}
	if len(res.ChangeSets) != 1 {
		t.Fatalf("changesets = %d, want 1", len(res.ChangeSets))
	}

	key := lineedit.CharacterTarget("Mira Senn").Key()
	wc := svc.ChangeSets().WorkingCopy(key)
	if !strings.Contains(wc, "two knives") {
		t.Fatalf("working copy = %q", wc)
	}
	if !strings.Contains(wc, "docks") {
		t.Fatalf("roster body lost from working copy: %q", wc)
	}
}

func TestIngestResponseUnknownTargetStillRegisters(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	res, err := svc.IngestResponse(ndjson(t,
		"```edit line=0+ file=location:Harbor District\nThe harbor never sleeps.\n```\n",
	))
	if err != nil {
		t.Fatalf("IngestResponse: %v", err)
	}
	if len(res.UnknownTargets) != 1 {
		t.Fatalf("unknown targets = %v, want 1", res.UnknownTargets)
	}
	if len(res.ChangeSets) != 1 {
		t.Fatalf("changesets = %d, want 1", len(res.ChangeSets))
	}
	key := lineedit.LocationTarget("Harbor District").Key()
	if wc := svc.ChangeSets().WorkingCopy(key); !strings.Contains(wc, "never sleeps") {
		t.Fatalf("working copy = %q", wc)
	}
}

func TestAcceptChangeSetCommitsAndJournals(t *testing.T) {
	t.Parallel()
	svc, rev := newTestService(t)
	svc.SetActiveDocument("Hello\n")

	res, err := svc.IngestResponse(ndjson(t, "```edit line=1\nGoodbye\n```\n"))
	if err != nil {
		t.Fatalf("IngestResponse: %v", err)
	}
	svc.AcceptChangeSet(res.ChangeSets[0].ID)

	if base := svc.ChangeSets().Base(lineedit.ActiveKey); !strings.HasPrefix(base, "Goodbye") {
		t.Fatalf("base = %q, want committed edit", base)
	}
	if got := res.ChangeSets[0].Status; got != changeset.StatusAccepted {
		t.Fatalf("status = %q", got)
	}
	actions := lastActions(t, rev, 1)
	if len(actions) != 1 || actions[0] != "changeset_accepted" {
		t.Fatalf("journal = %v", actions)
	}
}

func TestPatchLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, rev := newTestService(t)

	p, err := svc.SubmitPatch(ctx, canon.EntryPatch{
		Operations: []canon.Operation{
			{Kind: canon.OpCreateEntry, EntryType: canon.EntryTypeCharacter,
				Entry: map[string]any{"id": "en_a", "name": "Mira Senn", "canonStatus": "canon"}},
			{Kind: canon.OpCreateEntry, EntryType: canon.EntryTypeCharacter,
				Entry: map[string]any{"id": "en_b", "name": "mira senn", "canonStatus": "canon"}},
		},
		Source:     canon.SourceRef{Kind: canon.SourceChatMessage, ID: "msg_1"},
		Confidence: 0.95,
	})
	if err != nil {
		t.Fatalf("SubmitPatch: %v", err)
	}
	if !p.AutoCommit {
		t.Fatal("confidence 0.95 should recommend auto-commit")
	}

	pending, err := svc.PendingPatches(ctx)
	if err != nil {
		t.Fatalf("PendingPatches: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	sum, err := svc.AcceptPatch(ctx, p.ID)
	if err != nil {
		t.Fatalf("AcceptPatch: %v", err)
	}
	// Both entries are canon and slugify to the same name: the sweep that
	// follows acceptance must surface the duplicate.
	if sum.Created != 1 {
		t.Fatalf("sweep created = %d, want 1", sum.Created)
	}
	if sum.OpenCount != 1 {
		t.Fatalf("sweep open = %d, want 1", sum.OpenCount)
	}

	open, err := svc.OpenIssues(ctx)
	if err != nil {
		t.Fatalf("OpenIssues: %v", err)
	}
	if len(open) != 1 || open[0].CheckType != "duplicate_canonical_name" {
		t.Fatalf("open issues = %+v", open)
	}

	pending, err = svc.PendingPatches(ctx)
	if err != nil {
		t.Fatalf("PendingPatches: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after accept = %d, want 0", len(pending))
	}

	// Accepting twice is rejected at the service layer.
	if _, err := svc.AcceptPatch(ctx, p.ID); err == nil {
		t.Fatal("expected error accepting a resolved patch")
	}

	actions := lastActions(t, rev, 10)
	joined := strings.Join(actions, ",")
	for _, want := range []string{"patch_submitted", "patch_accepted", "issue_created"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("journal missing %q: %v", want, actions)
		}
	}
}

func TestSubmitPatchHonorsConfiguredAutoCommitThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := canonstore.Open(filepath.Join(t.TempDir(), "canon.db"))
	if err != nil {
		t.Fatalf("canonstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	rev, err := revlog.New(revlog.Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("revlog.New: %v", err)
	}

	svc, err := New(Options{
		UniverseID:          "u1",
		Store:               store,
		Revisions:           rev,
		AutoCommitThreshold: 0.5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 0.6 is below the built-in default but above the configured threshold.
	p, err := svc.SubmitPatch(ctx, canon.EntryPatch{
		Operations: []canon.Operation{
			{Kind: canon.OpCreateEntry, EntryType: canon.EntryTypeCharacter,
				Entry: map[string]any{"name": "Mira Senn"}},
		},
		Source:     canon.SourceRef{Kind: canon.SourceManual},
		Confidence: 0.6,
	})
	if err != nil {
		t.Fatalf("SubmitPatch: %v", err)
	}
	if !p.AutoCommit {
		t.Fatal("confidence 0.6 should auto-commit at threshold 0.5")
	}

	p, err = svc.SubmitPatch(ctx, canon.EntryPatch{
		Operations: []canon.Operation{
			{Kind: canon.OpCreateEntry, EntryType: canon.EntryTypeCharacter,
				Entry: map[string]any{"name": "Tarek"}},
		},
		Source:     canon.SourceRef{Kind: canon.SourceManual},
		Confidence: 0.4,
	})
	if err != nil {
		t.Fatalf("SubmitPatch: %v", err)
	}
	if p.AutoCommit {
		t.Fatal("confidence 0.4 must not auto-commit at threshold 0.5")
	}
}

func TestRejectPatchLeavesCanonUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, rev := newTestService(t)

	p, err := svc.SubmitPatch(ctx, canon.EntryPatch{
		Operations: []canon.Operation{
			{Kind: canon.OpCreateEntry, EntryType: canon.EntryTypeCharacter,
				Entry: map[string]any{"id": "en_a", "name": "Mira Senn"}},
		},
		Source:     canon.SourceRef{Kind: canon.SourceManual},
		Confidence: 0.3,
	})
	if err != nil {
		t.Fatalf("SubmitPatch: %v", err)
	}
	if p.AutoCommit {
		t.Fatal("confidence 0.3 must not recommend auto-commit")
	}

	if err := svc.RejectPatch(ctx, p.ID); err != nil {
		t.Fatalf("RejectPatch: %v", err)
	}

	sum, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sum.Detected != 0 {
		t.Fatalf("detected = %d, want 0 (rejected patch applied nothing)", sum.Detected)
	}

	actions := lastActions(t, rev, 5)
	if !strings.Contains(strings.Join(actions, ","), "patch_rejected") {
		t.Fatalf("journal = %v", actions)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t)

	p, err := svc.SubmitPatch(ctx, canon.EntryPatch{
		Operations: []canon.Operation{
			{Kind: canon.OpCreateEntry, EntryType: canon.EntryTypeCharacter,
				Entry: map[string]any{"id": "en_a", "name": "Mira", "canonStatus": "canon"}},
			{Kind: canon.OpCreateEntry, EntryType: canon.EntryTypeCharacter,
				Entry: map[string]any{"id": "en_b", "name": "Mira", "canonStatus": "canon"}},
		},
		Source: canon.SourceRef{Kind: canon.SourceManual},
	})
	if err != nil {
		t.Fatalf("SubmitPatch: %v", err)
	}
	if _, err := svc.AcceptPatch(ctx, p.ID); err != nil {
		t.Fatalf("AcceptPatch: %v", err)
	}

	sum, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if sum.Created != 0 || sum.Reopened != 0 || sum.AutoResolved != 0 {
		t.Fatalf("second sweep mutated the ledger: %+v", sum)
	}
	if sum.OpenCount != 1 {
		t.Fatalf("open = %d, want 1", sum.OpenCount)
	}
}
