package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gibsondevhouse/quilliam/internal/lineedit"
)

func writeDoc(t *testing.T, root, dir, name, content string) {
	t.Helper()
	full := filepath.Join(root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(full, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadAndResolve(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeDoc(t, root, "characters", "mira.md", "---\nname: Mira Senn\naliases:\n  - Mira\n  - The Cartographer\nsummary: smuggler turned cartographer\n---\nMira grew up on the docks.\n")
	writeDoc(t, root, "locations", "harbor.md", "---\nname: Harbor District\n---\nThe harbor never sleeps.\n")

	r, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	doc, ok := r.Resolve(lineedit.CharacterTarget("mira senn"))
	if !ok {
		t.Fatal("case-insensitive name lookup failed")
	}
	if doc.Name != "Mira Senn" {
		t.Fatalf("name = %q", doc.Name)
	}
	if doc.Summary != "smuggler turned cartographer" {
		t.Fatalf("summary = %q", doc.Summary)
	}
	if !strings.Contains(doc.Body, "docks") {
		t.Fatalf("body = %q", doc.Body)
	}
	if strings.Contains(doc.Body, "---") {
		t.Fatalf("frontmatter leaked into body: %q", doc.Body)
	}

	if _, ok := r.Resolve(lineedit.LocationTarget("HARBOR DISTRICT")); !ok {
		t.Fatal("location lookup failed")
	}
}

func TestResolveAlias(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeDoc(t, root, "characters", "mira.md", "---\nname: Mira Senn\naliases:\n  - The Cartographer\n---\nbody\n")

	r, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc, ok := r.Resolve(lineedit.CharacterTarget("the cartographer"))
	if !ok {
		t.Fatal("alias lookup failed")
	}
	if doc.Name != "Mira Senn" {
		t.Fatalf("alias resolved to %q", doc.Name)
	}

	// Aliases are kind-scoped.
	if _, ok := r.Resolve(lineedit.LocationTarget("the cartographer")); ok {
		t.Fatal("alias leaked across kinds")
	}
}

func TestResolveActiveAlwaysMisses(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeDoc(t, root, "characters", "mira.md", "---\nname: Mira\n---\nbody\n")
	r, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := r.Resolve(lineedit.ActiveTarget()); ok {
		t.Fatal("active target must not resolve to a workspace doc")
	}
}

func TestMissingFrontmatterFallsBackToFilename(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeDoc(t, root, "world", "calendar.md", "The year has ten months.\n")

	r, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc, ok := r.Resolve(lineedit.WorldTarget("calendar"))
	if !ok {
		t.Fatal("filename-derived name lookup failed")
	}
	if doc.Body != "The year has ten months.\n" {
		t.Fatalf("body = %q", doc.Body)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeDoc(t, root, "characters", "a.md", "---\nname: Mira\n---\nx\n")
	writeDoc(t, root, "characters", "b.md", "---\nname: mira\n---\ny\n")

	if _, err := Load(root); err == nil {
		t.Fatal("expected duplicate entity error")
	}
}

func TestAliasCollidingWithNameRejected(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeDoc(t, root, "characters", "a.md", "---\nname: Mira\n---\nx\n")
	writeDoc(t, root, "characters", "b.md", "---\nname: Senn\naliases:\n  - MIRA\n---\ny\n")

	if _, err := Load(root); err == nil {
		t.Fatal("expected alias collision error")
	}
}

func TestMissingSubdirectoriesAreFine(t *testing.T) {
	t.Parallel()
	r, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestDocumentsOrdered(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeDoc(t, root, "characters", "z.md", "---\nname: Zef\n---\nx\n")
	writeDoc(t, root, "characters", "a.md", "---\nname: Ana\n---\nx\n")
	writeDoc(t, root, "locations", "h.md", "---\nname: Harbor\n---\nx\n")

	r, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	docs := r.Documents()
	if len(docs) != 3 {
		t.Fatalf("len = %d, want 3", len(docs))
	}
	if docs[0].Name != "Ana" || docs[1].Name != "Zef" || docs[2].Name != "Harbor" {
		t.Fatalf("order: %s, %s, %s", docs[0].Name, docs[1].Name, docs[2].Name)
	}
}
