// Package roster loads the writing workspace: one markdown file with YAML
// frontmatter per entity (characters/, locations/, world/). The roster is
// the lookup table edit targets resolve against and the source of each
// target's committed text.
package roster

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gibsondevhouse/quilliam/internal/lineedit"
)

type docFrontmatter struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Summary string   `yaml:"summary"`
}

// Document is one entity file. Body is the markdown below the frontmatter
// and is the committed text edits apply to.
type Document struct {
	Path    string
	Target  lineedit.FileTarget
	Name    string
	Aliases []string
	Summary string
	Body    string
}

// Roster indexes workspace documents by target key. Lookup is
// case-insensitive through lineedit.FileTarget.Key.
type Roster struct {
	docs    map[string]*Document // target key -> doc
	aliases map[string]string    // alias key -> target key
}

var kindDirs = map[string]lineedit.TargetKind{
	"characters": lineedit.TargetCharacter,
	"locations":  lineedit.TargetLocation,
	"world":      lineedit.TargetWorld,
}

// Load reads every .md file under the known workspace subdirectories.
// A missing subdirectory is fine; a duplicate entity name (after case
// folding) is not.
func Load(root string) (*Roster, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("missing workspace root")
	}

	r := &Roster{
		docs:    make(map[string]*Document),
		aliases: make(map[string]string),
	}

	dirs := make([]string, 0, len(kindDirs))
	for dir := range kindDirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		kind := kindDirs[dir]
		entries, err := os.ReadDir(filepath.Join(root, dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.ToLower(filepath.Ext(entry.Name())) != ".md" {
				continue
			}
			path := filepath.Join(root, dir, entry.Name())
			doc, err := parseDocument(path, kind)
			if err != nil {
				return nil, err
			}
			if err := r.add(doc); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Roster) add(doc *Document) error {
	key := doc.Target.Key()
	if _, exists := r.docs[key]; exists {
		return fmt.Errorf("%s: duplicate entity %q", doc.Path, doc.Name)
	}
	r.docs[key] = doc

	for _, alias := range doc.Aliases {
		aliasKey := lineedit.FileTarget{Kind: doc.Target.Kind, Name: alias}.Key()
		if aliasKey == key {
			continue
		}
		if _, exists := r.docs[aliasKey]; exists {
			return fmt.Errorf("%s: alias %q collides with an entity name", doc.Path, alias)
		}
		if prev, exists := r.aliases[aliasKey]; exists && prev != key {
			return fmt.Errorf("%s: alias %q claimed by two entities", doc.Path, alias)
		}
		r.aliases[aliasKey] = key
	}
	return nil
}

// Resolve maps an edit target onto a workspace document. Alias names
// resolve to their owner; the active target never resolves here (the
// active document lives in the editor, not the workspace).
func (r *Roster) Resolve(t lineedit.FileTarget) (*Document, bool) {
	if r == nil || t.Kind == lineedit.TargetActive || t.Kind == "" {
		return nil, false
	}
	key := t.Key()
	if doc, ok := r.docs[key]; ok {
		return doc, true
	}
	if owner, ok := r.aliases[key]; ok {
		return r.docs[owner], true
	}
	return nil, false
}

// Documents returns all loaded documents ordered by target key.
func (r *Roster) Documents() []*Document {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.docs))
	for k := range r.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Document, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.docs[k])
	}
	return out
}

func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.docs)
}

func parseDocument(path string, kind lineedit.TargetKind) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fmRaw, body, ok := splitFrontmatter(string(content))
	var fm docFrontmatter
	if ok {
		if err := yaml.Unmarshal([]byte(fmRaw), &fm); err != nil {
			return nil, fmt.Errorf("%s: invalid frontmatter: %w", path, err)
		}
	} else {
		body = string(content)
	}

	name := strings.TrimSpace(fm.Name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &Document{
		Path:    path,
		Target:  lineedit.FileTarget{Kind: kind, Name: name},
		Name:    name,
		Aliases: normalizeAliases(fm.Aliases),
		Summary: strings.TrimSpace(fm.Summary),
		Body:    strings.TrimPrefix(body, "\n"),
	}, nil
}

func splitFrontmatter(content string) (string, string, bool) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", normalized, false
	}
	rest := normalized[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return "", normalized, false
	}
	return rest[:idx], rest[idx+len("\n---\n"):], true
}

func normalizeAliases(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		lower := strings.ToLower(value)
		if _, exists := seen[lower]; exists {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
