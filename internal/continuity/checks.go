// Package continuity runs pure deterministic checks over the canonical
// corpus and reconciles the detected issues against the persisted ledger
// via content fingerprinting, so repeated sweeps never duplicate issues.
package continuity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gibsondevhouse/quilliam/internal/canon"
)

// Check type identifiers, stable across runs (they participate in the
// issue fingerprint).
const (
	CheckDuplicateName    = "duplicate_canonical_name"
	CheckBrokenMention    = "broken_mention_reference"
	CheckTimelineConflict = "conflicting_timeline_events"
	CheckCultureOverlap   = "culture_membership_overlap"
	CheckDeathBeforeScene = "death_before_appearance"
)

// Context is the read-only snapshot every check runs against.
type Context struct {
	UniverseID         string
	Entries            []canon.Entry
	Mentions           []canon.Mention
	CultureMemberships []canon.CultureMembership
}

// RunChecks runs every deterministic check and concatenates the results.
// Checks are read-only and order-independent; issues come back without IDs
// or timestamps (Sync assigns those on creation).
func RunChecks(c Context) []canon.ContinuityIssue {
	var out []canon.ContinuityIssue
	out = append(out, checkDuplicateNames(c)...)
	out = append(out, checkBrokenMentions(c)...)
	out = append(out, checkTimelineConflicts(c)...)
	out = append(out, checkCultureOverlaps(c)...)
	out = append(out, checkDeathBeforeAppearance(c)...)
	return out
}

// checkDuplicateNames flags canon entries sharing (entryType, slug).
func checkDuplicateNames(c Context) []canon.ContinuityIssue {
	groups := make(map[string][]canon.Entry)
	for _, e := range c.Entries {
		if e.CanonStatus != canon.CanonStatusCanon {
			continue
		}
		if e.Slug == "" {
			continue
		}
		key := e.EntryType + "|" + e.Slug
		groups[key] = append(groups[key], e)
	}

	keys := sortedKeys(groups)
	var out []canon.ContinuityIssue
	for _, key := range keys {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		evidence := make([]canon.Evidence, 0, len(members))
		for _, m := range members {
			evidence = append(evidence, canon.Evidence{Type: "entry", ID: m.ID, Excerpt: m.Name})
		}
		entryType, slug, _ := strings.Cut(key, "|")
		out = append(out, canon.ContinuityIssue{
			UniverseID:  c.UniverseID,
			Severity:    canon.SeverityWarning,
			CheckType:   CheckDuplicateName,
			Description: fmt.Sprintf("multiple canon %s entries share the name %q", entryType, slug),
			Evidence:    evidence,
		})
	}
	return out
}

// checkBrokenMentions flags mentions pointing at entries that no longer
// exist, one issue per mention.
func checkBrokenMentions(c Context) []canon.ContinuityIssue {
	known := make(map[string]struct{}, len(c.Entries))
	for _, e := range c.Entries {
		known[e.ID] = struct{}{}
	}

	var out []canon.ContinuityIssue
	for _, m := range c.Mentions {
		if m.EntryID == "" {
			continue
		}
		if _, ok := known[m.EntryID]; ok {
			continue
		}
		out = append(out, canon.ContinuityIssue{
			UniverseID:  c.UniverseID,
			Severity:    canon.SeverityWarning,
			CheckType:   CheckBrokenMention,
			Description: fmt.Sprintf("mention references missing entry %s", m.EntryID),
			Evidence:    []canon.Evidence{{Type: "mention", ID: m.ID, Excerpt: m.Excerpt}},
		})
	}
	return out
}

// checkTimelineConflicts groups timeline events by (lowercased name, day or
// date key) and flags groups with more than one distinct (summary, body)
// account.
func checkTimelineConflicts(c Context) []canon.ContinuityIssue {
	type group struct {
		name    string
		dayKey  string
		members []canon.Entry
	}
	groups := make(map[string]*group)
	for _, e := range c.Entries {
		if e.EntryType != canon.EntryTypeTimelineEvnt {
			continue
		}
		dayKey := timelineDayKey(e.Details)
		if dayKey == "" {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(e.Name))
		key := name + "|" + dayKey
		g, ok := groups[key]
		if !ok {
			g = &group{name: name, dayKey: dayKey}
			groups[key] = g
		}
		g.members = append(g.members, e)
	}

	keys := sortedKeys(groups)
	var out []canon.ContinuityIssue
	for _, key := range keys {
		g := groups[key]
		signatures := make(map[string]struct{})
		for _, m := range g.members {
			signatures[m.Summary+"\x00"+m.Body] = struct{}{}
		}
		if len(signatures) < 2 {
			continue
		}
		sort.Slice(g.members, func(i, j int) bool { return g.members[i].ID < g.members[j].ID })
		evidence := make([]canon.Evidence, 0, len(g.members))
		for _, m := range g.members {
			evidence = append(evidence, canon.Evidence{Type: "entry", ID: m.ID, Excerpt: m.Name})
		}
		out = append(out, canon.ContinuityIssue{
			UniverseID:  c.UniverseID,
			Severity:    canon.SeverityWarning,
			CheckType:   CheckTimelineConflict,
			Description: fmt.Sprintf("timeline event %q on %s has conflicting accounts", g.name, g.dayKey),
			Evidence:    evidence,
		})
	}
	return out
}

// checkCultureOverlaps flags characters whose primary culture memberships
// cover overlapping day ranges, one issue per overlapping pair.
func checkCultureOverlaps(c Context) []canon.ContinuityIssue {
	days := eventDayIndex(c.Entries)

	type window struct {
		m        canon.CultureMembership
		from, to int
	}
	byCharacter := make(map[string][]window)
	for _, m := range c.CultureMemberships {
		if m.Kind != canon.MembershipPrimary {
			continue
		}
		from, ok := days[m.ValidFromEventID]
		if !ok {
			continue
		}
		to := math.MaxInt
		if m.ValidToEventID != "" {
			to, ok = days[m.ValidToEventID]
			if !ok {
				continue
			}
		}
		byCharacter[m.CharacterID] = append(byCharacter[m.CharacterID], window{m: m, from: from, to: to})
	}

	chars := sortedKeys(byCharacter)
	var out []canon.ContinuityIssue
	for _, charID := range chars {
		windows := byCharacter[charID]
		sort.Slice(windows, func(i, j int) bool { return windows[i].m.ID < windows[j].m.ID })
		for i := 0; i < len(windows); i++ {
			for j := i + 1; j < len(windows); j++ {
				a, b := windows[i], windows[j]
				if a.from > b.to || b.from > a.to {
					continue
				}
				out = append(out, canon.ContinuityIssue{
					UniverseID: c.UniverseID,
					Severity:   canon.SeverityWarning,
					CheckType:  CheckCultureOverlap,
					Description: fmt.Sprintf("character %s has overlapping primary culture memberships %s and %s",
						charID, a.m.CultureID, b.m.CultureID),
					Evidence: []canon.Evidence{
						{Type: "membership", ID: a.m.ID},
						{Type: "membership", ID: b.m.ID},
					},
				})
			}
		}
	}
	return out
}

// checkDeathBeforeAppearance flags scenes whose linked event day falls on
// or after a present character's death day.
func checkDeathBeforeAppearance(c Context) []canon.ContinuityIssue {
	days := eventDayIndex(c.Entries)
	byID := make(map[string]canon.Entry, len(c.Entries))
	for _, e := range c.Entries {
		byID[e.ID] = e
	}

	var out []canon.ContinuityIssue
	for _, scene := range c.Entries {
		if scene.EntryType != canon.EntryTypeScene {
			continue
		}
		sceneDay, ok := days[detailString(scene.Details, "linkedEventId")]
		if !ok {
			continue
		}
		for _, charID := range detailStringList(scene.Details, "presentCharacters") {
			character, ok := byID[charID]
			if !ok {
				continue
			}
			deathDay, ok := days[detailString(character.Details, "deathEventId")]
			if !ok {
				continue
			}
			if deathDay > sceneDay {
				continue
			}
			out = append(out, canon.ContinuityIssue{
				UniverseID: c.UniverseID,
				Severity:   canon.SeverityBlocker,
				CheckType:  CheckDeathBeforeScene,
				Description: fmt.Sprintf("%s dies on day %d but appears in %q on day %d",
					character.Name, deathDay, scene.Name, sceneDay),
				Evidence: []canon.Evidence{
					{Type: "entry", ID: scene.ID, Excerpt: scene.Name},
					{Type: "entry", ID: character.ID, Excerpt: character.Name},
				},
			})
		}
	}
	return out
}

// eventDayIndex maps timeline-event entry ids to their day numbers.
func eventDayIndex(entries []canon.Entry) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		if e.EntryType != canon.EntryTypeTimelineEvnt {
			continue
		}
		if day, ok := detailInt(e.Details, "day"); ok {
			out[e.ID] = day
		}
	}
	return out
}

func timelineDayKey(details map[string]any) string {
	if day, ok := detailInt(details, "day"); ok {
		return fmt.Sprintf("day %d", day)
	}
	if date := detailString(details, "date"); date != "" {
		return date
	}
	return ""
}

func detailInt(details map[string]any, key string) (int, bool) {
	if details == nil {
		return 0, false
	}
	switch v := details[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func detailString(details map[string]any, key string) string {
	if details == nil {
		return ""
	}
	if v, ok := details[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func detailStringList(details map[string]any, key string) []string {
	if details == nil {
		return nil
	}
	var out []string
	switch v := details[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
