// Package canon defines the canonical knowledge-base model shared by the
// patch interpreter, the SQLite store and the continuity rule engine:
// entries, relations, mentions, culture data, continuity issues and the
// AI-authored entry patches that mutate them.
package canon

import (
	"sort"
	"strings"
)

// Entry types used across the corpus. EntryType stays a plain string in
// storage; these constants cover the types the rule engine cares about.
const (
	EntryTypeCharacter    = "character"
	EntryTypeLocation     = "location"
	EntryTypeCulture      = "culture"
	EntryTypeOrganization = "organization"
	EntryTypeReligion     = "religion"
	EntryTypeTimelineEvnt = "timeline_event"
	EntryTypeScene        = "scene"
)

type CanonStatus string

const (
	CanonStatusCanon     CanonStatus = "canon"
	CanonStatusDraft     CanonStatus = "draft"
	CanonStatusRetconned CanonStatus = "retconned"
)

// Entry is one canonical knowledge-base record.
type Entry struct {
	ID          string         `json:"id"`
	UniverseID  string         `json:"universe_id"`
	EntryType   string         `json:"entry_type"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	CanonStatus CanonStatus    `json:"canon_status"`
	Summary     string         `json:"summary,omitempty"`
	Body        string         `json:"body,omitempty"`
	Details     map[string]any `json:"details,omitempty"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

// Relation links two entries (e.g. character -> location "lives_in").
type Relation struct {
	ID              string `json:"id"`
	UniverseID      string `json:"universe_id"`
	FromID          string `json:"from_id"`
	ToID            string `json:"to_id"`
	Kind            string `json:"kind"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

// Mention records an entry being referenced from a scene.
type Mention struct {
	ID         string `json:"id"`
	UniverseID string `json:"universe_id"`
	EntryID    string `json:"entry_id"`
	SceneID    string `json:"scene_id"`
	Excerpt    string `json:"excerpt,omitempty"`
}

type MembershipKind string

const (
	MembershipPrimary      MembershipKind = "primary"
	MembershipDualHeritage MembershipKind = "dual_heritage"
)

// CultureMembership binds a character to a culture for a validity window
// expressed as timeline event references.
type CultureMembership struct {
	ID               string         `json:"id"`
	UniverseID       string         `json:"universe_id"`
	CharacterID      string         `json:"character_id"`
	CultureID        string         `json:"culture_id"`
	Kind             MembershipKind `json:"kind"`
	ValidFromEventID string         `json:"valid_from_event_id,omitempty"`
	ValidToEventID   string         `json:"valid_to_event_id,omitempty"`
}

// CultureVersion is an era snapshot of a culture/organization/religion
// entry.
type CultureVersion struct {
	ID              string         `json:"id"`
	UniverseID      string         `json:"universe_id"`
	EntryID         string         `json:"entry_id"`
	Era             string         `json:"era"`
	Snapshot        map[string]any `json:"snapshot,omitempty"`
	CreatedAtUnixMs int64          `json:"created_at_unix_ms"`
}

type IssueSeverity string

const (
	SeverityWarning IssueSeverity = "warning"
	SeverityBlocker IssueSeverity = "blocker"
)

type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueInReview IssueStatus = "in_review"
	IssueResolved IssueStatus = "resolved"
	IssueWontFix  IssueStatus = "wont_fix"
)

// Evidence is one reference backing a continuity issue.
type Evidence struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Excerpt string `json:"excerpt,omitempty"`
}

// ContinuityIssue persists indefinitely; only Status, Resolution and
// UpdatedAt change after creation.
type ContinuityIssue struct {
	ID          string        `json:"id"`
	UniverseID  string        `json:"universe_id"`
	Severity    IssueSeverity `json:"severity"`
	Status      IssueStatus   `json:"status"`
	CheckType   string        `json:"check_type"`
	Description string        `json:"description"`
	Evidence    []Evidence    `json:"evidence,omitempty"`
	Resolution  string        `json:"resolution,omitempty"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

// Fingerprint is the identity used for reconciliation across rule-engine
// runs. Two issues with the same check, description and evidence set (in
// any order) collide; the database ID does not participate.
func (i ContinuityIssue) Fingerprint() string {
	refs := make([]string, 0, len(i.Evidence))
	for _, ev := range i.Evidence {
		refs = append(refs, ev.Type+":"+ev.ID)
	}
	sort.Strings(refs)
	return i.CheckType + "::" + i.Description + "::" + strings.Join(refs, ",")
}

type PatchStatus string

const (
	PatchPending  PatchStatus = "pending"
	PatchAccepted PatchStatus = "accepted"
	PatchRejected PatchStatus = "rejected"
)

type SourceKind string

const (
	SourceChatMessage      SourceKind = "chat_message"
	SourceResearchArtifact SourceKind = "research_artifact"
	SourceSceneNode        SourceKind = "scene_node"
	SourceManual           SourceKind = "manual"
)

// SourceRef identifies the provenance of a patch.
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// EntryPatch bundles extracted operations for review. Created once,
// transitions pending -> accepted|rejected exactly once, never deleted.
type EntryPatch struct {
	ID              string      `json:"id"`
	Status          PatchStatus `json:"status"`
	Operations      []Operation `json:"operations"`
	Source          SourceRef   `json:"source"`
	Confidence      float64     `json:"confidence"`
	AutoCommit      bool        `json:"auto_commit"`
	CreatedAtUnixMs int64       `json:"created_at_unix_ms"`
}

// AutoCommitThreshold is the extraction-stage confidence at or above which
// a patch is recommended for auto-commit.
const AutoCommitThreshold = 0.85

// RecommendAutoCommit is advisory only: the interpreter never gates on it,
// the caller decides routing.
func RecommendAutoCommit(confidence float64) bool {
	return RecommendAutoCommitAt(confidence, AutoCommitThreshold)
}

// RecommendAutoCommitAt is RecommendAutoCommit with a caller-supplied
// threshold. Zero or negative falls back to AutoCommitThreshold.
func RecommendAutoCommitAt(confidence, threshold float64) bool {
	if threshold <= 0 {
		threshold = AutoCommitThreshold
	}
	return confidence >= threshold
}

// Slugify derives a canonical slug from an entry name.
func Slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var sb strings.Builder
	lastDash := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(sb.String(), "-")
}
