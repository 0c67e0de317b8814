package canon

import (
	"encoding/json"
	"strings"
)

// OpKind is the canonical operation discriminator. Two historical naming
// schemes exist on the wire (create/update/add-relationship/... and
// create-entry/update-entry/add-relation/...); both normalize to these.
type OpKind string

const (
	OpCreateEntry       OpKind = "create-entry"
	OpUpdateEntry       OpKind = "update-entry"
	OpAddRelation       OpKind = "add-relation"
	OpRemoveRelation    OpKind = "remove-relation"
	OpCreateIssue       OpKind = "create-issue"
	OpResolveIssue      OpKind = "resolve-issue"
	OpCreateVersion     OpKind = "create-version"
	OpUpdateSceneLinks  OpKind = "update-scene-links"
	OpMarkRetcon        OpKind = "mark-retcon"
	OpMarkContradiction OpKind = "mark-contradiction"
	OpDelete            OpKind = "delete"
)

// Operation is the single canonical internal representation the
// interpreter sees. Normalization of legacy wire shapes happens in
// UnmarshalJSON; the interpreter never inspects raw payloads.
type Operation struct {
	Kind OpKind `json:"op"`

	// create-entry
	EntryType string         `json:"entryType,omitempty"`
	Entry     map[string]any `json:"entry,omitempty"`

	// update-entry / mark-retcon / mark-contradiction / delete /
	// resolve targeting
	EntryID  string `json:"entryId,omitempty"`
	Field    string `json:"field,omitempty"`
	OldValue any    `json:"oldValue,omitempty"`
	NewValue any    `json:"newValue,omitempty"`

	// add-relation / remove-relation
	FromID       string `json:"fromId,omitempty"`
	ToID         string `json:"toId,omitempty"`
	RelationKind string `json:"relationKind,omitempty"`

	// create-issue / resolve-issue
	Issue      *ContinuityIssue `json:"issue,omitempty"`
	IssueID    string           `json:"issueId,omitempty"`
	Resolution string           `json:"resolution,omitempty"`

	// create-version
	Era      string         `json:"era,omitempty"`
	Snapshot map[string]any `json:"snapshot,omitempty"`

	// update-scene-links
	SceneID        string   `json:"sceneId,omitempty"`
	LinkedSceneIDs []string `json:"linkedSceneIds,omitempty"`

	// mark-retcon / mark-contradiction
	Note string `json:"note,omitempty"`
}

// operationWire accepts both the legacy and the current field names.
type operationWire struct {
	Op string `json:"op"`

	EntryType string         `json:"entryType"`
	DocType   string         `json:"docType"` // legacy alias for entryType
	Entry     map[string]any `json:"entry"`
	Fields    map[string]any `json:"fields"` // legacy alias for entry

	EntryID  string `json:"entryId"`
	LegacyID string `json:"id"` // legacy alias for entryId
	Field    string `json:"field"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`

	FromID       string `json:"fromId"`
	SourceID     string `json:"sourceId"` // legacy alias for fromId
	ToID         string `json:"toId"`
	TargetID     string `json:"targetId"` // legacy alias for toId
	RelationKind string `json:"relationKind"`
	RelType      string `json:"relType"` // legacy alias for relationKind

	Issue      *ContinuityIssue `json:"issue"`
	IssueID    string           `json:"issueId"`
	Resolution string           `json:"resolution"`

	Era      string         `json:"era"`
	Snapshot map[string]any `json:"snapshot"`

	SceneID        string   `json:"sceneId"`
	LinkedSceneIDs []string `json:"linkedSceneIds"`

	Note string `json:"note"`
}

func (o *Operation) UnmarshalJSON(b []byte) error {
	var w operationWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*o = Operation{
		Kind:           normalizeOpName(w.Op),
		EntryType:      firstNonEmpty(w.EntryType, w.DocType),
		Entry:          firstMap(w.Entry, w.Fields),
		EntryID:        firstNonEmpty(w.EntryID, w.LegacyID),
		Field:          strings.TrimSpace(w.Field),
		OldValue:       w.OldValue,
		NewValue:       w.NewValue,
		FromID:         firstNonEmpty(w.FromID, w.SourceID),
		ToID:           firstNonEmpty(w.ToID, w.TargetID),
		RelationKind:   firstNonEmpty(w.RelationKind, w.RelType),
		Issue:          w.Issue,
		IssueID:        strings.TrimSpace(w.IssueID),
		Resolution:     strings.TrimSpace(w.Resolution),
		Era:            strings.TrimSpace(w.Era),
		Snapshot:       w.Snapshot,
		SceneID:        strings.TrimSpace(w.SceneID),
		LinkedSceneIDs: w.LinkedSceneIDs,
		Note:           strings.TrimSpace(w.Note),
	}
	return nil
}

// normalizeOpName maps both naming schemes onto the canonical kinds. An
// unrecognized name yields an empty kind, which the interpreter skips as
// an unresolvable operation rather than failing the whole patch.
func normalizeOpName(raw string) OpKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "create", "create-entry":
		return OpCreateEntry
	case "update", "update-entry":
		return OpUpdateEntry
	case "add-relationship", "add-relation":
		return OpAddRelation
	case "remove-relationship", "remove-relation":
		return OpRemoveRelation
	case "create-issue":
		return OpCreateIssue
	case "resolve-issue":
		return OpResolveIssue
	case "create-version":
		return OpCreateVersion
	case "update-scene-links":
		return OpUpdateSceneLinks
	case "mark-retcon":
		return OpMarkRetcon
	case "mark-contradiction":
		return OpMarkContradiction
	case "delete", "delete-entry":
		return OpDelete
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func firstMap(maps ...map[string]any) map[string]any {
	for _, m := range maps {
		if len(m) > 0 {
			return m
		}
	}
	return nil
}
