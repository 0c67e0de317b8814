package canon

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Interpreter applies accepted patches against a Store.
//
// Operations run sequentially in array order so later operations may depend
// on earlier ones' side effects (an add-relation may reference an entry
// created earlier in the same patch). There is no rollback: a store failure
// mid-loop leaves earlier operations applied and the patch pending.
type Interpreter struct {
	// UniverseID is the default scope for payloads that do not carry one.
	UniverseID string

	Log *slog.Logger
}

func (in *Interpreter) logger() *slog.Logger {
	if in != nil && in.Log != nil {
		return in.Log
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Apply runs every operation of the patch against the store, then
// transitions the patch to accepted. The transition runs unconditionally
// after the loop: patches are AI-authored and may be partially malformed,
// so unresolvable operations are skipped one at a time (best effort)
// rather than failing the whole patch.
func (in *Interpreter) Apply(ctx context.Context, store Store, p *EntryPatch) error {
	if p == nil {
		return nil
	}
	log := in.logger()

	// One timestamp for the whole patch keeps multi-op patches consistent.
	now := time.Now().UnixMilli()

	for i := range p.Operations {
		op := &p.Operations[i]
		applied, err := in.applyOne(ctx, store, op, now)
		if err != nil {
			return err
		}
		if !applied {
			log.Debug("patch operation skipped", "patch_id", p.ID, "index", i, "op", string(op.Kind))
		}
	}

	if err := store.UpdatePatchStatus(ctx, p.ID, PatchAccepted); err != nil {
		return err
	}
	p.Status = PatchAccepted
	return nil
}

// Reject transitions the patch to rejected. No operations are ever applied
// or rolled back on this path.
func (in *Interpreter) Reject(ctx context.Context, store Store, p *EntryPatch) error {
	if p == nil {
		return nil
	}
	if err := store.UpdatePatchStatus(ctx, p.ID, PatchRejected); err != nil {
		return err
	}
	p.Status = PatchRejected
	return nil
}

// applyOne dispatches a single operation to exactly one store capability.
// A false return means the payload was unresolvable and the operation was
// skipped.
func (in *Interpreter) applyOne(ctx context.Context, store Store, op *Operation, now int64) (bool, error) {
	switch op.Kind {
	case OpCreateEntry:
		e, ok := in.entryFromPayload(op, now)
		if !ok {
			return false, nil
		}
		return true, store.AddEntry(ctx, e)

	case OpUpdateEntry:
		if op.EntryID == "" || op.Field == "" {
			return false, nil
		}
		return true, store.UpdateEntry(ctx, op.EntryID, map[string]any{op.Field: op.NewValue})

	case OpAddRelation:
		if op.FromID == "" || op.ToID == "" {
			return false, nil
		}
		return true, store.AddEntryRelation(ctx, Relation{
			ID:              "rel_" + uuid.NewString(),
			UniverseID:      in.universeID(),
			FromID:          op.FromID,
			ToID:            op.ToID,
			Kind:            op.RelationKind,
			CreatedAtUnixMs: now,
		})

	case OpRemoveRelation:
		if op.FromID == "" || op.ToID == "" {
			return false, nil
		}
		return true, store.RemoveEntryRelation(ctx, op.FromID, op.ToID, op.RelationKind)

	case OpCreateIssue:
		if op.Issue == nil || strings.TrimSpace(op.Issue.Description) == "" {
			return false, nil
		}
		issue := *op.Issue
		if strings.TrimSpace(issue.ID) == "" {
			issue.ID = "ci_" + uuid.NewString()
		}
		if issue.UniverseID == "" {
			issue.UniverseID = in.universeID()
		}
		if issue.Status == "" {
			issue.Status = IssueOpen
		}
		if issue.Severity == "" {
			issue.Severity = SeverityWarning
		}
		issue.CreatedAtUnixMs = now
		issue.UpdatedAtUnixMs = now
		return true, store.AddContinuityIssue(ctx, issue)

	case OpResolveIssue:
		if op.IssueID == "" {
			return false, nil
		}
		return true, store.UpdateContinuityIssueStatus(ctx, op.IssueID, IssueResolved, op.Resolution)

	case OpCreateVersion:
		if op.EntryID == "" || op.Era == "" {
			return false, nil
		}
		return true, store.AddCultureVersion(ctx, CultureVersion{
			ID:              "cv_" + uuid.NewString(),
			UniverseID:      in.universeID(),
			EntryID:         op.EntryID,
			Era:             op.Era,
			Snapshot:        op.Snapshot,
			CreatedAtUnixMs: now,
		})

	case OpUpdateSceneLinks:
		if op.SceneID == "" {
			return false, nil
		}
		return true, store.UpdateEntry(ctx, op.SceneID, map[string]any{
			"details": map[string]any{"linkedSceneIds": op.LinkedSceneIDs},
		})

	case OpMarkRetcon:
		if op.EntryID == "" {
			return false, nil
		}
		return true, store.UpdateEntry(ctx, op.EntryID, map[string]any{
			"canon_status": string(CanonStatusRetconned),
			"details":      map[string]any{"retcon": map[string]any{"note": op.Note, "at": now}},
		})

	case OpMarkContradiction:
		if op.EntryID == "" {
			return false, nil
		}
		// Append-only side channel: read the existing list, append, write
		// the whole list back. Contradictions are never replaced or
		// deduplicated.
		entry, err := store.GetEntryByID(ctx, op.EntryID)
		if err != nil {
			return true, err
		}
		if entry == nil {
			return false, nil
		}
		var contradictions []any
		if entry.Details != nil {
			if raw, ok := entry.Details["contradictions"].([]any); ok {
				contradictions = raw
			}
		}
		contradictions = append(contradictions, map[string]any{"note": op.Note, "at": now})
		return true, store.UpdateEntry(ctx, op.EntryID, map[string]any{
			"details": map[string]any{"contradictions": contradictions},
		})

	case OpDelete:
		if op.EntryID == "" {
			return false, nil
		}
		return true, store.DeleteEntry(ctx, op.EntryID)

	default:
		return false, nil
	}
}

func (in *Interpreter) universeID() string {
	if in == nil {
		return ""
	}
	return strings.TrimSpace(in.UniverseID)
}

// entryFromPayload resolves a create payload into an Entry. A payload with
// no usable name is unresolvable.
func (in *Interpreter) entryFromPayload(op *Operation, now int64) (Entry, bool) {
	m := op.Entry
	if len(m) == 0 {
		return Entry{}, false
	}
	name := strField(m, "name")
	if name == "" {
		return Entry{}, false
	}

	e := Entry{
		ID:              strField(m, "id"),
		UniverseID:      strField(m, "universeId", "universe_id"),
		EntryType:       firstNonEmpty(op.EntryType, strField(m, "entryType", "entry_type", "docType")),
		Name:            name,
		Slug:            strField(m, "slug"),
		CanonStatus:     CanonStatus(strField(m, "canonStatus", "canon_status")),
		Summary:         strField(m, "summary"),
		Body:            strField(m, "body"),
		CreatedAtUnixMs: now,
		UpdatedAtUnixMs: now,
	}
	if details, ok := m["details"].(map[string]any); ok {
		e.Details = details
	}
	if e.ID == "" {
		e.ID = "en_" + uuid.NewString()
	}
	if e.UniverseID == "" {
		e.UniverseID = in.universeID()
	}
	if e.Slug == "" {
		e.Slug = Slugify(e.Name)
	}
	if e.CanonStatus == "" {
		e.CanonStatus = CanonStatusDraft
	}
	return e, true
}

func strField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok {
			v = strings.TrimSpace(v)
			if v != "" {
				return v
			}
		}
	}
	return ""
}
