// Package engine wires the streaming parser, the change-set engine, the
// patch interpreter and the continuity sweep into one service the editor
// process talks to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gibsondevhouse/quilliam/internal/canon"
	"github.com/gibsondevhouse/quilliam/internal/changeset"
	"github.com/gibsondevhouse/quilliam/internal/continuity"
	"github.com/gibsondevhouse/quilliam/internal/lineedit"
	"github.com/gibsondevhouse/quilliam/internal/revlog"
	"github.com/gibsondevhouse/quilliam/internal/roster"
	"github.com/gibsondevhouse/quilliam/internal/streamparse"
)

// Store is the persistence surface the service needs: the interpreter's
// capability interface plus patch bookkeeping and the corpus listings the
// continuity sweep reads.
type Store interface {
	canon.Store

	AddPatch(ctx context.Context, universeID string, p canon.EntryPatch) error
	GetPatch(ctx context.Context, id string) (*canon.EntryPatch, error)
	ListPatches(ctx context.Context, universeID string, status canon.PatchStatus) ([]canon.EntryPatch, error)

	ListEntries(ctx context.Context, universeID string) ([]canon.Entry, error)
	ListMentions(ctx context.Context, universeID string) ([]canon.Mention, error)
	ListCultureMemberships(ctx context.Context, universeID string) ([]canon.CultureMembership, error)
	ListContinuityIssues(ctx context.Context, universeID string) ([]canon.ContinuityIssue, error)
}

type Options struct {
	Logger *slog.Logger

	UniverseID string
	Store      Store
	Roster     *roster.Roster
	Revisions  *revlog.Store

	// AutoCommitThreshold overrides the confidence at or above which a
	// submitted patch is recommended for auto-commit. Zero means the
	// default.
	AutoCommitThreshold float64
}

type Service struct {
	log *slog.Logger

	universeID string
	store      Store
	roster     *roster.Roster
	revisions  *revlog.Store
	autoCommit float64

	changes *changeset.Engine
	interp  *canon.Interpreter
	syncer  *continuity.Syncer
}

func New(opts Options) (*Service, error) {
	if strings.TrimSpace(opts.UniverseID) == "" {
		return nil, errors.New("missing UniverseID")
	}
	if opts.Store == nil {
		return nil, errors.New("missing Store")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Service{
		log:        logger,
		universeID: strings.TrimSpace(opts.UniverseID),
		store:      opts.Store,
		roster:     opts.Roster,
		revisions:  opts.Revisions,
		autoCommit: opts.AutoCommitThreshold,
	}
	s.changes = changeset.New(changeset.Options{
		Logger: logger,
		OnAllResolved: func(target lineedit.FileTarget) {
			logger.Debug("entity draft released", "target", target.Key())
		},
	})
	s.interp = &canon.Interpreter{UniverseID: s.universeID, Log: logger}
	s.syncer = &continuity.Syncer{Store: opts.Store, Revisions: opts.Revisions, Log: logger}

	// Seed committed bases from the workspace so edits addressing entity
	// files fold over their real current text.
	for _, doc := range opts.Roster.Documents() {
		s.changes.SetBase(doc.Target, doc.Body)
	}
	return s, nil
}

// ChangeSets exposes the merge engine for review surfaces.
func (s *Service) ChangeSets() *changeset.Engine {
	if s == nil {
		return nil
	}
	return s.changes
}

// SetActiveDocument seeds the committed base for the currently open
// document. Call it before ingesting a response that edits the active file.
func (s *Service) SetActiveDocument(text string) {
	if s == nil {
		return
	}
	s.changes.SetBase(lineedit.ActiveTarget(), text)
}

// IngestResult is what one model response produced.
type IngestResult struct {
	// Text is the plain commentary transcript (edit fences excluded).
	Text string
	// ChangeSets lists the registered pending changesets in stream order.
	ChangeSets []*changeset.ChangeSet
	// UnknownTargets lists entity targets that did not resolve against the
	// workspace roster. Their changesets still register, folding over an
	// empty base.
	UnknownTargets []lineedit.FileTarget
}

// IngestResponse drives a streamed model response through the parser and
// registers every edit block as a pending changeset. Parsing is
// best-effort: a truncated stream yields whatever was recovered.
func (s *Service) IngestResponse(r io.Reader) (*IngestResult, error) {
	if s == nil {
		return nil, errors.New("nil service")
	}

	res := &IngestResult{}
	var transcript strings.Builder
	seenUnknown := make(map[string]bool)

	p := streamparse.New(r)
	for {
		ev, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read response stream: %w", err)
		}
		switch {
		case ev.Token != nil:
			transcript.WriteString(ev.Token.Text)
		case ev.Block != nil:
			target := ev.Block.Target
			if doc, ok := s.roster.Resolve(target); ok {
				// Canonical casing from the roster wins over the header's.
				target = doc.Target
			} else if target.Kind != lineedit.TargetActive {
				if key := target.Key(); !seenUnknown[key] {
					seenUnknown[key] = true
					res.UnknownTargets = append(res.UnknownTargets, target)
				}
				s.log.Warn("edit targets unknown entity", "target", target.Key())
			}
			cs := s.changes.ApplyIncoming(target, []lineedit.Edit{ev.Block.Edit}, ev.Block.Commentary)
			if cs != nil {
				res.ChangeSets = append(res.ChangeSets, cs)
			}
		}
	}

	res.Text = transcript.String()
	s.log.Info("response ingested",
		"changesets", len(res.ChangeSets),
		"unknown_targets", len(res.UnknownTargets))
	return res, nil
}

// AcceptChangeSet commits one changeset onto its target's base and
// journals the decision.
func (s *Service) AcceptChangeSet(id string) {
	if s == nil {
		return
	}
	s.changes.Accept(id)
	s.revisions.Append(revlog.Entry{
		Action:      "changeset_accepted",
		UniverseID:  s.universeID,
		ChangeSetID: id,
	})
}

// RejectChangeSet discards one changeset and journals the decision.
func (s *Service) RejectChangeSet(id string) {
	if s == nil {
		return
	}
	s.changes.Reject(id)
	s.revisions.Append(revlog.Entry{
		Action:      "changeset_rejected",
		UniverseID:  s.universeID,
		ChangeSetID: id,
	})
}

// SubmitPatch persists a freshly extracted patch as pending. The caller
// may route it straight to AcceptPatch when auto-commit is recommended.
func (s *Service) SubmitPatch(ctx context.Context, p canon.EntryPatch) (*canon.EntryPatch, error) {
	if s == nil {
		return nil, errors.New("nil service")
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = "pt_" + uuid.NewString()
	}
	p.Status = canon.PatchPending
	if p.CreatedAtUnixMs <= 0 {
		p.CreatedAtUnixMs = time.Now().UnixMilli()
	}
	p.AutoCommit = canon.RecommendAutoCommitAt(p.Confidence, s.autoCommit)

	if err := s.store.AddPatch(ctx, s.universeID, p); err != nil {
		return nil, fmt.Errorf("persist patch: %w", err)
	}
	s.revisions.Append(revlog.Entry{
		Action:     "patch_submitted",
		UniverseID: s.universeID,
		PatchID:    p.ID,
		Detail:     map[string]any{"operations": len(p.Operations), "auto_commit": p.AutoCommit},
	})
	return &p, nil
}

// AcceptPatch runs the patch's operations against the store, journals the
// outcome and follows up with a continuity sweep. A store failure leaves
// the patch pending and skips the sweep.
func (s *Service) AcceptPatch(ctx context.Context, id string) (continuity.Summary, error) {
	if s == nil {
		return continuity.Summary{}, errors.New("nil service")
	}
	p, err := s.loadPendingPatch(ctx, id)
	if err != nil {
		return continuity.Summary{}, err
	}

	if err := s.interp.Apply(ctx, s.store, p); err != nil {
		s.revisions.Append(revlog.Entry{
			Action:     "patch_accept_failed",
			Status:     "failure",
			Error:      err.Error(),
			UniverseID: s.universeID,
			PatchID:    id,
		})
		return continuity.Summary{}, fmt.Errorf("apply patch %s: %w", id, err)
	}
	s.revisions.Append(revlog.Entry{
		Action:     "patch_accepted",
		UniverseID: s.universeID,
		PatchID:    id,
	})
	return s.Sweep(ctx)
}

// RejectPatch records the rejection; canonical data is untouched, so no
// sweep follows.
func (s *Service) RejectPatch(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("nil service")
	}
	p, err := s.loadPendingPatch(ctx, id)
	if err != nil {
		return err
	}
	if err := s.interp.Reject(ctx, s.store, p); err != nil {
		return fmt.Errorf("reject patch %s: %w", id, err)
	}
	s.revisions.Append(revlog.Entry{
		Action:     "patch_rejected",
		UniverseID: s.universeID,
		PatchID:    id,
	})
	return nil
}

func (s *Service) loadPendingPatch(ctx context.Context, id string) (*canon.EntryPatch, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("missing patch id")
	}
	p, err := s.store.GetPatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load patch %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("patch %s not found", id)
	}
	if p.Status != canon.PatchPending {
		return nil, fmt.Errorf("patch %s already %s", id, p.Status)
	}
	return p, nil
}

// PendingPatches lists patches awaiting review, newest first.
func (s *Service) PendingPatches(ctx context.Context) ([]canon.EntryPatch, error) {
	if s == nil {
		return nil, errors.New("nil service")
	}
	return s.store.ListPatches(ctx, s.universeID, canon.PatchPending)
}

// Sweep loads the canonical corpus, runs every continuity check and
// reconciles the issue ledger.
func (s *Service) Sweep(ctx context.Context) (continuity.Summary, error) {
	if s == nil {
		return continuity.Summary{}, errors.New("nil service")
	}
	cc, err := s.loadContext(ctx)
	if err != nil {
		return continuity.Summary{}, err
	}
	return s.syncer.Sync(ctx, cc)
}

// OpenIssues lists unresolved continuity issues for the badge surface.
func (s *Service) OpenIssues(ctx context.Context) ([]canon.ContinuityIssue, error) {
	if s == nil {
		return nil, errors.New("nil service")
	}
	all, err := s.store.ListContinuityIssues(ctx, s.universeID)
	if err != nil {
		return nil, err
	}
	var out []canon.ContinuityIssue
	for _, issue := range all {
		if issue.Status == canon.IssueOpen || issue.Status == canon.IssueInReview {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (s *Service) loadContext(ctx context.Context) (continuity.Context, error) {
	entries, err := s.store.ListEntries(ctx, s.universeID)
	if err != nil {
		return continuity.Context{}, fmt.Errorf("load entries: %w", err)
	}
	mentions, err := s.store.ListMentions(ctx, s.universeID)
	if err != nil {
		return continuity.Context{}, fmt.Errorf("load mentions: %w", err)
	}
	memberships, err := s.store.ListCultureMemberships(ctx, s.universeID)
	if err != nil {
		return continuity.Context{}, fmt.Errorf("load culture memberships: %w", err)
	}
	return continuity.Context{
		UniverseID:         s.universeID,
		Entries:            entries,
		Mentions:           mentions,
		CultureMemberships: memberships,
	}, nil
}
