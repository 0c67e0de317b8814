// Package changeset tracks pending AI-proposed edits per target and merges
// them over a committed base without clobbering sibling hunks.
package changeset

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gibsondevhouse/quilliam/internal/lineedit"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// ChangeSet is one reviewable unit of proposed edits. It is created once,
// transitions pending -> accepted|rejected exactly once, and is never
// deleted (resolved sets stay listed for audit).
type ChangeSet struct {
	ID              string              `json:"id"`
	Target          lineedit.FileTarget `json:"target"`
	Edits           []lineedit.Edit     `json:"edits"`
	Commentary      string              `json:"commentary,omitempty"`
	Status          Status              `json:"status"`
	CreatedAtUnixMs int64               `json:"created_at_unix_ms"`
}

type Options struct {
	Logger *slog.Logger

	// OnAllResolved fires after the last pending changeset of a
	// character/location/world target resolves, so the caller can discard
	// any separately tracked entity draft buffer for that key.
	OnAllResolved func(target lineedit.FileTarget)
}

// Engine holds, per target key, the committed base text, the arrival-order
// list of changesets, and a working copy with all pending edits applied.
//
// Methods run one at a time to completion; accept/reject on an unknown or
// already-resolved id is a silent no-op, which makes duplicate clicks and
// interleaved handlers safe without locks above this layer.
type Engine struct {
	log           *slog.Logger
	onAllResolved func(target lineedit.FileTarget)

	mu      sync.Mutex
	sets    map[string][]*ChangeSet
	base    map[string]string
	working map[string]string
	targets map[string]lineedit.FileTarget
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Engine{
		log:           logger,
		onAllResolved: opts.OnAllResolved,
		sets:          make(map[string][]*ChangeSet),
		base:          make(map[string]string),
		working:       make(map[string]string),
		targets:       make(map[string]lineedit.FileTarget),
	}
}

// SetBase seeds the committed base text for a target (persisted document
// content or entity field text). It refolds pending edits onto it.
func (e *Engine) SetBase(target lineedit.FileTarget, text string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := target.Key()
	e.base[key] = text
	e.targets[key] = target
	e.refoldLocked(key)
}

// Base returns the committed base text for a target key.
func (e *Engine) Base(key string) string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.base[key]
}

// WorkingCopy returns the target's base text with all pending edits
// applied in arrival order.
func (e *Engine) WorkingCopy(key string) string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if wc, ok := e.working[key]; ok {
		return wc
	}
	return e.base[key]
}

// ApplyIncoming registers a parsed edit block as a pending changeset and
// recomputes the target's working copy. The fold always starts from the
// committed base, never from the previous working copy, so partial renders
// cannot compound drift.
func (e *Engine) ApplyIncoming(target lineedit.FileTarget, edits []lineedit.Edit, commentary string) *ChangeSet {
	if e == nil || len(edits) == 0 {
		return nil
	}
	cs := &ChangeSet{
		ID:              "cs_" + uuid.NewString(),
		Target:          target,
		Edits:           edits,
		Commentary:      strings.TrimSpace(commentary),
		Status:          StatusPending,
		CreatedAtUnixMs: time.Now().UnixMilli(),
	}

	e.mu.Lock()
	key := target.Key()
	e.targets[key] = target
	e.sets[key] = append(e.sets[key], cs)
	e.refoldLocked(key)
	e.mu.Unlock()

	e.log.Debug("changeset registered", "changeset_id", cs.ID, "target", key, "edits", len(edits))
	return cs
}

// Accept commits exactly the named changeset's edits onto the committed
// base, then refolds the remaining pending changesets onto the new base.
// Sibling pending hunks are neither committed nor lost.
func (e *Engine) Accept(id string) {
	e.resolve(id, StatusAccepted)
}

// Reject marks the named changeset rejected and refolds the remaining
// pending changesets onto the unchanged base.
func (e *Engine) Reject(id string) {
	e.resolve(id, StatusRejected)
}

func (e *Engine) resolve(id string, status Status) {
	if e == nil || strings.TrimSpace(id) == "" {
		return
	}
	var released *lineedit.FileTarget

	e.mu.Lock()
	key, cs := e.findLocked(id)
	if cs == nil || cs.Status != StatusPending {
		e.mu.Unlock()
		return
	}
	if status == StatusAccepted {
		e.base[key] = lineedit.ApplyEdits(e.base[key], cs.Edits)
	}
	cs.Status = status
	e.refoldLocked(key)
	released = e.draftReleaseLocked(key)
	e.mu.Unlock()

	e.log.Debug("changeset resolved", "changeset_id", id, "status", string(status))
	if released != nil && e.onAllResolved != nil {
		e.onAllResolved(*released)
	}
}

// AcceptAll commits the target's current full working copy as the new base.
// All pending changesets are being accepted together, so fold order no
// longer matters for the result.
func (e *Engine) AcceptAll(key string) {
	if e == nil {
		return
	}
	var released *lineedit.FileTarget

	e.mu.Lock()
	if wc, ok := e.working[key]; ok {
		e.base[key] = wc
	}
	for _, cs := range e.sets[key] {
		if cs.Status == StatusPending {
			cs.Status = StatusAccepted
		}
	}
	e.refoldLocked(key)
	released = e.draftReleaseLocked(key)
	e.mu.Unlock()

	if released != nil && e.onAllResolved != nil {
		e.onAllResolved(*released)
	}
}

// RejectAll discards all pending changesets for the target and resets the
// working copy to the committed base.
func (e *Engine) RejectAll(key string) {
	if e == nil {
		return
	}
	var released *lineedit.FileTarget

	e.mu.Lock()
	for _, cs := range e.sets[key] {
		if cs.Status == StatusPending {
			cs.Status = StatusRejected
		}
	}
	e.refoldLocked(key)
	released = e.draftReleaseLocked(key)
	e.mu.Unlock()

	if released != nil && e.onAllResolved != nil {
		e.onAllResolved(*released)
	}
}

// Pending returns the target's pending changesets in arrival order.
func (e *Engine) Pending(key string) []*ChangeSet {
	return e.filter(key, true)
}

// Resolved returns the target's accepted and rejected changesets in
// arrival order.
func (e *Engine) Resolved(key string) []*ChangeSet {
	return e.filter(key, false)
}

func (e *Engine) filter(key string, pending bool) []*ChangeSet {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*ChangeSet
	for _, cs := range e.sets[key] {
		if (cs.Status == StatusPending) == pending {
			out = append(out, cs)
		}
	}
	return out
}

// Keys returns every target key the engine has seen, pending or not.
func (e *Engine) Keys() []string {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.targets))
	for key := range e.targets {
		out = append(out, key)
	}
	return out
}

func (e *Engine) findLocked(id string) (string, *ChangeSet) {
	for key, list := range e.sets {
		for _, cs := range list {
			if cs.ID == id {
				return key, cs
			}
		}
	}
	return "", nil
}

func (e *Engine) refoldLocked(key string) {
	wc := e.base[key]
	for _, cs := range e.sets[key] {
		if cs.Status != StatusPending {
			continue
		}
		wc = lineedit.ApplyEdits(wc, cs.Edits)
	}
	e.working[key] = wc
}

// draftReleaseLocked reports the target whose entity draft buffer should be
// discarded: a non-document target with nothing pending anymore.
func (e *Engine) draftReleaseLocked(key string) *lineedit.FileTarget {
	target, ok := e.targets[key]
	if !ok || target.Kind == lineedit.TargetActive {
		return nil
	}
	for _, cs := range e.sets[key] {
		if cs.Status == StatusPending {
			return nil
		}
	}
	return &target
}
