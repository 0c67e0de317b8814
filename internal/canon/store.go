package canon

import "context"

// Store is the storage capability interface the patch interpreter
// consumes. All methods may fail; the interpreter does not catch their
// failures, it propagates them to the caller (which leaves the patch
// pending since the status transition is the last step).
type Store interface {
	AddEntry(ctx context.Context, e Entry) error
	UpdateEntry(ctx context.Context, id string, fields map[string]any) error
	DeleteEntry(ctx context.Context, id string) error
	GetEntryByID(ctx context.Context, id string) (*Entry, error)

	AddEntryRelation(ctx context.Context, r Relation) error
	RemoveEntryRelation(ctx context.Context, fromID, toID, kind string) error

	AddContinuityIssue(ctx context.Context, issue ContinuityIssue) error
	UpdateContinuityIssueStatus(ctx context.Context, id string, status IssueStatus, resolution string) error

	AddCultureVersion(ctx context.Context, v CultureVersion) error

	UpdatePatchStatus(ctx context.Context, id string, status PatchStatus) error
}
