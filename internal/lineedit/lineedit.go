package lineedit

import "strings"

// Kind discriminates the edit union.
type Kind string

const (
	KindReplace Kind = "replace"
	KindInsert  Kind = "insert"
	KindDelete  Kind = "delete"
)

// Edit is a single line-oriented edit against the current text at
// application time. Indices are 0-based; End is exclusive.
//
// Model output uses 1-based line numbers; the stream parser converts before
// an Edit is ever constructed. Never build an Edit from raw model numbers.
type Edit struct {
	Kind Kind `json:"kind"`

	// Start/End bound Replace and Delete.
	Start int `json:"start,omitempty"`
	End   int `json:"end,omitempty"`

	// AfterIndex positions Insert; -1 means prepend.
	AfterIndex int `json:"after_index,omitempty"`

	NewLines []string `json:"new_lines,omitempty"`
}

func Replace(start, end int, newLines []string) Edit {
	return Edit{Kind: KindReplace, Start: start, End: end, NewLines: newLines}
}

func Insert(afterIndex int, newLines []string) Edit {
	return Edit{Kind: KindInsert, AfterIndex: afterIndex, NewLines: newLines}
}

func Delete(start, end int) Edit {
	return Edit{Kind: KindDelete, Start: start, End: end}
}

// ApplyEdits splits base into lines, applies each edit in the order given,
// and rejoins. Edits within one change set are assumed non-overlapping and
// pre-ordered by the parser; overlapping edits yield order-dependent but
// deterministic results (known limitation, not corrected here).
func ApplyEdits(base string, edits []Edit) string {
	lines := strings.Split(base, "\n")
	for _, e := range edits {
		lines = applyOne(lines, e)
	}
	return strings.Join(lines, "\n")
}

func applyOne(lines []string, e Edit) []string {
	switch e.Kind {
	case KindReplace:
		start := clamp(e.Start, 0, len(lines))
		end := clamp(e.End, start, len(lines))
		return splice(lines, start, end, e.NewLines)
	case KindInsert:
		at := clamp(e.AfterIndex+1, 0, len(lines))
		return splice(lines, at, at, e.NewLines)
	case KindDelete:
		start := clamp(e.Start, 0, len(lines))
		end := clamp(e.End, start, len(lines))
		return splice(lines, start, end, nil)
	default:
		return lines
	}
}

func splice(lines []string, start, end int, insert []string) []string {
	out := make([]string, 0, len(lines)-(end-start)+len(insert))
	out = append(out, lines[:start]...)
	out = append(out, insert...)
	out = append(out, lines[end:]...)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
