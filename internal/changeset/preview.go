package changeset

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// PreviewDiff renders the target's pending state as a line diff between the
// committed base and the current working copy. Lines are prefixed with
// ' ' (unchanged), '-' (removed) or '+' (added). Empty when nothing is
// pending.
func (e *Engine) PreviewDiff(key string) string {
	if e == nil {
		return ""
	}
	base := e.Base(key)
	working := e.WorkingCopy(key)
	if base == working {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lineIndex := dmp.DiffLinesToChars(base, working)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineIndex)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(strings.TrimSuffix(line, "\n"))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
