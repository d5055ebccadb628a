package versioning

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// UnifiedDiff renders a `--- a/<path>` / `+++ b/<path>` headed diff between
// oldContent and newContent that lists every line of both versions with a
// ' ', '+' or '-' prefix (no @@ hunk headers), and returns the added/removed
// line counts alongside it (additions, deletions).
func UnifiedDiff(path string, oldContent, newContent []byte) (diff string, additions, deletions int) {
	dmp := diffmatchpatch.New()
	oldText, newText, lines := dmp.DiffLinesToChars(string(oldContent), string(newContent))
	diffs := dmp.DiffMain(oldText, newText, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var buf strings.Builder
	fmt.Fprintf(&buf, "--- a/%s\n+++ b/%s\n", path, path)
	for _, d := range diffs {
		for _, line := range splitKeepEmpty(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				additions++
				fmt.Fprintf(&buf, "+%s\n", line)
			case diffmatchpatch.DiffDelete:
				deletions++
				fmt.Fprintf(&buf, "-%s\n", line)
			case diffmatchpatch.DiffEqual:
				fmt.Fprintf(&buf, " %s\n", line)
			}
		}
	}
	return buf.String(), additions, deletions
}

func splitKeepEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
