package poster

import (
	"github.com/sanix-darker/mpr/internal/diffparse"
)

// filePositions is the replayed patch for one file: for every line number
// on the new (right) side that the patch actually touches, whether it is
// an added line or merely diff context, and its mapped old-side line
// number (0 when the line has no old-side counterpart, i.e. it was
// added).
type filePositions struct {
	oldByNew map[int]int
	isAdded  map[int]bool
}

// buildPositions replays changes' hunks to map a (file, line) target onto
// its position within the PR's unified diff: a target line must appear
// as an added-or-context line in the replayed patch, with no further
// heuristic snapping.
func buildPositions(changes []diffparse.FileChange) map[string]filePositions {
	out := make(map[string]filePositions, len(changes))
	for _, c := range changes {
		name := c.NewName
		if name == "" {
			continue
		}
		fp, ok := out[name]
		if !ok {
			fp = filePositions{oldByNew: make(map[int]int), isAdded: make(map[int]bool)}
		}
		for _, h := range c.Hunks {
			for _, l := range h.Lines {
				if l.NewLineNo <= 0 {
					continue // pure deletions carry no new-side line
				}
				fp.oldByNew[l.NewLineNo] = l.OldLineNo
				fp.isAdded[l.NewLineNo] = l.Type == diffparse.LineAdded
			}
		}
		out[name] = fp
	}
	return out
}

// resolvePosition reports whether (file, line) is present in the
// replayed patch as an added or context line, and if so its old-side
// line (0 for a pure addition).
func resolvePosition(positions map[string]filePositions, file string, line int) (oldLine int, ok bool) {
	fp, ok := positions[file]
	if !ok {
		return 0, false
	}
	if _, present := fp.oldByNew[line]; !present {
		return 0, false
	}
	return fp.oldByNew[line], true
}
