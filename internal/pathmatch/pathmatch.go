// Package pathmatch maps a PR's file set to a review Intensity via a
// configured list of (glob, intensity, description) rules.
package pathmatch

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/sanix-darker/mpr/internal/review"
)

// Rule is one configured path-intensity entry.
type Rule = review.PathIntensityRule

// Result is the outcome of matching a file set against the configured
// rules.
type Result struct {
	Intensity    review.Intensity
	MatchedPaths []string
	Reason       string
}

// Matcher memoizes per-file results so repeated calls with the same file
// list complete in sub-linear time relative to the rule count.
type Matcher struct {
	rules   []Rule
	def     review.Intensity
	mu      sync.Mutex
	perFile map[string]fileVerdict
}

type fileVerdict struct {
	intensity review.Intensity
	matched   bool
	rule      string
}

// New creates a Matcher for the given rule list and default intensity.
func New(rules []Rule, defaultIntensity review.Intensity) *Matcher {
	return &Matcher{
		rules:   rules,
		def:     defaultIntensity,
		perFile: make(map[string]fileVerdict),
	}
}

// Match computes the run intensity for the given file paths.
func (m *Matcher) Match(paths []string) Result {
	var matchedPaths []string
	best := review.Intensity("")
	var bestRuleDesc string

	for _, p := range paths {
		v := m.matchFile(p)
		if v.matched {
			matchedPaths = append(matchedPaths, p)
		}
		if v.intensity.Rank() > best.Rank() {
			best = v.intensity
			bestRuleDesc = v.rule
		}
	}

	if best == "" {
		best = m.def
		return Result{
			Intensity:    best,
			MatchedPaths: matchedPaths,
			Reason:       "no file matched a configured pattern; using default intensity",
		}
	}

	return Result{
		Intensity:    best,
		MatchedPaths: matchedPaths,
		Reason:       "matched by " + bestRuleDesc,
	}
}

// matchFile returns the highest-ranked intensity among all rules matching
// path, memoized.
func (m *Matcher) matchFile(path string) fileVerdict {
	m.mu.Lock()
	if v, ok := m.perFile[path]; ok {
		m.mu.Unlock()
		return v
	}
	m.mu.Unlock()

	best := fileVerdict{intensity: "", matched: false}
	for _, r := range m.rules {
		if Match(r.Glob, path) {
			if !best.matched || r.Intensity.Rank() > best.intensity.Rank() {
				desc := r.Description
				if desc == "" {
					desc = r.Glob
				}
				best = fileVerdict{intensity: r.Intensity, matched: true, rule: desc}
			}
		}
	}

	m.mu.Lock()
	m.perFile[path] = best
	m.mu.Unlock()
	return best
}

// Match reports whether path satisfies glob, supporting "**" as "match any
// number of path segments" in addition to filepath.Match's single-segment
// "*"/"?"/"[...]" syntax. There is no third-party glob library anywhere in
// the reference corpus (see DESIGN.md), so this extends the standard
// library's filepath.Match rather than introducing one.
func Match(glob, path string) bool {
	glob = filepath.ToSlash(glob)
	path = filepath.ToSlash(path)

	if !strings.Contains(glob, "**") {
		ok, err := filepath.Match(glob, path)
		return err == nil && ok
	}

	return matchDoubleStar(strings.Split(glob, "/"), strings.Split(path, "/"))
}

// matchDoubleStar matches segment-by-segment, letting a "**" segment
// consume zero or more path segments (backtracking over the possible
// splits).
func matchDoubleStar(globSegs, pathSegs []string) bool {
	if len(globSegs) == 0 {
		return len(pathSegs) == 0
	}
	head := globSegs[0]
	if head == "**" {
		if matchDoubleStar(globSegs[1:], pathSegs) {
			return true
		}
		if len(pathSegs) == 0 {
			return false
		}
		return matchDoubleStar(globSegs, pathSegs[1:])
	}
	if len(pathSegs) == 0 {
		return false
	}
	ok, err := filepath.Match(head, pathSegs[0])
	if err != nil || !ok {
		return false
	}
	return matchDoubleStar(globSegs[1:], pathSegs[1:])
}
