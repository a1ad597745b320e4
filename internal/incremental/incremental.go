// Package incremental decides whether a run can skip re-reviewing files
// unchanged since the PR's last reviewed commit, computes the
// changed-file set for that decision via go-git, and merges the prior
// and freshly-collected findings.
package incremental

import (
	"time"

	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"github.com/sanix-darker/mpr/internal/review"
)

// State is the per-PR record persisted by the Cache Store under
// cachestore.IncrementalKey.
type State struct {
	LastReviewedCommit string
	Timestamp          time.Time
	PriorFindings       []review.Finding
	PriorSummary        string
}

// Decision is the outcome of evaluating shouldUseIncremental.
type Decision struct {
	// UseIncremental is true when the run should restrict its executor
	// file set to files changed since LastReviewedCommit.
	UseIncremental bool

	// CacheHit is true when the prior commit already matches the PR's
	// head, meaning the prior Review can be reported verbatim at zero
	// cost, a distinct path from UseIncremental.
	CacheHit bool
}

// Decide applies the shouldUseIncremental rule: incremental review
// requires the feature enabled, a non-expired prior State, and a prior
// commit distinct from the PR's head (an identical commit is a cache
// hit, not an incremental run).
func Decide(enabled bool, ttlDays int, prior *State, headSHA string, now time.Time) Decision {
	if !enabled || prior == nil {
		return Decision{}
	}
	if ttlDays > 0 && now.Sub(prior.Timestamp) > time.Duration(ttlDays)*24*time.Hour {
		return Decision{}
	}
	if prior.LastReviewedCommit == headSHA {
		return Decision{CacheHit: true}
	}
	return Decision{UseIncremental: true}
}

// ChangedFilesSince opens the local repository at repoPath and returns
// the set of file paths that differ between fromSHA and toSHA, using
// go-git's tree diff rather than shelling out to the git binary: the
// human-readable unified diff for the prompt is built elsewhere by
// shelling out, but this path only needs the changed-path set, which
// go-git answers without a subprocess.
func ChangedFilesSince(repoPath, fromSHA, toSHA string) ([]string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, err
	}

	fromTree, err := treeAt(repo, fromSHA)
	if err != nil {
		return nil, err
	}
	toTree, err := treeAt(repo, toSHA)
	if err != nil {
		return nil, err
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(changes))
	var paths []string
	for _, c := range changes {
		for _, name := range changedPaths(c) {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				paths = append(paths, name)
			}
		}
	}
	return paths, nil
}

func treeAt(repo *git.Repository, sha string) (*object.Tree, error) {
	commit, err := repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}

// changedPaths returns the (pre, post) path names touched by c, skipping
// an empty name (present on one side for adds/deletes).
func changedPaths(c *object.Change) []string {
	var names []string
	if c.From.Name != "" {
		names = append(names, c.From.Name)
	}
	if c.To.Name != "" && c.To.Name != c.From.Name {
		names = append(names, c.To.Name)
	}
	return names
}

// RestrictToChanged filters currentFiles down to those also present in
// changedFiles, restricting the executor's file set to files in the diff
// that are also part of the current PR.
func RestrictToChanged(currentFiles, changedFiles []string) []string {
	changed := make(map[string]struct{}, len(changedFiles))
	for _, f := range changedFiles {
		changed[f] = struct{}{}
	}
	var out []string
	for _, f := range currentFiles {
		if _, ok := changed[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Merge combines prior findings with newly collected ones: findings on a
// changed file are dropped from the prior set (the fresh review
// supersedes them), findings on any other file are retained, and the new
// findings are appended.
func Merge(prior []review.Finding, changedFiles []string, fresh []review.Finding) []review.Finding {
	changed := make(map[string]struct{}, len(changedFiles))
	for _, f := range changedFiles {
		changed[f] = struct{}{}
	}

	merged := make([]review.Finding, 0, len(prior)+len(fresh))
	for _, f := range prior {
		if _, ok := changed[f.File]; ok {
			continue
		}
		merged = append(merged, f)
	}
	merged = append(merged, fresh...)
	return merged
}
