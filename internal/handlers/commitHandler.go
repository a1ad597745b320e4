package handlers

import (
	"fmt"

	"github.com/sanix-darker/mpr/internal/config"
	"github.com/sanix-darker/mpr/internal/core"
)

func ExtractCommitHandler(
	conf config.Config,
	commitHash string,
	repoPath string,
	gitPath string,
	help func() error,
) ([]string, error) {
	if repoPath == "" {
		repoPath = "."
	}

	diff, err := core.GetGitDiffForCommit(repoPath, commitHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit diff: %w", err)
	}

	if gitPath != "" && gitPath != "." {
		diff = filterUnifiedDiffByPath(diff, gitPath)
	}

	return []string{diff}, nil
}
