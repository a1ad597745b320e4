/*
Copyright © 2023 sanix-darker <s4nixd@gmail.com>

Registers the non-git-aware review commands (diff, commit, branch, optim)
and the "repo"/"path" persistent flags they share. The commands
themselves live in diff.go, commit.go, branch.go, and optim.go.
*/

package cmd

import (
	"github.com/sanix-darker/mpr/internal/config"
	models "github.com/sanix-darker/mpr/internal/models"
	"github.com/spf13/cobra"
)

func init() {
	conf := config.NewDefaultConfig()
	rootCmd.AddCommand(NewBranchCmd(conf), NewCommitCmd(conf), NewDiffCmd(conf), NewOptimizeCmd(conf))

	// set common flags smartly (repo, paths)
	for _, cmd := range rootCmd.Commands() {
		for _, fg := range []models.FlagStruct{
			{
				Label:        "repo",
				Short:        "r",
				DefaultValue: ".",
				Description:  "target git repo (loca-path/git-url).",
			},
			{
				Label:        "path",
				Short:        "p",
				DefaultValue: ".",
				Description:  "target file/directory to inspect",
			},
		} {
			cmd.PersistentFlags().StringP(
				fg.Label,
				fg.Short,
				fg.DefaultValue,
				fg.Description,
			)
		}
	}
}
