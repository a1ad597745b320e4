/*
Copyright © 2023 sanix-darker <s4nixd@gmail.com>

The orchestrate command drives internal/orchestrator.Run directly: the
full path/incremental/cache/consensus pipeline, as opposed to the
interactive "mr review" command's hand-built flow.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sanix-darker/mpr/internal/cachestore"
	"github.com/sanix-darker/mpr/internal/config"
	"github.com/sanix-darker/mpr/internal/costtracker"
	"github.com/sanix-darker/mpr/internal/executor"
	"github.com/sanix-darker/mpr/internal/orchestrator"
	"github.com/sanix-darker/mpr/internal/poster"
	"github.com/sanix-darker/mpr/internal/provider"
	"github.com/sanix-darker/mpr/internal/ratelimiter"
	"github.com/sanix-darker/mpr/internal/review"
	"github.com/sanix-darker/mpr/internal/staticanalysis"
	"github.com/sanix-darker/mpr/internal/suppression"
	"github.com/sanix-darker/mpr/internal/vcs"
)

// init registers the orchestrate command under the existing "mr" command
// group. mr.go's init() builds mrCmd as a local variable rather than a
// package-level one, so this looks it up by name among rootCmd's children
// instead of introducing a second package-level mrCmd that could drift out
// of sync with the one "mr review"/"mr diff"/"mr list" actually attach to.
func init() {
	for _, c := range rootCmd.Commands() {
		if c.Name() == "mr" {
			c.AddCommand(newMROrchestrateCmd())
			return
		}
	}
}

func newMROrchestrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orchestrate <project_id> <mr_iid>",
		Short:   "Run the full multi-provider review pipeline against a Merge Request",
		Example: "mpr mr orchestrate my-group/my-project 42\nmpr mr orchestrate my-group/my-project 42 --dry-run",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.NewDefaultConfig()
			applyFlags(cmd, &conf)

			projectID := args[0]
			mrIID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid MR IID %q: %w", args[1], err)
			}

			vp, err := resolveVCSProvider(cmd)
			if err != nil {
				return fmt.Errorf("resolving VCS provider: %w", err)
			}

			cfg := review.LoadOrchestratorConfig(conf.Viper)
			if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Changed {
				cfg.DryRun, _ = cmd.Flags().GetBool("dry-run")
			}
			if f := cmd.Flags().Lookup("quiet-mode"); f != nil && f.Changed {
				cfg.QuietModeEnabled, _ = cmd.Flags().GetBool("quiet-mode")
			}
			if len(cfg.Providers) == 0 {
				cfg.Providers = []string{provider.ResolveProvider(conf.Viper).Name}
			}

			deps, err := buildOrchestratorDeps(conf, vp, cfg)
			if err != nil {
				return fmt.Errorf("building orchestrator dependencies: %w", err)
			}

			result, err := orchestrator.Run(context.Background(), deps, cfg, projectID, mrIID)
			if err != nil {
				return fmt.Errorf("orchestrator run: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Summary)
			fmt.Fprintf(cmd.OutOrStdout(), "findings: %d, providers invoked: %d, duration: %s\n",
				len(result.Findings), result.Metrics.ProvidersInvoked, result.Metrics.Duration)
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "Print the review without posting to the VCS")
	cmd.Flags().Bool("quiet-mode", false, "Suppress low-confidence findings below the learned per-category threshold")
	cmd.Flags().String("vcs", "", "VCS provider (gitlab, github; auto-detected from env)")
	cmd.Flags().String("gitlab-token", "", "GitLab personal access token (or use GITLAB_TOKEN env)")
	cmd.Flags().String("gitlab-url", "", "GitLab instance URL (or use GITLAB_URL env, default: https://gitlab.com)")
	return cmd
}

// buildOrchestratorDeps resolves every provider named in cfg.Providers
// against the global registry, scoping each one's config.Store the same
// way provider.ResolveProvider does for the single-provider "mr review"
// path, then assembles the remaining stateless/cache collaborators.
func buildOrchestratorDeps(conf config.Config, vp vcs.VCSProvider, cfg review.OrchestratorConfig) (orchestrator.Deps, error) {
	v := conf.Viper
	if v == nil {
		v = config.NewStore()
	}

	providers := make(executor.Providers, len(cfg.Providers))
	for _, name := range cfg.Providers {
		sub := v.Sub(fmt.Sprintf("providers.%s", name))
		if sub == nil {
			sub = config.NewStore()
		}
		p, err := provider.Get(name, sub)
		if err != nil {
			return orchestrator.Deps{}, fmt.Errorf("resolving provider %q: %w", name, err)
		}
		providers[name] = p
	}

	store, err := cachestore.New(cfg.CacheBaseDir)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("opening cache store at %q: %w", cfg.CacheBaseDir, err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if conf.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	return orchestrator.Deps{
		VCS:             vp,
		Providers:       providers,
		Store:           store,
		Limiter:         ratelimiter.New(),
		CostTracker:     costtracker.New(nil),
		Suppression:     suppression.NewTracker(nil),
		Feedback:        suppression.NewFeedbackTracker(),
		Weights:         suppression.NewWeights(),
		StaticCollector: staticanalysis.NewLineRuleCollector(cfg.EnableASTAnalysis, cfg.EnableSecurity, cfg.EnableTestHints),
		Poster:          poster.New(vp, cfg.DryRun, logger),
		Logger:          logger,
	}, nil
}
