// Package orchestrator wires the PR loader, path-based intensity
// selection, incremental and run-level caching, the static-analysis
// collaborator, the provider executor, and the consensus/suppression
// stages into the single end-to-end review run the CLI and any future
// webhook entrypoint both drive.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sanix-darker/mpr/internal/cachestore"
	"github.com/sanix-darker/mpr/internal/consensus"
	"github.com/sanix-darker/mpr/internal/core"
	"github.com/sanix-darker/mpr/internal/costtracker"
	"github.com/sanix-darker/mpr/internal/diffparse"
	"github.com/sanix-darker/mpr/internal/executor"
	"github.com/sanix-darker/mpr/internal/handlers"
	"github.com/sanix-darker/mpr/internal/incremental"
	"github.com/sanix-darker/mpr/internal/metrics"
	"github.com/sanix-darker/mpr/internal/pathmatch"
	"github.com/sanix-darker/mpr/internal/poster"
	"github.com/sanix-darker/mpr/internal/ratelimiter"
	"github.com/sanix-darker/mpr/internal/review"
	"github.com/sanix-darker/mpr/internal/staticanalysis"
	"github.com/sanix-darker/mpr/internal/suppression"
	"github.com/sanix-darker/mpr/internal/vcs"
)

// Deps bundles every collaborator a Run needs, constructed once by the
// caller (the CLI command or a future webhook handler) and reused across
// runs. Providers, Store, and Poster all hold their own internal
// concurrency guards, so a single Deps value is safe to share across
// concurrent Run calls.
type Deps struct {
	VCS             vcs.VCSProvider
	Providers       executor.Providers
	Store           *cachestore.Store
	Limiter         *ratelimiter.Limiter
	CostTracker     *costtracker.Tracker
	Suppression     *suppression.Tracker
	Feedback        *suppression.FeedbackTracker
	Weights         *suppression.Weights
	StaticCollector staticanalysis.Collector
	Poster          *poster.Poster
	RepoPath        string
	Logger          zerolog.Logger
}

// Run drives one complete review of a merge/pull request: load, filter,
// classify, collect, fan out, merge, and publish. It never returns a nil
// *review.Review on a nil error.
func Run(ctx context.Context, deps Deps, cfg review.OrchestratorConfig, projectID string, mrIID int64) (*review.Review, error) {
	timeout := time.Duration(cfg.RunTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	mrReview, err := handlers.ExtractMRHandlerWithOptions(deps.VCS, projectID, mrIID, "normal", handlers.MRExtractOptions{RepoPath: deps.RepoPath})
	if err != nil {
		metrics.ObserveRun("load-error", time.Since(start))
		return nil, fmt.Errorf("orchestrator: loading PR context: %w", err)
	}

	if reason := trivialSkipReason(mrReview.MR, mrReview.Changes, cfg); reason != "" {
		metrics.ObserveRun("skipped", time.Since(start))
		return &review.Review{
			Summary: fmt.Sprintf("Skipped automated review: %s.", reason),
			Metrics: review.RunMetrics{Duration: time.Since(start)},
		}, nil
	}

	intensity := cfg.PathDefaultIntensity
	if cfg.PathBasedIntensity {
		matcher := pathmatch.New(cfg.PathIntensityPatterns, cfg.PathDefaultIntensity)
		intensity = matcher.Match(filePaths(mrReview.Changes)).Intensity
	}
	profile, ok := cfg.IntensityProfiles[intensity]
	if !ok {
		profile = review.DefaultIntensityProfiles()[review.IntensityStandard]
	}
	strictness := strictnessFor(intensity)

	headSHA := mrReview.MR.DiffRefs.HeadSHA
	var priorState incremental.State
	var priorPtr *incremental.State
	if cfg.IncrementalEnabled && deps.Store != nil {
		if err := deps.Store.Get(cachestore.IncrementalKey(mrIID), &priorState); err == nil {
			priorPtr = &priorState
		}
	}
	decision := incremental.Decide(cfg.IncrementalEnabled, cfg.IncrementalCacheTTLDays, priorPtr, headSHA, time.Now())
	if decision.CacheHit {
		metrics.ObserveCacheResult(true)
		metrics.ObserveRun("incremental-cache-hit", time.Since(start))
		return &review.Review{
			Summary:  priorState.PriorSummary,
			Findings: priorState.PriorFindings,
			Metrics:  review.RunMetrics{CacheHit: true, Incremental: true, Duration: time.Since(start)},
		}, nil
	}
	metrics.ObserveCacheResult(false)

	changes := mrReview.Changes
	if decision.UseIncremental && deps.RepoPath != "" && priorState.LastReviewedCommit != "" {
		if changedFiles, err := incremental.ChangedFilesSince(deps.RepoPath, priorState.LastReviewedCommit, headSHA); err == nil {
			restricted := incremental.RestrictToChanged(filePaths(changes), changedFiles)
			changes = filterChangesByPath(changes, restricted)
		} else {
			deps.Logger.Warn().Err(err).Msg("orchestrator: falling back to a full review, incremental diff unavailable")
			decision.UseIncremental = false
		}
	}

	if deps.Store != nil {
		restoreLearningState(deps, projectID)
	}

	providerNames := chooseProviders(cfg, deps.Providers, deps.Weights)
	providerSetHash := hashProviderSet(providerNames)

	var cacheKey string
	if cfg.EnableCaching && deps.Store != nil {
		cacheKey = cachestore.RunCacheKey(mrIID, headSHA, string(intensity), providerSetHash)
		var cached review.Review
		if err := deps.Store.Get(cacheKey, &cached); err == nil {
			metrics.ObserveCacheResult(true)
			metrics.ObserveRun("run-cache-hit", time.Since(start))
			cached.Metrics.CacheHit = true
			cached.Metrics.Duration = time.Since(start)
			return &cached, nil
		}
		metrics.ObserveCacheResult(false)
	}

	var staticFindings []review.Finding
	if deps.StaticCollector != nil {
		staticFindings = deps.StaticCollector.Collect(changes)
	}

	prompt := core.BuildMRReviewPrompt(
		mrReview.MR.Title,
		mrReview.MR.Description,
		mrReview.MR.SourceBranch,
		mrReview.MR.TargetBranch,
		diffparse.FormatForReview(changes),
		strictness,
	)

	if cfg.BudgetMaxUSD > 0 && deps.CostTracker != nil {
		if estimated := estimateRunCostUSD(deps.CostTracker, providerNames, prompt); estimated > cfg.BudgetMaxUSD {
			metrics.ObserveRun("over-budget-skip", time.Since(start))
			return &review.Review{
				Summary: fmt.Sprintf("Skipped automated review: estimated cost $%.2f exceeds the configured budget of $%.2f.", estimated, cfg.BudgetMaxUSD),
				Metrics: review.RunMetrics{EstimatedCostUSD: estimated, Duration: time.Since(start)},
			}, nil
		}
	}

	execCfg := executor.Config{
		MaxParallel:   cfg.ProviderMaxParallel,
		Retries:       cfg.ProviderRetries,
		ProviderLimit: profile.ProviderCount,
		TimeoutMs:     profile.TimeoutMs,
		HealthCheck:   true,
	}
	results := executor.Run(ctx, execCfg, mrIID, providerNames, deps.Providers, prompt, deps.Limiter, deps.CostTracker)

	llmFindings, suggestionCandidates, runMetrics := collectProviderResults(results)

	merged := append(append([]review.Finding{}, llmFindings...), staticFindings...)
	deduped := consensus.Dedup(merged)

	now := time.Now()
	if deps.Suppression != nil {
		deduped = deps.Suppression.Filter(deduped, mrIID, now)
	}

	applied := consensus.Apply(deduped, consensus.Config{
		MinSeverity:  profile.SeverityFloor,
		MinAgreement: cfg.InlineMinAgreement,
	})
	applied = consensus.ResolveSuggestions(applied, suggestionCandidates, cfg.InlineMinAgreement)

	if cfg.QuietModeEnabled {
		applied = suppression.QuietFilter(applied, deps.Feedback, cfg.QuietMinConfidence, cfg.QuietUseLearning)
	}

	finalFindings := applied
	if decision.UseIncremental {
		finalFindings = incremental.Merge(priorState.PriorFindings, filePaths(changes), applied)
	}
	executor.SortBySeverity(finalFindings)

	inlineComments := buildInlineComments(deps.VCS, finalFindings, cfg.InlineMinSeverity, cfg.InlineMaxComments)
	actionItems := buildActionItems(finalFindings)
	summary := buildSummary(intensity, finalFindings, results)

	costUSD := 0.0
	if deps.CostTracker != nil {
		costUSD = deps.CostTracker.TotalUSD()
	}

	result := &review.Review{
		Summary:        summary,
		Findings:       finalFindings,
		InlineComments: inlineComments,
		ActionItems:    actionItems,
		ProviderRuns:   results,
		Metrics: review.RunMetrics{
			ProvidersInvoked:  runMetrics.invoked,
			ProvidersFailed:   runMetrics.failed,
			ProvidersTimedOut: runMetrics.timedOut,
			Incremental:       decision.UseIncremental,
			EstimatedCostUSD:  costUSD,
			Duration:          time.Since(start),
		},
	}

	if cfg.EnableCaching && deps.Store != nil && cacheKey != "" {
		if err := deps.Store.Set(cacheKey, result); err != nil {
			deps.Logger.Warn().Err(err).Msg("orchestrator: failed to persist run cache")
		}
	}
	if cfg.IncrementalEnabled && deps.Store != nil {
		state := incremental.State{
			LastReviewedCommit: headSHA,
			Timestamp:          now,
			PriorFindings:      finalFindings,
			PriorSummary:       summary,
		}
		if err := deps.Store.Set(cachestore.IncrementalKey(mrIID), state); err != nil {
			deps.Logger.Warn().Err(err).Msg("orchestrator: failed to persist incremental state")
		}
	}
	if deps.Store != nil {
		persistLearningState(deps, projectID)
	}

	if deps.Poster != nil {
		// Poster.DryRun (set by the caller when building Deps from cfg.DryRun)
		// governs whether these actually write or just log the payload.
		if err := deps.Poster.PostSummary(projectID, mrIID, summary, true); err != nil {
			deps.Logger.Warn().Err(err).Msg("orchestrator: failed to post summary")
		}
		deps.Poster.PostInline(projectID, mrIID, mrReview.MR.DiffRefs, inlineComments, changes)
	}

	metrics.ObserveRun("completed", time.Since(start))
	metrics.ObserveFindings(string(intensity), len(finalFindings))

	return result, nil
}

// trivialSkipReason evaluates the configured trivial-change gates in
// order and returns the first one that matches, or "" when the PR should
// be reviewed.
func trivialSkipReason(mr *vcs.MergeRequest, changes []diffparse.FileChange, cfg review.OrchestratorConfig) string {
	if cfg.SkipDrafts && mr.IsDraft {
		return "draft PR"
	}
	if cfg.SkipBots && mr.AuthorIsBot {
		return "bot-authored PR"
	}
	for _, want := range cfg.SkipLabels {
		for _, have := range mr.Labels {
			if strings.EqualFold(want, have) {
				return fmt.Sprintf("carries the %q label", have)
			}
		}
	}
	if len(changes) == 0 {
		return "no reviewable changes in the diff"
	}
	if cfg.MaxChangedFiles > 0 && len(changes) > cfg.MaxChangedFiles {
		return "touches more files than the configured limit"
	}

	totalLines, totalBytes := 0, 0
	for _, fc := range changes {
		for _, h := range fc.Hunks {
			for _, l := range h.Lines {
				if l.Type != diffparse.LineContext {
					totalLines++
				}
				totalBytes += len(l.Content)
			}
		}
	}
	if cfg.MinChangedLines > 0 && totalLines < cfg.MinChangedLines {
		return "changes too few lines to warrant a review"
	}
	if cfg.DiffMaxBytes > 0 && totalBytes > cfg.DiffMaxBytes {
		return "diff exceeds the configured size limit"
	}
	return ""
}

// strictnessFor maps a review.Intensity onto the three strictness levels
// the review prompt builder understands.
func strictnessFor(i review.Intensity) string {
	switch i {
	case review.IntensityThorough:
		return "strict"
	case review.IntensityLight:
		return "lenient"
	default:
		return "normal"
	}
}

func filePaths(changes []diffparse.FileChange) []string {
	paths := make([]string, 0, len(changes))
	for _, fc := range changes {
		name := fc.NewName
		if name == "" {
			name = fc.OldName
		}
		paths = append(paths, name)
	}
	return paths
}

func filterChangesByPath(changes []diffparse.FileChange, keep []string) []diffparse.FileChange {
	allowed := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		allowed[p] = struct{}{}
	}
	out := make([]diffparse.FileChange, 0, len(changes))
	for _, fc := range changes {
		name := fc.NewName
		if name == "" {
			name = fc.OldName
		}
		if _, ok := allowed[name]; ok {
			out = append(out, fc)
		}
	}
	return out
}

// chooseProviders narrows the configured provider list to what's actually
// registered, applies the allow/block lists, and, for the "reliability"
// selection strategy, orders the survivors by descending weight so the
// downstream ProviderLimit cap keeps the best-performing providers first.
// executor.Run still rotates this list per PR number for fairness; the
// ordering here only affects which providers survive that rotation's cap.
func chooseProviders(cfg review.OrchestratorConfig, available executor.Providers, weights *suppression.Weights) []string {
	base := cfg.Providers
	if len(base) == 0 {
		for name := range available {
			base = append(base, name)
		}
		sort.Strings(base)
	}

	block := make(map[string]struct{}, len(cfg.ProviderBlocklist))
	for _, b := range cfg.ProviderBlocklist {
		block[b] = struct{}{}
	}
	var allow map[string]struct{}
	if len(cfg.ProviderAllowlist) > 0 {
		allow = make(map[string]struct{}, len(cfg.ProviderAllowlist))
		for _, a := range cfg.ProviderAllowlist {
			allow[a] = struct{}{}
		}
	}

	var out []string
	for _, name := range base {
		if _, blocked := block[name]; blocked {
			continue
		}
		if allow != nil {
			if _, ok := allow[name]; !ok {
				continue
			}
		}
		if _, ok := available[name]; !ok {
			continue
		}
		out = append(out, name)
	}

	if cfg.ProviderSelectionStrategy == "reliability" && weights != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return weights.Weight(out[i]) > weights.Weight(out[j])
		})
	}
	return out
}

// assumedCompletionTokens mirrors the MaxTokens the Executor actually
// requests per provider call (internal/executor/client.go), so the budget
// pre-check estimates against the same ceiling the run would spend.
const assumedCompletionTokens = 2000

// estimateRunCostUSD projects the dollar cost of fanning the built prompt
// out to every name in providerNames, using the diffparse convention of
// one token per four characters for the prompt side.
func estimateRunCostUSD(tracker *costtracker.Tracker, providerNames []string, prompt string) float64 {
	promptTokens := len(prompt) / 4
	var total float64
	for _, name := range providerNames {
		total += tracker.EstimateUSD(name, 1, promptTokens, assumedCompletionTokens)
	}
	return total
}

// restoreLearningState loads the suppression patterns, per-provider
// reliability weights, and per-category feedback thresholds persisted by a
// prior run, seeding deps' trackers so C8's learning loop carries across
// invocations instead of resetting every time Deps is constructed.
func restoreLearningState(deps Deps, projectID string) {
	if deps.Suppression != nil {
		var patterns []review.SuppressionPattern
		if err := deps.Store.Get(cachestore.SuppressionKey(projectID), &patterns); err == nil {
			for _, p := range patterns {
				deps.Suppression.Add(p)
			}
		}
	}
	if deps.Weights != nil {
		var snapshot []suppression.ProviderSnapshot
		if err := deps.Store.Get(cachestore.KeyProviderWeights, &snapshot); err == nil {
			deps.Weights.Restore(snapshot)
		}
	}
	if deps.Feedback != nil {
		var snapshot []suppression.CategorySnapshot
		if err := deps.Store.Get(cachestore.KeyFeedbackLearning, &snapshot); err == nil {
			deps.Feedback.Restore(snapshot)
		}
	}
}

// persistLearningState writes the current suppression patterns, provider
// weights, and feedback thresholds back to the cache store so the next
// invocation's restoreLearningState picks them back up.
func persistLearningState(deps Deps, projectID string) {
	if deps.Suppression != nil {
		if err := deps.Store.Set(cachestore.SuppressionKey(projectID), deps.Suppression.Patterns()); err != nil {
			deps.Logger.Warn().Err(err).Msg("orchestrator: failed to persist suppression patterns")
		}
	}
	if deps.Weights != nil {
		if err := deps.Store.Set(cachestore.KeyProviderWeights, deps.Weights.Snapshot()); err != nil {
			deps.Logger.Warn().Err(err).Msg("orchestrator: failed to persist provider weights")
		}
	}
	if deps.Feedback != nil {
		if err := deps.Store.Set(cachestore.KeyFeedbackLearning, deps.Feedback.Snapshot()); err != nil {
			deps.Logger.Warn().Err(err).Msg("orchestrator: failed to persist feedback learning data")
		}
	}
}

func hashProviderSet(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])[:12]
}

type providerRunTally struct {
	invoked  int
	failed   int
	timedOut int
}

// collectProviderResults normalizes successful provider runs into
// Findings (stamping Provider/Providers for Dedup) and gathers suggestion
// candidates for ResolveSuggestions, while tallying per-provider outcomes
// for both RunMetrics and the Prometheus counters.
func collectProviderResults(results []review.ProviderResult) ([]review.Finding, map[string][]consensus.Candidate, providerRunTally) {
	var findings []review.Finding
	byKey := make(map[string][]consensus.Candidate)
	var tally providerRunTally

	for _, r := range results {
		tally.invoked++
		outcome := "error"
		switch r.Status {
		case review.ProviderSuccess:
			outcome = "success"
			if r.Result != nil {
				for _, f := range r.Result.Findings {
					f.Provider = r.Provider
					if len(f.Providers) == 0 {
						f.Providers = map[string]struct{}{r.Provider: {}}
					}
					if f.Suggestion != "" {
						byKey[f.Key()] = append(byKey[f.Key()], consensus.Candidate{Provider: r.Provider, Suggestion: f.Suggestion})
					}
					findings = append(findings, f)
				}
			}
		case review.ProviderTimeout:
			outcome = "timeout"
			tally.timedOut++
		case review.ProviderRateLimited:
			outcome = "rate-limited"
		default:
			tally.failed++
		}
		metrics.ObserveProviderCall(r.Provider, outcome)
	}
	return findings, byKey, tally
}

// buildInlineComments turns findings at or above minSeverity into inline
// comments, stopping at maxComments (0 meaning unbounded), and rendering
// any attached suggestion through the VCS's native suggestion-block
// format.
func buildInlineComments(vp vcs.VCSProvider, findings []review.Finding, minSeverity review.Severity, maxComments int) []review.InlineComment {
	var out []review.InlineComment
	floor := minSeverity.Rank()
	for _, f := range findings {
		if f.Severity.Rank() < floor {
			continue
		}
		if maxComments > 0 && len(out) >= maxComments {
			break
		}
		body := f.Title
		if f.Message != "" {
			body = f.Title + "\n\n" + f.Message
		}
		if f.Suggestion != "" && vp != nil {
			body += "\n\n" + vp.FormatSuggestionBlock(f.Suggestion)
		}
		out = append(out, review.InlineComment{
			File: f.File,
			Line: f.Line,
			Side: review.SideRight,
			Body: body,
		})
	}
	return out
}

func buildActionItems(findings []review.Finding) []review.ActionItem {
	var out []review.ActionItem
	for _, f := range findings {
		if f.Severity == review.SeverityCritical || f.Severity == review.SeverityMajor {
			out = append(out, review.ActionItem{Title: f.Title, Severity: f.Severity})
		}
	}
	return out
}

func buildSummary(intensity review.Intensity, findings []review.Finding, results []review.ProviderResult) string {
	var b strings.Builder
	b.WriteString("## Automated review summary\n\n")
	fmt.Fprintf(&b, "Intensity: **%s** · providers run: %d · findings: %d\n\n", intensity, len(results), len(findings))

	counts := map[review.Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}
	fmt.Fprintf(&b, "- Critical: %d\n- Major: %d\n- Minor: %d\n", counts[review.SeverityCritical], counts[review.SeverityMajor], counts[review.SeverityMinor])

	if len(findings) == 0 {
		b.WriteString("\nNo issues found.\n")
		return b.String()
	}

	b.WriteString("\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- **%s** `%s:%d` — %s\n", strings.ToUpper(string(f.Severity)), f.File, f.Line, f.Title)
	}
	return b.String()
}
