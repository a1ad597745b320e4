package review

import "github.com/sanix-darker/mpr/internal/config"

// IntensityProfile bundles the behavior an Intensity drives: provider
// count, per-provider timeout, a prompt-depth keyword, and the severity
// floor applied during consensus.
type IntensityProfile struct {
	ProviderCount  int
	TimeoutMs      int
	PromptDepth    string
	SeverityFloor  Severity
}

// PathIntensityRule is one (glob, intensity, description) entry consulted
// by the Path Matcher.
type PathIntensityRule struct {
	Glob        string
	Intensity   Intensity
	Description string
}

// OrchestratorConfig is the single immutable configuration record for a
// run. It is built once per run by LoadOrchestratorConfig and never
// mutated.
type OrchestratorConfig struct {
	Providers          []string
	SynthesisModel     string
	ProviderAllowlist  []string
	ProviderBlocklist  []string
	ProviderLimit      int
	ProviderRetries    int
	ProviderMaxParallel int

	InlineMaxComments  int
	InlineMinSeverity  Severity
	InlineMinAgreement int

	SkipLabels  []string
	SkipDrafts  bool
	SkipBots    bool

	MinChangedLines int
	MaxChangedFiles int
	DiffMaxBytes    int

	RunTimeoutSeconds int
	BudgetMaxUSD      float64

	EnableASTAnalysis bool
	EnableSecurity    bool
	EnableCaching     bool
	EnableTestHints   bool
	EnableAIDetection bool

	IncrementalEnabled     bool
	IncrementalCacheTTLDays int

	PathBasedIntensity    bool
	PathIntensityPatterns []PathIntensityRule
	PathDefaultIntensity  Intensity

	IntensityProfiles map[Intensity]IntensityProfile

	QuietModeEnabled bool
	QuietMinConfidence float64
	QuietUseLearning   bool

	ProviderSelectionStrategy string // "static" | "reliability" | "exploration-exploitation"
	ExplorationRate           float64

	DryRun bool

	CacheBaseDir string
}

// DefaultIntensityProfiles returns the default per-intensity profiles.
func DefaultIntensityProfiles() map[Intensity]IntensityProfile {
	return map[Intensity]IntensityProfile{
		IntensityThorough: {ProviderCount: 8, TimeoutMs: 180000, PromptDepth: "COMPREHENSIVE ... edge case", SeverityFloor: SeverityMinor},
		IntensityStandard: {ProviderCount: 5, TimeoutMs: 120000, PromptDepth: "", SeverityFloor: SeverityMinor},
		IntensityLight:    {ProviderCount: 3, TimeoutMs: 60000, PromptDepth: "QUICK scan ... CRITICAL issues", SeverityFloor: SeverityMajor},
	}
}

// DefaultOrchestratorConfig returns the documented defaults for every
// configuration option.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ProviderRetries:     2,
		ProviderMaxParallel: 3,
		InlineMaxComments:   20,
		InlineMinSeverity:   SeverityMinor,
		InlineMinAgreement:  2,
		SkipDrafts:          true,
		SkipBots:            true,
		MinChangedLines:     1,
		MaxChangedFiles:     100,
		DiffMaxBytes:        200_000,
		RunTimeoutSeconds:   600,
		BudgetMaxUSD:        0,
		EnableASTAnalysis:   true,
		EnableSecurity:      true,
		EnableCaching:       true,
		EnableTestHints:     true,
		EnableAIDetection:   false,
		IncrementalEnabled:  true,
		IncrementalCacheTTLDays: 14,
		PathBasedIntensity:  true,
		PathDefaultIntensity: IntensityStandard,
		IntensityProfiles:   DefaultIntensityProfiles(),
		QuietModeEnabled:    false,
		QuietMinConfidence:  0.5,
		QuietUseLearning:    true,
		ProviderSelectionStrategy: "static",
		ExplorationRate:     0.3,
		CacheBaseDir:        ".mpr-cache",
	}
}

// LoadOrchestratorConfig builds an OrchestratorConfig from the CLI's config
// store: every "orchestrator.*" key that is set overrides the matching
// default from DefaultOrchestratorConfig. It reads no environment variables.
func LoadOrchestratorConfig(v *config.Store) OrchestratorConfig {
	cfg := DefaultOrchestratorConfig()
	if v == nil {
		return cfg
	}

	if providers := v.GetStringSlice("orchestrator.providers"); len(providers) > 0 {
		cfg.Providers = providers
	}
	if s := v.GetString("orchestrator.synthesis_model"); s != "" {
		cfg.SynthesisModel = s
	}
	if s := v.GetStringSlice("orchestrator.provider_allowlist"); len(s) > 0 {
		cfg.ProviderAllowlist = s
	}
	if s := v.GetStringSlice("orchestrator.provider_blocklist"); len(s) > 0 {
		cfg.ProviderBlocklist = s
	}
	if v.IsSet("orchestrator.provider_limit") {
		cfg.ProviderLimit = v.GetInt("orchestrator.provider_limit")
	}
	if v.IsSet("orchestrator.provider_retries") {
		cfg.ProviderRetries = v.GetInt("orchestrator.provider_retries")
	}
	if v.IsSet("orchestrator.provider_max_parallel") {
		cfg.ProviderMaxParallel = v.GetInt("orchestrator.provider_max_parallel")
	}
	if v.IsSet("orchestrator.inline_max_comments") {
		cfg.InlineMaxComments = v.GetInt("orchestrator.inline_max_comments")
	}
	if s := v.GetString("orchestrator.inline_min_severity"); s != "" {
		cfg.InlineMinSeverity = Severity(s)
	}
	if v.IsSet("orchestrator.inline_min_agreement") {
		cfg.InlineMinAgreement = v.GetInt("orchestrator.inline_min_agreement")
	}
	if s := v.GetStringSlice("orchestrator.skip_labels"); len(s) > 0 {
		cfg.SkipLabels = s
	}
	if v.IsSet("orchestrator.skip_drafts") {
		cfg.SkipDrafts = v.GetBool("orchestrator.skip_drafts")
	}
	if v.IsSet("orchestrator.skip_bots") {
		cfg.SkipBots = v.GetBool("orchestrator.skip_bots")
	}
	if v.IsSet("orchestrator.min_changed_lines") {
		cfg.MinChangedLines = v.GetInt("orchestrator.min_changed_lines")
	}
	if v.IsSet("orchestrator.max_changed_files") {
		cfg.MaxChangedFiles = v.GetInt("orchestrator.max_changed_files")
	}
	if v.IsSet("orchestrator.diff_max_bytes") {
		cfg.DiffMaxBytes = v.GetInt("orchestrator.diff_max_bytes")
	}
	if v.IsSet("orchestrator.run_timeout_seconds") {
		cfg.RunTimeoutSeconds = v.GetInt("orchestrator.run_timeout_seconds")
	}
	if v.IsSet("orchestrator.budget_max_usd") {
		cfg.BudgetMaxUSD = float64(v.GetInt("orchestrator.budget_max_usd"))
	}
	if v.IsSet("orchestrator.enable_ast_analysis") {
		cfg.EnableASTAnalysis = v.GetBool("orchestrator.enable_ast_analysis")
	}
	if v.IsSet("orchestrator.enable_security") {
		cfg.EnableSecurity = v.GetBool("orchestrator.enable_security")
	}
	if v.IsSet("orchestrator.enable_caching") {
		cfg.EnableCaching = v.GetBool("orchestrator.enable_caching")
	}
	if v.IsSet("orchestrator.enable_test_hints") {
		cfg.EnableTestHints = v.GetBool("orchestrator.enable_test_hints")
	}
	if v.IsSet("orchestrator.enable_ai_detection") {
		cfg.EnableAIDetection = v.GetBool("orchestrator.enable_ai_detection")
	}
	if v.IsSet("orchestrator.incremental_enabled") {
		cfg.IncrementalEnabled = v.GetBool("orchestrator.incremental_enabled")
	}
	if v.IsSet("orchestrator.incremental_cache_ttl_days") {
		cfg.IncrementalCacheTTLDays = v.GetInt("orchestrator.incremental_cache_ttl_days")
	}
	if v.IsSet("orchestrator.path_based_intensity") {
		cfg.PathBasedIntensity = v.GetBool("orchestrator.path_based_intensity")
	}
	if s := v.GetString("orchestrator.path_default_intensity"); s != "" {
		cfg.PathDefaultIntensity = Intensity(s)
	}
	if v.IsSet("orchestrator.quiet_mode_enabled") {
		cfg.QuietModeEnabled = v.GetBool("orchestrator.quiet_mode_enabled")
	}
	if v.IsSet("orchestrator.quiet_min_confidence") {
		cfg.QuietMinConfidence = float64(v.GetInt("orchestrator.quiet_min_confidence"))
	}
	if v.IsSet("orchestrator.quiet_use_learning") {
		cfg.QuietUseLearning = v.GetBool("orchestrator.quiet_use_learning")
	}
	if s := v.GetString("orchestrator.provider_selection_strategy"); s != "" {
		cfg.ProviderSelectionStrategy = s
	}
	if v.IsSet("orchestrator.dry_run") {
		cfg.DryRun = v.GetBool("orchestrator.dry_run")
	}
	if s := v.GetString("orchestrator.cache_base_dir"); s != "" {
		cfg.CacheBaseDir = s
	}

	return cfg
}
