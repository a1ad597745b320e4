// Package consensus merges the per-provider finding streams collected by
// the Executor into one deduplicated, confidence-scored, severity-sorted
// list.
//
// Merging is two stages. Dedup groups findings by (file, line, title);
// Consensus then drops low-severity and low-agreement findings, combines
// confidence, and resolves competing suggestions by structural
// equivalence.
package consensus

import (
	"sort"

	"github.com/sanix-darker/mpr/internal/review"
)

// Dedup groups findings by review.Finding.Key(), unioning the providers
// set on collision. All other fields come from the first occurrence. The
// result is order-independent with respect to input order for the
// providers field, but preserves first-seen order of distinct keys.
func Dedup(findings []review.Finding) []review.Finding {
	index := make(map[string]int, len(findings))
	var merged []review.Finding

	for _, f := range findings {
		key := f.Key()
		if i, ok := index[key]; ok {
			existing := merged[i]
			mergeProviders(&existing, f)
			existing.Confidence = mergeConfidence(existing.Confidence, f.Confidence, false)
			merged[i] = existing
			continue
		}

		canonical := f
		canonical.Providers = map[string]struct{}{f.Provider: {}}
		canonical.Confidence = mergeConfidence(nil, f.Confidence, true)
		index[key] = len(merged)
		merged = append(merged, canonical)
	}

	return merged
}

// mergeProviders unions next's provider (and any providers it already
// carries, e.g. when re-merging already-deduped results) into existing's
// providers set.
func mergeProviders(existing *review.Finding, next review.Finding) {
	if existing.Providers == nil {
		existing.Providers = make(map[string]struct{})
	}
	if next.Provider != "" {
		existing.Providers[next.Provider] = struct{}{}
	}
	for p := range next.Providers {
		existing.Providers[p] = struct{}{}
	}
}

// mergeConfidence combines confidence across merged sources: the merged
// confidence is min(1.0, sum of per-source confidences), where a source
// with no stated confidence contributes 1.0 on first insert and 0.5 on
// every subsequent merge.
func mergeConfidence(existing *float64, incoming *float64, firstInsert bool) *float64 {
	var base float64
	if existing != nil {
		base = *existing
	}

	var contribution float64
	switch {
	case incoming != nil:
		contribution = *incoming
	case firstInsert:
		contribution = 1.0
	default:
		contribution = 0.5
	}

	sum := base + contribution
	if sum > 1.0 {
		sum = 1.0
	}
	return &sum
}

// Config bundles the thresholds Consensus needs from the orchestrator
// configuration.
type Config struct {
	MinSeverity  review.Severity
	MinAgreement int
}

// Apply runs Stage B over already-deduped findings: severity floor,
// agreement gate, and severity-descending sort with stable ties.
// Suggestion resolution is handled separately by ResolveSuggestions
// because it needs the original per-provider suggestion texts, which
// Dedup does not retain.
func Apply(findings []review.Finding, cfg Config) []review.Finding {
	var out []review.Finding
	floor := cfg.MinSeverity.Rank()

	for _, f := range findings {
		if f.Severity.Rank() < floor {
			continue
		}
		if !passesAgreementGate(f, cfg.MinAgreement) {
			continue
		}
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})

	return out
}

// passesAgreementGate is a three-way OR: the static sentinel source
// always passes, a providers count at or above the configured minimum
// passes, and a single-provider finding always passes (never dropped for
// lack of agreement).
func passesAgreementGate(f review.Finding, minAgreement int) bool {
	if _, ok := f.Providers[review.StaticSourceName]; ok {
		return true
	}
	if len(f.Providers) == 1 {
		return true
	}
	return len(f.Providers) >= minAgreement
}
