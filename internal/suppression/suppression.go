// Package suppression implements the dismissed-finding tracker, the
// per-category feedback-confidence tracker, per-provider reliability
// weighting, and the quiet-mode confidence filter.
package suppression

import (
	"sync"
	"time"

	"github.com/sanix-darker/mpr/internal/review"
)

// ---------------------------------------------------------------------------
// Suppression tracker
// ---------------------------------------------------------------------------

// Tracker holds dismissed-finding patterns. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	patterns []review.SuppressionPattern
}

// NewTracker creates a Tracker seeded with patterns loaded from the cache
// store (patterns may be nil for a fresh repo).
func NewTracker(patterns []review.SuppressionPattern) *Tracker {
	return &Tracker{patterns: append([]review.SuppressionPattern(nil), patterns...)}
}

// Add records a new dismissed-finding pattern.
func (t *Tracker) Add(p review.SuppressionPattern) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patterns = append(t.patterns, p)
}

// Patterns returns a snapshot of the currently held patterns, for
// persistence back to the cache store.
func (t *Tracker) Patterns() []review.SuppressionPattern {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]review.SuppressionPattern(nil), t.patterns...)
}

// Suppressed reports whether f is suppressed by any non-expired pattern
// for prNumber: same category, same file, line within +/-5, pattern not
// expired, and scope matches (repo-wide patterns match any PR; pr-scoped
// patterns require the identical PR number).
func (t *Tracker) Suppressed(f review.Finding, prNumber int64, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.patterns {
		if p.Expired(now) {
			continue
		}
		if p.Category != f.Category || p.File != f.File {
			continue
		}
		if abs(p.Line-f.Line) > 5 {
			continue
		}
		if p.Scope == review.ScopePR && p.PRNumber != prNumber {
			continue
		}
		return true
	}
	return false
}

// Filter removes every finding in findings that Suppressed reports true
// for, preserving order.
func (t *Tracker) Filter(findings []review.Finding, prNumber int64, now time.Time) []review.Finding {
	out := make([]review.Finding, 0, len(findings))
	for _, f := range findings {
		if !t.Suppressed(f, prNumber, now) {
			out = append(out, f)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ---------------------------------------------------------------------------
// Feedback tracker
// ---------------------------------------------------------------------------

const (
	defaultThreshold = 0.5
	minThreshold     = 0.3
	maxThreshold     = 0.9
	minRecordsToAdjust = 5
)

// categoryStats is the running +1/-1 tally for one category.
type categoryStats struct {
	positive  int
	negative  int
	threshold float64
}

// FeedbackTracker derives a per-category confidence threshold from
// accumulated +1/-1 reactions.
type FeedbackTracker struct {
	mu    sync.Mutex
	stats map[string]*categoryStats
}

// NewFeedbackTracker creates an empty FeedbackTracker.
func NewFeedbackTracker() *FeedbackTracker {
	return &FeedbackTracker{stats: make(map[string]*categoryStats)}
}

// Record adds a +1 (positive=true) or -1 reaction for category and
// recomputes its threshold once at least 5 records have accumulated.
func (f *FeedbackTracker) Record(category string, positive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.stats[category]
	if !ok {
		s = &categoryStats{threshold: defaultThreshold}
		f.stats[category] = s
	}
	if positive {
		s.positive++
	} else {
		s.negative++
	}

	total := s.positive + s.negative
	if total < minRecordsToAdjust {
		return
	}

	positiveRate := float64(s.positive) / float64(total)
	switch {
	case positiveRate > 0.8:
		s.threshold = clamp(s.threshold-0.1, minThreshold, maxThreshold)
	case positiveRate < 0.5:
		s.threshold = clamp(s.threshold+0.1, minThreshold, maxThreshold)
	}
}

// Threshold returns category's current confidence threshold, defaulting
// to 0.5 for a category with no recorded feedback.
func (f *FeedbackTracker) Threshold(category string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stats[category]
	if !ok {
		return defaultThreshold
	}
	return s.threshold
}

// CategorySnapshot is a serializable snapshot of one category's tally, for
// persistence to the cache store under cachestore.KeyFeedbackLearning.
type CategorySnapshot struct {
	Category  string
	Positive  int
	Negative  int
	Threshold float64
}

// Snapshot returns every category's current tally, for persistence back to
// the cache store.
func (f *FeedbackTracker) Snapshot() []CategorySnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CategorySnapshot, 0, len(f.stats))
	for category, s := range f.stats {
		out = append(out, CategorySnapshot{
			Category:  category,
			Positive:  s.positive,
			Negative:  s.negative,
			Threshold: s.threshold,
		})
	}
	return out
}

// Restore seeds the tracker from a snapshot loaded from the cache store,
// replacing any in-memory tallies.
func (f *FeedbackTracker) Restore(snapshot []CategorySnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = make(map[string]*categoryStats, len(snapshot))
	for _, s := range snapshot {
		f.stats[s.Category] = &categoryStats{
			positive:  s.Positive,
			negative:  s.Negative,
			threshold: s.Threshold,
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---------------------------------------------------------------------------
// Provider weighting
// ---------------------------------------------------------------------------

type providerStats struct {
	positive int
	negative int
}

// Weights tracks per-provider positive/negative counters and derives the
// reliability weight the Executor's provider-selection strategies consult.
type Weights struct {
	mu    sync.Mutex
	stats map[string]*providerStats
}

// NewWeights creates an empty Weights tracker.
func NewWeights() *Weights {
	return &Weights{stats: make(map[string]*providerStats)}
}

// Record adds a +1/-1 outcome for provider (e.g. a posted finding that
// was later accepted or dismissed).
func (w *Weights) Record(provider string, positive bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.stats[provider]
	if !ok {
		s = &providerStats{}
		w.stats[provider] = s
	}
	if positive {
		s.positive++
	} else {
		s.negative++
	}
}

// Weight returns provider's reliability weight: 1.0 for a provider with
// fewer than 5 recorded outcomes (cold start), else
// 0.3 + 0.7*positiveRate.
func (w *Weights) Weight(provider string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.stats[provider]
	if !ok {
		return 1.0
	}
	total := s.positive + s.negative
	if total < minRecordsToAdjust {
		return 1.0
	}
	positiveRate := float64(s.positive) / float64(total)
	return 0.3 + 0.7*positiveRate
}

// ProviderSnapshot is a serializable snapshot of one provider's tally, for
// persistence to the cache store under cachestore.KeyProviderWeights.
type ProviderSnapshot struct {
	Provider string
	Positive int
	Negative int
}

// Snapshot returns every provider's current tally, for persistence back to
// the cache store.
func (w *Weights) Snapshot() []ProviderSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ProviderSnapshot, 0, len(w.stats))
	for provider, s := range w.stats {
		out = append(out, ProviderSnapshot{Provider: provider, Positive: s.positive, Negative: s.negative})
	}
	return out
}

// Restore seeds the tracker from a snapshot loaded from the cache store,
// replacing any in-memory tallies.
func (w *Weights) Restore(snapshot []ProviderSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = make(map[string]*providerStats, len(snapshot))
	for _, s := range snapshot {
		w.stats[s.Provider] = &providerStats{positive: s.Positive, negative: s.Negative}
	}
}

// ---------------------------------------------------------------------------
// Quiet-mode filter
// ---------------------------------------------------------------------------

// QuietFilter drops findings whose confidence is below
// max(categoryThreshold, minConfidence) when useLearning is true;
// otherwise the flat minConfidence alone gates every category.
func QuietFilter(findings []review.Finding, feedback *FeedbackTracker, minConfidence float64, useLearning bool) []review.Finding {
	out := make([]review.Finding, 0, len(findings))
	for _, f := range findings {
		threshold := minConfidence
		if useLearning && feedback != nil {
			catThreshold := feedback.Threshold(f.Category)
			if catThreshold > threshold {
				threshold = catThreshold
			}
		}
		conf := 0.0
		if f.Confidence != nil {
			conf = *f.Confidence
		}
		if conf >= threshold {
			out = append(out, f)
		}
	}
	return out
}
