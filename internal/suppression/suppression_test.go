package suppression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sanix-darker/mpr/internal/review"
)

func TestSuppressedMatchesWithinLineWindow(t *testing.T) {
	now := time.Now()
	tr := NewTracker([]review.SuppressionPattern{
		{Category: "style", File: "a.go", Line: 10, Scope: review.ScopeRepo, ExpiresAt: now.Add(time.Hour)},
	})

	f := review.Finding{Category: "style", File: "a.go", Line: 13}
	assert.True(t, tr.Suppressed(f, 1, now))

	far := review.Finding{Category: "style", File: "a.go", Line: 20}
	assert.False(t, tr.Suppressed(far, 1, now))
}

func TestSuppressedRespectsExpiry(t *testing.T) {
	now := time.Now()
	tr := NewTracker([]review.SuppressionPattern{
		{Category: "style", File: "a.go", Line: 10, Scope: review.ScopeRepo, ExpiresAt: now.Add(-time.Hour)},
	})
	f := review.Finding{Category: "style", File: "a.go", Line: 10}
	assert.False(t, tr.Suppressed(f, 1, now))
}

func TestSuppressedPRScopeRequiresSamePR(t *testing.T) {
	now := time.Now()
	tr := NewTracker([]review.SuppressionPattern{
		{Category: "style", File: "a.go", Line: 10, Scope: review.ScopePR, PRNumber: 42, ExpiresAt: now.Add(time.Hour)},
	})
	f := review.Finding{Category: "style", File: "a.go", Line: 10}
	assert.True(t, tr.Suppressed(f, 42, now))
	assert.False(t, tr.Suppressed(f, 99, now))
}

func TestFeedbackTrackerAdjustsAfterFiveRecords(t *testing.T) {
	ft := NewFeedbackTracker()
	for i := 0; i < 5; i++ {
		ft.Record("security", true)
	}
	assert.InDelta(t, 0.4, ft.Threshold("security"), 0.001)
}

func TestFeedbackTrackerIncreasesOnLowPositiveRate(t *testing.T) {
	ft := NewFeedbackTracker()
	ft.Record("style", true)
	for i := 0; i < 4; i++ {
		ft.Record("style", false)
	}
	assert.InDelta(t, 0.6, ft.Threshold("style"), 0.001)
}

func TestFeedbackTrackerDefaultBeforeFiveRecords(t *testing.T) {
	ft := NewFeedbackTracker()
	ft.Record("security", true)
	assert.Equal(t, 0.5, ft.Threshold("security"))
}

func TestWeightsColdStartDefaultsToOne(t *testing.T) {
	w := NewWeights()
	assert.Equal(t, 1.0, w.Weight("openai"))
}

func TestWeightsAfterFiveRecords(t *testing.T) {
	w := NewWeights()
	for i := 0; i < 4; i++ {
		w.Record("openai", true)
	}
	w.Record("openai", false)
	assert.InDelta(t, 0.3+0.7*0.8, w.Weight("openai"), 0.001)
}

func TestQuietFilterDropsBelowThreshold(t *testing.T) {
	conf := 0.4
	findings := []review.Finding{{Category: "style", Confidence: &conf}}
	out := QuietFilter(findings, NewFeedbackTracker(), 0.5, true)
	assert.Empty(t, out)
}

func TestQuietFilterKeepsAboveThreshold(t *testing.T) {
	conf := 0.9
	findings := []review.Finding{{Category: "style", Confidence: &conf}}
	out := QuietFilter(findings, NewFeedbackTracker(), 0.5, true)
	assert.Len(t, out, 1)
}
