package costtracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerAccumulatesPerProvider(t *testing.T) {
	tr := New(map[string]Pricing{
		"openai": {PromptPer1K: 0.01, CompletionPer1K: 0.03},
	})

	tr.Record("openai", 1000, 500)
	tr.Record("openai", 1000, 500)

	prompt, completion := tr.Usage("openai")
	assert.Equal(t, 2000, prompt)
	assert.Equal(t, 1000, completion)

	// (2000/1000*0.01) + (1000/1000*0.03) = 0.02 + 0.03 = 0.05
	assert.InDelta(t, 0.05, tr.TotalUSD(), 1e-9)
}

func TestTrackerUnknownProviderCostsZero(t *testing.T) {
	tr := New(nil)
	tr.Record("mystery", 100000, 100000)
	assert.Equal(t, 0.0, tr.TotalUSD())
}

func TestTrackerEstimateUSD(t *testing.T) {
	tr := New(map[string]Pricing{
		"openai": {PromptPer1K: 0.01, CompletionPer1K: 0.03},
	})
	est := tr.EstimateUSD("openai", 5, 1000, 2000)
	// per call: 0.01 + 0.06 = 0.07; *5 providers = 0.35
	assert.InDelta(t, 0.35, est, 1e-9)
}
