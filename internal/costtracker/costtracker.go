// Package costtracker accumulates per-provider token usage and the
// estimated dollar cost of a run. It is injected into the orchestrator
// rather than read from a process-wide singleton.
package costtracker

import "sync"

// Pricing maps a provider+model pair to its per-1000-token rates. Cost
// pricing lookup itself is out of scope here; callers supply whatever
// table they have, including an empty one, in which case TotalUSD and
// EstimateUSD return 0 and token accounting still works.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Tracker accumulates usage under a single mutex so it is safe to share
// across the Executor's concurrent provider calls.
type Tracker struct {
	mu      sync.Mutex
	usage   map[string]tokenTotals
	pricing map[string]Pricing
}

type tokenTotals struct {
	prompt     int
	completion int
}

// New creates an empty Tracker. pricing may be nil.
func New(pricing map[string]Pricing) *Tracker {
	if pricing == nil {
		pricing = map[string]Pricing{}
	}
	return &Tracker{
		usage:   make(map[string]tokenTotals),
		pricing: pricing,
	}
}

// Record adds promptTokens/completionTokens to provider's running totals.
func (t *Tracker) Record(provider string, promptTokens, completionTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.usage[provider]
	cur.prompt += promptTokens
	cur.completion += completionTokens
	t.usage[provider] = cur
}

// TotalUSD sums the estimated cost across every provider recorded so far.
func (t *Tracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for provider, totals := range t.usage {
		price, ok := t.pricing[provider]
		if !ok {
			continue
		}
		total += float64(totals.prompt) / 1000 * price.PromptPer1K
		total += float64(totals.completion) / 1000 * price.CompletionPer1K
	}
	return total
}

// EstimateUSD projects the cost of calling providerCount providers with
// promptTokens input and maxTokens output each, using provider's pricing
// entry (or the zero Pricing if unset, which yields 0). Used by the
// orchestrator's over-budget pre-check (spec: "budgetMaxUsd ... over-budget
// PR is skipped").
func (t *Tracker) EstimateUSD(provider string, providerCount, promptTokens, maxTokens int) float64 {
	t.mu.Lock()
	price := t.pricing[provider]
	t.mu.Unlock()
	perCall := float64(promptTokens)/1000*price.PromptPer1K + float64(maxTokens)/1000*price.CompletionPer1K
	return perCall * float64(providerCount)
}

// Usage returns a snapshot of the accumulated prompt/completion tokens for
// provider.
func (t *Tracker) Usage(provider string) (prompt, completion int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.usage[provider]
	return cur.prompt, cur.completion
}
