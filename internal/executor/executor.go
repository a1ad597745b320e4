package executor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sanix-darker/mpr/internal/costtracker"
	"github.com/sanix-darker/mpr/internal/provider"
	"github.com/sanix-darker/mpr/internal/ratelimiter"
	"github.com/sanix-darker/mpr/internal/review"
)

var (
	errUnhealthy     = errors.New("executor: provider failed health check")
	errNotRegistered = errors.New("executor: provider not registered")
	errStillLimited  = errors.New("executor: provider still within rate-limit window")
)

// HealthTimeout bounds the optional pre-flight probe to a short window.
const HealthTimeout = 5 * time.Second

// Config parameterizes one Executor run. All fields are read-only once
// Run starts.
type Config struct {
	// MaxParallel bounds the worker pool (spec: providerMaxParallel).
	MaxParallel int

	// Retries is the number of extra attempts a Transient error gets
	// (spec: providerRetries), beyond the first call.
	Retries int

	// ProviderLimit caps the rotated provider subset to at most this many
	// entries; 0 means "no cap".
	ProviderLimit int

	// TimeoutMs bounds each individual provider call.
	TimeoutMs int

	// HealthCheck runs a trivial probe against each provider before the
	// fan-out when true.
	HealthCheck bool
}

// Providers resolves a provider name to its client and records usage.
type Providers map[string]provider.AIProvider

// Run executes the configured providers against prompt, honoring health
// checks, deterministic rotation, bounded parallelism, per-provider
// retries, rate-limit short-circuiting, and run-wide cancellation (spec
// §4.3). Results follow the rotated (and capped) provider order produced
// by Rotate, independent of completion order.
func Run(
	ctx context.Context,
	cfg Config,
	prNumber int64,
	providerNames []string,
	providers Providers,
	prompt string,
	limiter *ratelimiter.Limiter,
	tracker *costtracker.Tracker,
) []review.ProviderResult {
	ordered := Rotate(providerNames, prNumber)
	if cfg.ProviderLimit > 0 && len(ordered) > cfg.ProviderLimit {
		ordered = ordered[:cfg.ProviderLimit]
	}

	results := make([]review.ProviderResult, len(ordered))
	for i, name := range ordered {
		results[i].Provider = name
	}

	if cfg.HealthCheck {
		healthy := healthCheck(ctx, ordered, providers)
		for i, name := range ordered {
			if !healthy[name] {
				results[i].Status = review.ProviderError
				results[i].Err = &ClientError{Kind: FailurePermanent, Cause: errUnhealthy}
			}
		}
	}

	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	now := time.Now()
	for i, name := range ordered {
		i, name := i, name
		if results[i].Status == review.ProviderError {
			continue // already marked unhealthy
		}
		p, ok := providers[name]
		if !ok {
			results[i] = review.ProviderResult{
				Provider: name,
				Status:   review.ProviderError,
				Err:      &ClientError{Kind: FailurePermanent, Cause: errNotRegistered},
			}
			continue
		}

		g.Go(func() error {
			results[i] = runOne(gctx, cfg, name, p, prompt, limiter, tracker, now)
			return nil // a single provider's failure never aborts the run
		})
	}
	_ = g.Wait()

	return results
}

// runOne drives one provider through the rate-limiter short-circuit,
// retry loop, and result classification.
func runOne(
	ctx context.Context,
	cfg Config,
	name string,
	p provider.AIProvider,
	prompt string,
	limiter *ratelimiter.Limiter,
	tracker *costtracker.Tracker,
	now time.Time,
) review.ProviderResult {
	if limiter != nil {
		if limited, until := limiter.Limited(name, now); limited {
			return review.ProviderResult{
				Provider: name,
				Status:   review.ProviderRateLimited,
				Err: &ClientError{
					Kind:       FailureRateLimit,
					RetryAfter: until.Sub(now),
					Cause:      errStillLimited,
				},
			}
		}
	}

	attempts := cfg.Retries + 1
	var lastErr *ClientError
	var lastDuration time.Duration

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return review.ProviderResult{
				Provider: name,
				Status:   review.ProviderTimeout,
				Err:      &ClientError{Kind: FailureTimeout, Cause: ctx.Err()},
			}
		}

		result, cerr := Review(ctx, name, p, prompt, cfg.TimeoutMs)
		lastDuration = result.Duration
		if cerr == nil {
			if limiter != nil {
				limiter.Clear(name)
			}
			if tracker != nil {
				tracker.Record(name, result.Usage.PromptTokens, result.Usage.CompletionTokens)
			}
			return review.ProviderResult{
				Provider: name,
				Status:   review.ProviderSuccess,
				Result:   &result,
				Duration: result.Duration,
			}
		}

		lastErr = cerr
		switch cerr.Kind {
		case FailureRateLimit:
			if limiter != nil {
				limiter.Mark(name, cerr.RetryAfter, time.Now())
			}
			return review.ProviderResult{
				Provider: name,
				Status:   review.ProviderRateLimited,
				Err:      cerr,
				Duration: lastDuration,
			}
		case FailureTimeout:
			return review.ProviderResult{
				Provider: name,
				Status:   review.ProviderTimeout,
				Err:      cerr,
				Duration: lastDuration,
			}
		case FailurePermanent:
			return review.ProviderResult{
				Provider: name,
				Status:   review.ProviderError,
				Err:      cerr,
				Duration: lastDuration,
			}
		case FailureTransient:
			if attempt == attempts-1 {
				// Last attempt: fall out of the loop to the final return.
				continue
			}
			// Linear backoff: attempt-index seconds.
			select {
			case <-ctx.Done():
				return review.ProviderResult{
					Provider: name,
					Status:   review.ProviderTimeout,
					Err:      &ClientError{Kind: FailureTimeout, Cause: ctx.Err()},
					Duration: lastDuration,
				}
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}

	return review.ProviderResult{
		Provider: name,
		Status:   review.ProviderError,
		Err:      lastErr,
		Duration: lastDuration,
	}
}

// healthCheck runs a trivial probe against every provider concurrently,
// returning the set of provider names that answered successfully within
// HealthTimeout.
func healthCheck(ctx context.Context, names []string, providers Providers) map[string]bool {
	healthy := make(map[string]bool, len(names))
	var g errgroup.Group
	var mu sync.Mutex

	for _, name := range names {
		name := name
		p, ok := providers[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, HealthTimeout)
			defer cancel()
			err := p.Validate(hctx)
			mu.Lock()
			healthy[name] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return healthy
}

// Rotate reorders names into a deterministic rotation keyed by prNumber,
// so the same (prNumber, names) pair always yields the same ordering and,
// after truncation to providerLimit, the same subset.
func Rotate(names []string, prNumber int64) []string {
	n := len(names)
	if n == 0 {
		return nil
	}
	offset := int(prNumber % int64(n))
	if offset < 0 {
		offset += n
	}
	rotated := make([]string, n)
	for i := 0; i < n; i++ {
		rotated[i] = names[(offset+i)%n]
	}
	return rotated
}

// SortBySeverity orders results' findings by severity rank descending,
// preserving relative order for ties (ties preserve dedup insertion
// order).
func SortBySeverity(findings []review.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})
}
