// Package executor translates a prompt and a provider into a
// review.ProviderRunResult or a classified failure, then fans that call
// out across a bounded worker pool with retry, rate-limit, and timeout
// handling.
//
// The wire-level HTTP work is already implemented by the per-provider
// internal/provider clients (openai, anthropic, azure, compat); this
// package sits one layer above AIProvider.Complete, adding the
// RateLimit/Timeout/Transient/Permanent taxonomy the rest of the pipeline
// reasons about.
package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sanix-darker/mpr/internal/core"
	"github.com/sanix-darker/mpr/internal/provider"
	"github.com/sanix-darker/mpr/internal/review"
)

// FailureKind classifies a Provider Client failure.
type FailureKind string

const (
	FailureRateLimit FailureKind = "rate_limit"
	FailureTimeout   FailureKind = "timeout"
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// ClientError wraps a classified Provider Client failure. RetryAfter is
// only meaningful when Kind == FailureRateLimit.
type ClientError struct {
	Kind       FailureKind
	RetryAfter time.Duration
	Cause      error
}

func (e *ClientError) Error() string {
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// classify maps a provider.AIProvider error into the Provider Client's
// failure taxonomy: RateLimit/Timeout/Transient/Permanent.
func classify(err error) *ClientError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Kind: FailureTimeout, Cause: err}
	}

	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case provider.ErrCodeRateLimit:
			after := pe.RetryAfterSeconds
			var d time.Duration
			if after > 0 {
				d = time.Duration(after) * time.Second
			} else {
				d = defaultRetryAfter
			}
			return &ClientError{Kind: FailureRateLimit, RetryAfter: d, Cause: err}
		case provider.ErrCodeTimeout:
			return &ClientError{Kind: FailureTimeout, Cause: err}
		case provider.ErrCodeAuthentication:
			return &ClientError{Kind: FailurePermanent, Cause: err}
		default:
			// Invalid request, content filter, context length, provider
			// unavailable, and unknown codes all surface as Transient.
			return &ClientError{Kind: FailureTransient, Cause: err}
		}
	}

	return &ClientError{Kind: FailureTransient, Cause: err}
}

// defaultRetryAfter mirrors ratelimiter.DefaultRetryAfter; duplicated here
// (rather than importing internal/ratelimiter) to keep this package's only
// dependency on rate-limit bookkeeping at the call-site, which owns the
// shared Limiter.
const defaultRetryAfter = 3600 * time.Second

// normalizeSeverity maps a core.FileComment severity string onto the
// review package's three-tier Severity, collapsing the existing
// CRITICAL > HIGH > MEDIUM > LOW ranking onto critical > major > minor.
func normalizeSeverity(sev string) review.Severity {
	switch strings.ToUpper(strings.TrimSpace(sev)) {
	case "CRITICAL":
		return review.SeverityCritical
	case "HIGH", "MEDIUM":
		return review.SeverityMajor
	case "LOW":
		return review.SeverityMinor
	default:
		return review.SeverityMinor
	}
}

// toFindings converts a parsed core.ReviewResult into review.Finding
// records attributed to providerName, with a default per-source confidence
// of 1.0 on first insert.
func toFindings(providerName string, rr core.ReviewResult) []review.Finding {
	findings := make([]review.Finding, 0, len(rr.FileComments))
	for _, c := range rr.FileComments {
		conf := 1.0
		findings = append(findings, review.Finding{
			File:       c.FilePath,
			Line:       c.Line,
			Severity:   normalizeSeverity(c.Severity),
			Title:      firstLine(c.Message),
			Message:    c.Message,
			Suggestion: c.Suggestion,
			Provider:   providerName,
			Confidence: &conf,
			Category:   strings.ToLower(c.Kind),
		})
	}
	return findings
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	if len(s) > 120 {
		return s[:120]
	}
	return s
}

// Review is the Provider Client contract: review(prompt, timeoutMs) ->
// ReviewResult, or a classified failure. Response parsing accepts JSON
// (object or array, fenced or bare) and
// falls back to the markdown parser; on total parse failure the result
// has an empty findings list but is not itself an error.
func Review(ctx context.Context, providerName string, p provider.AIProvider, prompt string, timeoutMs int) (review.ProviderRunResult, *ClientError) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	req := provider.CompletionRequest{
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		MaxTokens: 2000,
		Temperature: floatPtr(0.1),
	}

	start := time.Now()
	resp, err := p.Complete(ctx, req)
	duration := time.Since(start)
	if err != nil {
		return review.ProviderRunResult{Duration: duration}, classify(err)
	}

	rr, ok := core.ParseReviewResponseJSON(resp.Content)
	if !ok {
		rr = core.ParseReviewResponse(resp.Content)
	}

	result := review.ProviderRunResult{
		Content:  resp.Content,
		Findings: toFindings(providerName, rr),
		Usage: review.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Duration: duration,
	}
	return result, nil
}

func floatPtr(f float64) *float64 { return &f }
