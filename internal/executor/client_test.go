package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sanix-darker/mpr/internal/provider"
	"github.com/sanix-darker/mpr/internal/review"
)

func TestClassifyRateLimitUsesRetryAfterHeader(t *testing.T) {
	pe := &provider.ProviderError{Code: provider.ErrCodeRateLimit, RetryAfterSeconds: 30}
	ce := classify(pe)
	assert.Equal(t, FailureRateLimit, ce.Kind)
	assert.Equal(t, 30, int(ce.RetryAfter.Seconds()))
}

func TestClassifyRateLimitDefaultsRetryAfter(t *testing.T) {
	pe := &provider.ProviderError{Code: provider.ErrCodeRateLimit}
	ce := classify(pe)
	assert.Equal(t, defaultRetryAfter, ce.RetryAfter)
}

func TestClassifyAuthIsPermanent(t *testing.T) {
	pe := &provider.ProviderError{Code: provider.ErrCodeAuthentication}
	assert.Equal(t, FailurePermanent, classify(pe).Kind)
}

func TestClassifyOtherCodesAreTransient(t *testing.T) {
	pe := &provider.ProviderError{Code: provider.ErrCodeProviderUnavailable}
	assert.Equal(t, FailureTransient, classify(pe).Kind)
}

func TestClassifyContextDeadlineIsTimeout(t *testing.T) {
	assert.Equal(t, FailureTimeout, classify(context.DeadlineExceeded).Kind)
}

func TestClassifyNonProviderErrorIsTransient(t *testing.T) {
	assert.Equal(t, FailureTransient, classify(errors.New("boom")).Kind)
}

func TestReviewParsesJSONFindings(t *testing.T) {
	p := &fakeProvider{content: `{"summary":"looks fine","findings":[{"file":"x.go","line":10,"severity":"CRITICAL","title":"sql injection","message":"unescaped input"}]}`}
	result, cerr := Review(context.Background(), "openai", p, "prompt", 1000)
	assert.Nil(t, cerr)
	assert.Len(t, result.Findings, 1)
	assert.Equal(t, review.SeverityCritical, result.Findings[0].Severity)
	assert.Equal(t, "openai", result.Findings[0].Provider)
}

func TestReviewFallsBackToMarkdownParsing(t *testing.T) {
	p := &fakeProvider{content: "not json at all, just prose with no comments"}
	result, cerr := Review(context.Background(), "openai", p, "prompt", 1000)
	assert.Nil(t, cerr)
	assert.Empty(t, result.Findings)
}

func TestReviewSurfacesClassifiedError(t *testing.T) {
	p := &fakeProvider{err: &provider.ProviderError{Code: provider.ErrCodeRateLimit, RetryAfterSeconds: 5}}
	_, cerr := Review(context.Background(), "openai", p, "prompt", 1000)
	assert.NotNil(t, cerr)
	assert.Equal(t, FailureRateLimit, cerr.Kind)
}
