package cachestore

import "strconv"

// Well-known logical keys for the persisted state layout.
const (
	KeyProviderWeights    = "provider-weights"
	KeyFeedbackLearning   = "feedback-learning-data"
	suppressionKeyPrefix  = "suppression-"
	incrementalKeyPrefix  = "incremental-review-pr-"
)

// IncrementalKey returns the logical key for a PR's incremental-review
// state.
func IncrementalKey(prNumber int64) string {
	return incrementalKeyPrefix + strconv.FormatInt(prNumber, 10)
}

// SuppressionKey returns the logical key for a repository's suppression
// pattern set.
func SuppressionKey(repoKey string) string {
	return suppressionKeyPrefix + repoKey
}

// RunCacheKey returns the logical key for a cached Review, keyed by
// (prNumber, headSha, intensity, provider-set-hash).
func RunCacheKey(prNumber int64, headSHA, intensity, providerSetHash string) string {
	return "run-" + strconv.FormatInt(prNumber, 10) + "-" + headSHA + "-" + intensity + "-" + providerSetHash
}
