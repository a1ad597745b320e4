package cachestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Count int
}

func TestSetAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set("k1", sample{Name: "a", Count: 3}))

	var out sample
	require.NoError(t, s.Get("k1", &out))
	assert.Equal(t, sample{Name: "a", Count: 3}, out)
}

func TestGetMissReturnsErrMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	var out sample
	err = s.Get("nope", &out)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSetOverwritesAndIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set("k1", sample{Name: "a", Count: 1}))
	require.NoError(t, s.Set("k1", sample{Name: "b", Count: 2}))

	var out sample
	require.NoError(t, s.Get("k1", &out))
	assert.Equal(t, sample{Name: "b", Count: 2}, out)

	// No leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	assert.Empty(t, matches)
}

func TestDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set("k1", sample{Name: "a"}))
	require.NoError(t, s.Delete("k1"))
	require.NoError(t, s.Delete("k1"))

	var out sample
	assert.ErrorIs(t, s.Get("k1", &out), ErrMiss)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "incremental-review-pr-42", IncrementalKey(42))
	assert.Equal(t, "suppression-acme/widgets", SuppressionKey("acme/widgets"))
}
