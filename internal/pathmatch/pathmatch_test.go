package pathmatch

import (
	"testing"

	"github.com/sanix-darker/mpr/internal/review"
	"github.com/stretchr/testify/assert"
)

func TestMatchDoubleStar(t *testing.T) {
	cases := []struct {
		glob, path string
		want       bool
	}{
		{"auth/**", "auth/login.go", true},
		{"auth/**", "auth/sub/login.go", true},
		{"auth/**", "other/login.go", false},
		{"**/*.test.ts", "src/auth/login.test.ts", true},
		{"**/*.test.ts", "src/auth/login.ts", false},
		{"*.md", "README.md", true},
		{"*.md", "docs/README.md", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Match(c.glob, c.path), "%s vs %s", c.glob, c.path)
	}
}

func TestMatcherHighestRankWins(t *testing.T) {
	rules := []Rule{
		{Glob: "auth/**", Intensity: review.IntensityThorough},
		{Glob: "**/*.test.ts", Intensity: review.IntensityLight},
	}
	m := New(rules, review.IntensityStandard)

	res := m.Match([]string{"auth/login.test.ts"})
	assert.Equal(t, review.IntensityThorough, res.Intensity)
}

func TestMatcherDefaultWhenNoMatch(t *testing.T) {
	m := New(nil, review.IntensityStandard)
	res := m.Match([]string{"README.md"})
	assert.Equal(t, review.IntensityStandard, res.Intensity)
	assert.Empty(t, res.MatchedPaths)
}

func TestMatcherMemoizes(t *testing.T) {
	rules := []Rule{{Glob: "**/*.test.ts", Intensity: review.IntensityLight}}
	m := New(rules, review.IntensityStandard)

	first := m.Match([]string{"app.test.ts"})
	second := m.Match([]string{"app.test.ts"})
	assert.Equal(t, first, second)
	assert.Len(t, m.perFile, 1)
}

func TestIntensityOverrideByHighestMatch(t *testing.T) {
	rules := []Rule{
		{Glob: "auth/**", Intensity: review.IntensityThorough},
		{Glob: "**/*.test.ts", Intensity: review.IntensityLight},
	}
	m := New(rules, review.IntensityStandard)
	res := m.Match([]string{"auth/login.test.ts"})
	assert.Equal(t, review.IntensityThorough, res.Intensity)
}
