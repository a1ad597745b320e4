package staticanalysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanix-darker/mpr/internal/diffparse"
	"github.com/sanix-darker/mpr/internal/review"
)

func changeWith(name string, isNew bool, lines ...diffparse.DiffLine) diffparse.FileChange {
	return diffparse.FileChange{
		NewName: name,
		IsNew:   isNew,
		Hunks:   []diffparse.Hunk{{Lines: lines}},
	}
}

func TestCollectFlagsDebugPrint(t *testing.T) {
	c := NewLineRuleCollector(true, true, true)
	changes := []diffparse.FileChange{
		changeWith("main.go", false, diffparse.DiffLine{Type: diffparse.LineAdded, Content: `fmt.Println("debug")`, NewLineNo: 10}),
	}

	findings := c.Collect(changes)

	require.Len(t, findings, 1)
	assert.Equal(t, "debug-artifact", findings[0].Category)
	assert.Contains(t, findings[0].Providers, review.StaticSourceName)
}

func TestCollectFlagsHardcodedSecretOnlyWhenSecurityEnabled(t *testing.T) {
	changes := []diffparse.FileChange{
		changeWith("config.go", false, diffparse.DiffLine{Type: diffparse.LineAdded, Content: `apiKey = "sk-abcdefgh12345678"`, NewLineNo: 3}),
	}

	withSecurity := NewLineRuleCollector(true, true, true).Collect(changes)
	require.Len(t, withSecurity, 1)
	assert.Equal(t, review.SeverityCritical, withSecurity[0].Severity)

	withoutSecurity := NewLineRuleCollector(true, false, true).Collect(changes)
	assert.Empty(t, withoutSecurity)
}

func TestCollectIgnoresDeletedLines(t *testing.T) {
	c := NewLineRuleCollector(true, true, true)
	changes := []diffparse.FileChange{
		changeWith("main.go", false, diffparse.DiffLine{Type: diffparse.LineDeleted, Content: `fmt.Println("debug")`, OldLineNo: 4}),
	}

	assert.Empty(t, c.Collect(changes))
}

func TestCollectFlagsNewTestFileWithoutAssertions(t *testing.T) {
	c := NewLineRuleCollector(true, true, true)
	changes := []diffparse.FileChange{
		changeWith("thing_test.go", true,
			diffparse.DiffLine{Type: diffparse.LineAdded, Content: "func TestThing(t *testing.T) {}", NewLineNo: 1},
		),
	}

	findings := c.Collect(changes)

	require.Len(t, findings, 1)
	assert.Equal(t, "test-hint", findings[0].Category)
}

func TestCollectSkipsTestFileWithAssertions(t *testing.T) {
	c := NewLineRuleCollector(true, true, true)
	changes := []diffparse.FileChange{
		changeWith("thing_test.go", true,
			diffparse.DiffLine{Type: diffparse.LineAdded, Content: "assert.Equal(t, 1, 1)", NewLineNo: 2},
		),
	}

	assert.Empty(t, c.Collect(changes))
}
