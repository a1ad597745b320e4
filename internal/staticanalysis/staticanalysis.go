// Package staticanalysis is the non-LLM collaborator the orchestrator
// consumes through a narrow Collector interface; rule bodies, AST
// traversal, and security-scanner heuristics are out of scope here —
// this package only wires the contract and a minimal line-pattern
// collector so the consensus stage has a real non-LLM source to merge
// against.
package staticanalysis

import (
	"regexp"
	"strings"

	"github.com/sanix-darker/mpr/internal/diffparse"
	"github.com/sanix-darker/mpr/internal/review"
)

// Collector produces findings from a diff without calling an LLM.
type Collector interface {
	Collect(changes []diffparse.FileChange) []review.Finding
}

// rule matches one added line against a pattern and emits a Finding when
// it hits.
type rule struct {
	category string
	severity review.Severity
	title    string
	message  string
	pattern  *regexp.Regexp
}

var defaultRules = []rule{
	{
		category: "debug-artifact",
		severity: review.SeverityMinor,
		title:    "Leftover debug print",
		message:  "This looks like a debug print left in the change; consider removing it or routing through the project logger.",
		pattern:  regexp.MustCompile(`\b(console\.log|fmt\.Println|print\()\s*\(`),
	},
	{
		category: "todo-marker",
		severity: review.SeverityMinor,
		title:    "Unresolved TODO/FIXME",
		message:  "This line carries a TODO/FIXME marker; confirm it tracks a real follow-up before merging.",
		pattern:  regexp.MustCompile(`//\s*(TODO|FIXME)\b`),
	},
	{
		category: "hardcoded-secret",
		severity: review.SeverityCritical,
		title:    "Possible hardcoded credential",
		message:  "This line assigns what looks like a literal secret or API key; move it to configuration or a secret store.",
		pattern:  regexp.MustCompile(`(?i)(api_key|apikey|secret|password|token)\s*[:=]\s*["'][A-Za-z0-9_\-]{8,}["']`),
	},
}

// LineRuleCollector runs a fixed set of regex rules over every added line
// in the diff.
type LineRuleCollector struct {
	EnableASTAnalysis bool
	EnableSecurity    bool
	EnableTestHints   bool
	rules             []rule
}

// NewLineRuleCollector builds a collector whose active rule set is gated
// by the same feature flags that gate the LLM-side analysis depth, so
// disabling a concern (e.g. security) removes it from both sides.
func NewLineRuleCollector(enableAST, enableSecurity, enableTestHints bool) *LineRuleCollector {
	c := &LineRuleCollector{
		EnableASTAnalysis: enableAST,
		EnableSecurity:    enableSecurity,
		EnableTestHints:   enableTestHints,
	}
	for _, r := range defaultRules {
		if r.category == "hardcoded-secret" && !enableSecurity {
			continue
		}
		if (r.category == "debug-artifact" || r.category == "todo-marker") && !enableAST {
			continue
		}
		c.rules = append(c.rules, r)
	}
	return c
}

// Collect scans every added line of every hunk against the active rules,
// attributing each hit to review.StaticSourceName.
func (c *LineRuleCollector) Collect(changes []diffparse.FileChange) []review.Finding {
	var findings []review.Finding
	for _, fc := range changes {
		name := fc.NewName
		if name == "" {
			name = fc.OldName
		}
		if c.EnableTestHints && isTestFile(name) {
			findings = append(findings, missingAssertionHint(name, fc)...)
		}
		for _, h := range fc.Hunks {
			for _, l := range h.Lines {
				if l.Type != diffparse.LineAdded {
					continue
				}
				for _, r := range c.rules {
					if r.pattern.MatchString(l.Content) {
						conf := 1.0
						findings = append(findings, review.Finding{
							File:       name,
							Line:       l.NewLineNo,
							Severity:   r.severity,
							Title:      r.title,
							Message:    r.message,
							Provider:   review.StaticSourceName,
							Providers:  map[string]struct{}{review.StaticSourceName: {}},
							Confidence: &conf,
							Category:   r.category,
						})
					}
				}
			}
		}
	}
	return findings
}

func isTestFile(name string) bool {
	return strings.HasSuffix(name, "_test.go") ||
		strings.Contains(name, ".test.") ||
		strings.HasSuffix(name, "_spec.rb")
}

// missingAssertionHint flags a new test file whose added lines never
// mention an assertion call, a light-touch heuristic rather than a real
// AST check.
func missingAssertionHint(name string, fc diffparse.FileChange) []review.Finding {
	if !fc.IsNew {
		return nil
	}
	hasAssertion := false
	lastAddedLine := 0
	for _, h := range fc.Hunks {
		for _, l := range h.Lines {
			if l.Type != diffparse.LineAdded {
				continue
			}
			lastAddedLine = l.NewLineNo
			if strings.Contains(l.Content, "assert") || strings.Contains(l.Content, "require.") || strings.Contains(l.Content, "expect(") {
				hasAssertion = true
			}
		}
	}
	if hasAssertion || lastAddedLine == 0 {
		return nil
	}
	conf := 1.0
	return []review.Finding{{
		File:       name,
		Line:       lastAddedLine,
		Severity:   review.SeverityMinor,
		Title:      "New test file has no visible assertions",
		Message:    "This new test file doesn't appear to assert anything; confirm it actually exercises the behavior under test.",
		Provider:   review.StaticSourceName,
		Providers:  map[string]struct{}{review.StaticSourceName: {}},
		Confidence: &conf,
		Category:   "test-hint",
	}}
}
