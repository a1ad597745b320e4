package consensus

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/sanix-darker/mpr/internal/review"
)

// Candidate is one provider's proposed suggestion for a single Finding
// key, kept around only long enough for ResolveSuggestions to run (Dedup
// discards individual suggestion texts once findings are merged).
type Candidate struct {
	Provider   string
	Suggestion string
}

// ResolveSuggestions picks, for each deduped finding, the suggestion text
// shared by the largest equivalence class of providers, attaching it
// only if that class's size meets minAgreement. The finding's File selects a
// tree-sitter grammar by extension; when none matches, equivalence falls
// back to whitespace-normalized string equality.
func ResolveSuggestions(findings []review.Finding, byKey map[string][]Candidate, minAgreement int) []review.Finding {
	for i := range findings {
		f := &findings[i]
		cands := byKey[f.Key()]
		if len(cands) == 0 {
			continue
		}

		winner, size := largestEquivalenceClass(f.File, cands)
		if size >= minAgreement {
			f.Suggestion = winner
		}
	}
	return findings
}

// largestEquivalenceClass groups candidate suggestions by structural
// equivalence (or normalized string equality when no grammar applies)
// and returns the representative text of the biggest group and its size.
// Ties keep the first-seen group (stable, since grouping is a linear
// scan in input order).
func largestEquivalenceClass(file string, cands []Candidate) (string, int) {
	lang := languageFor(file)

	type group struct {
		rep   string
		count int
	}
	var groups []group

	for _, c := range cands {
		matched := false
		for gi := range groups {
			if equivalent(lang, groups[gi].rep, c.Suggestion) {
				groups[gi].count++
				matched = true
				break
			}
		}
		if !matched {
			groups = append(groups, group{rep: c.Suggestion, count: 1})
		}
	}

	best := group{}
	for _, g := range groups {
		if g.count > best.count {
			best = g
		}
	}
	return best.rep, best.count
}

// equivalent compares two suggestion texts for structural equivalence
// using lang's grammar when available, else whitespace-normalized string
// equality.
func equivalent(lang *sitter.Language, a, b string) bool {
	if lang == nil {
		return normalizeWhitespace(a) == normalizeWhitespace(b)
	}

	treeA, errA := parseSource(lang, a)
	treeB, errB := parseSource(lang, b)
	if errA != nil || errB != nil {
		return normalizeWhitespace(a) == normalizeWhitespace(b)
	}

	return normalizedSExpr(treeA.RootNode()) == normalizedSExpr(treeB.RootNode())
}

// parseSource parses src with lang. A fresh *sitter.Parser is created per
// call rather than pooled: suggestion comparisons happen at consensus
// time, after the provider fan-out has already completed, so this path
// is no longer latency-sensitive enough to justify a parser pool.
func parseSource(lang *sitter.Language, src string) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	return parser.ParseCtx(context.Background(), nil, []byte(src))
}

// normalizedSExpr renders node's S-expression form, which tree-sitter
// already normalizes with respect to whitespace and (for grammars that
// mark them extra, as Go and JavaScript both do) comments.
func normalizedSExpr(node *sitter.Node) string {
	return node.String()
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// languageFor selects a tree-sitter grammar by file extension. Only Go
// and JavaScript grammars are wired in; an unrecognized extension returns
// nil and callers fall back to string equality.
func languageFor(file string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".go":
		return golang.GetLanguage()
	case ".js", ".jsx", ".mjs":
		return javascript.GetLanguage()
	default:
		return nil
	}
}
