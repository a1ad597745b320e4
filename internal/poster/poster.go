// Package poster publishes a synthesized review as an idempotent,
// marker-tagged summary comment plus diff-position-mapped inline
// comments, with a dry-run mode that logs the full payload instead of
// writing.
package poster

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sanix-darker/mpr/internal/diffparse"
	"github.com/sanix-darker/mpr/internal/review"
	"github.com/sanix-darker/mpr/internal/vcs"
)

// Marker tags every summary comment the poster writes, so a later run
// can find and edit it rather than accumulating duplicates.
const Marker = "<!-- multi-provider-code-review-bot -->"

// maxBodyBytes is the largest summary body a single comment may carry
// before it gets split into numbered parts.
const maxBodyBytes = 60_000

// Poster publishes a Review to a VCS provider.
type Poster struct {
	VCS    vcs.VCSProvider
	DryRun bool
	Logger zerolog.Logger
}

// New creates a Poster. A zero Logger is fine; zerolog.Logger's zero
// value discards output, which is only reached when the caller has not
// wired one in (dry-run mode expects one, for the preview output).
func New(provider vcs.VCSProvider, dryRun bool, logger zerolog.Logger) *Poster {
	return &Poster{VCS: provider, DryRun: dryRun, Logger: logger}
}

// PostSummary publishes body as a marker-tagged comment. When update is
// true and a prior marked comment exists, it is edited in place; a prior
// comment's absence, or update=false, always creates a new one. A body
// exceeding maxBodyBytes is split on paragraph boundaries into numbered,
// individually marked parts.
func (p *Poster) PostSummary(projectID string, mrIID int64, body string, update bool) error {
	tagged := ensureMarker(body)
	chunks := chunkByParagraph(tagged, maxBodyBytes)

	if p.DryRun {
		p.Logger.Info().
			Str("stage", "post_summary").
			Str("project", projectID).
			Int64("mr", mrIID).
			Int("parts", len(chunks)).
			Str("body", tagged).
			Msg("dry-run: summary not posted")
		return nil
	}

	var priorID int64
	if update {
		id, found, err := p.findPriorSummary(projectID, mrIID)
		if err != nil {
			return fmt.Errorf("poster: listing notes for update check: %w", err)
		}
		if found {
			priorID = id
		}
	}

	for i, chunk := range chunks {
		part := chunk
		if len(chunks) > 1 {
			part = fmt.Sprintf("%s\n\n_Part %d/%d_", chunk, i+1, len(chunks))
		}
		if i == 0 && priorID != 0 {
			if err := p.VCS.EditSummaryNote(projectID, mrIID, priorID, part); err != nil {
				return fmt.Errorf("poster: editing summary note: %w", err)
			}
			continue
		}
		if err := p.VCS.PostSummaryNote(projectID, mrIID, part); err != nil {
			return fmt.Errorf("poster: posting summary note part %d: %w", i+1, err)
		}
	}
	return nil
}

// findPriorSummary looks for the most recent marker-tagged note.
func (p *Poster) findPriorSummary(projectID string, mrIID int64) (int64, bool, error) {
	notes, err := p.VCS.ListMRNotes(projectID, mrIID)
	if err != nil {
		return 0, false, err
	}
	var id int64
	var found bool
	for _, n := range notes {
		if strings.Contains(n.Body, Marker) {
			id, found = n.ID, true
		}
	}
	return id, found, nil
}

func ensureMarker(body string) string {
	if strings.Contains(body, Marker) {
		return body
	}
	return Marker + "\n" + body
}

// chunkByParagraph splits body on blank-line paragraph boundaries into
// chunks no larger than limit bytes, re-tagging every chunk with Marker
// so every part is independently identifiable as bot output. A single
// paragraph longer than limit is kept whole rather than cut mid-word.
func chunkByParagraph(body string, limit int) []string {
	if len(body) <= limit {
		return []string{body}
	}

	paragraphs := strings.Split(body, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, ensureMarker(current.String()))
		current.Reset()
	}

	for _, para := range paragraphs {
		if current.Len() > 0 && current.Len()+len(para)+2 > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// InlinePostResult records the outcome of attempting to post one inline
// comment, so the orchestrator can count dropped comments without the
// poster owning metrics itself.
type InlinePostResult struct {
	Comment review.InlineComment
	Posted  bool
	Reason  string
}

// PostInline maps each comment onto a diff position by replaying changes
// and posts the ones that land on an added-or-context line; any comment
// that does not map is dropped with a warning, never relocated.
func (p *Poster) PostInline(projectID string, mrIID int64, refs vcs.DiffRefs, comments []review.InlineComment, changes []diffparse.FileChange) []InlinePostResult {
	positions := buildPositions(changes)
	results := make([]InlinePostResult, 0, len(comments))

	for _, c := range comments {
		oldLine, ok := resolvePosition(positions, c.File, c.Line)
		if !ok {
			p.Logger.Warn().
				Str("file", c.File).
				Int("line", c.Line).
				Msg("poster: inline comment dropped, no matching diff position")
			results = append(results, InlinePostResult{Comment: c, Posted: false, Reason: "no matching diff position"})
			continue
		}

		if p.DryRun {
			p.Logger.Info().
				Str("stage", "post_inline").
				Str("file", c.File).
				Int("line", c.Line).
				Str("body", c.Body).
				Msg("dry-run: inline comment not posted")
			results = append(results, InlinePostResult{Comment: c, Posted: true, Reason: "dry-run"})
			continue
		}

		err := p.VCS.PostInlineComment(projectID, mrIID, refs, vcs.InlineComment{
			FilePath: c.File,
			NewLine:  int64(c.Line),
			OldLine:  int64(oldLine),
			Body:     c.Body,
		})
		if err != nil {
			p.Logger.Warn().Err(err).Str("file", c.File).Int("line", c.Line).Msg("poster: inline comment post failed")
			results = append(results, InlinePostResult{Comment: c, Posted: false, Reason: err.Error()})
			continue
		}
		results = append(results, InlinePostResult{Comment: c, Posted: true})
	}

	return results
}
