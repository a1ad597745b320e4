package poster

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanix-darker/mpr/internal/diffparse"
	"github.com/sanix-darker/mpr/internal/review"
	"github.com/sanix-darker/mpr/internal/vcs"
)

type fakeVCS struct {
	notes       []vcs.MRNote
	posted      []string
	edited      map[int64]string
	inline      []vcs.InlineComment
	postErr     error
	nextNoteID  int64
	listErr     error
}

func (f *fakeVCS) Info() vcs.ProviderInfo                               { return vcs.ProviderInfo{Name: "fake"} }
func (f *fakeVCS) Validate() error                                      { return nil }
func (f *fakeVCS) FormatSuggestionBlock(s string) string                { return s }
func (f *fakeVCS) FetchMR(string, int64) (*vcs.MergeRequest, error)     { return nil, nil }
func (f *fakeVCS) FetchMRDiffs(string, int64) ([]vcs.FileDiff, error)   { return nil, nil }
func (f *fakeVCS) FetchMRRawDiff(string, int64) (string, error)         { return "", nil }
func (f *fakeVCS) ListMRDiscussions(string, int64) ([]vcs.MRDiscussion, error) {
	return nil, nil
}
func (f *fakeVCS) ListMRNotes(string, int64) ([]vcs.MRNote, error) { return f.notes, f.listErr }
func (f *fakeVCS) ListOpenMRs(string) ([]*vcs.MergeRequest, error) { return nil, nil }
func (f *fakeVCS) PostSummaryNote(projectID string, mrIID int64, body string) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, body)
	f.nextNoteID++
	f.notes = append(f.notes, vcs.MRNote{ID: f.nextNoteID, Body: body})
	return nil
}
func (f *fakeVCS) EditSummaryNote(projectID string, mrIID int64, noteID int64, body string) error {
	if f.edited == nil {
		f.edited = make(map[int64]string)
	}
	f.edited[noteID] = body
	return nil
}
func (f *fakeVCS) PostInlineComment(projectID string, mrIID int64, refs vcs.DiffRefs, comment vcs.InlineComment) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.inline = append(f.inline, comment)
	return nil
}
func (f *fakeVCS) ReplyToMRDiscussion(string, int64, string, string) error { return nil }

func TestPostSummaryCreatesNewWhenNoPriorExists(t *testing.T) {
	v := &fakeVCS{}
	p := New(v, false, zerolog.Nop())

	err := p.PostSummary("proj", 1, "review body", true)

	require.NoError(t, err)
	require.Len(t, v.posted, 1)
	assert.Contains(t, v.posted[0], Marker)
	assert.Contains(t, v.posted[0], "review body")
	assert.Empty(t, v.edited)
}

func TestPostSummaryEditsPriorMarkedComment(t *testing.T) {
	v := &fakeVCS{notes: []vcs.MRNote{
		{ID: 7, Body: Marker + "\nold review"},
		{ID: 8, Body: "unrelated human comment"},
	}}
	p := New(v, false, zerolog.Nop())

	err := p.PostSummary("proj", 1, "new review body", true)

	require.NoError(t, err)
	assert.Empty(t, v.posted)
	require.Contains(t, v.edited, int64(7))
	assert.Contains(t, v.edited[7], "new review body")
}

func TestPostSummaryWithUpdateFalseAlwaysCreatesNew(t *testing.T) {
	v := &fakeVCS{notes: []vcs.MRNote{{ID: 7, Body: Marker + "\nold review"}}}
	p := New(v, false, zerolog.Nop())

	err := p.PostSummary("proj", 1, "new review body", false)

	require.NoError(t, err)
	assert.Empty(t, v.edited)
	require.Len(t, v.posted, 1)
}

func TestPostSummaryChunksLargeBodyAndTagsEveryPart(t *testing.T) {
	v := &fakeVCS{}
	p := New(v, false, zerolog.Nop())

	var paras []string
	for i := 0; i < 2000; i++ {
		paras = append(paras, strings.Repeat("x", 50))
	}
	big := strings.Join(paras, "\n\n")

	err := p.PostSummary("proj", 1, big, true)

	require.NoError(t, err)
	require.Greater(t, len(v.posted), 1)
	for _, part := range v.posted {
		assert.Contains(t, part, Marker)
		assert.LessOrEqual(t, len(part), maxBodyBytes+200)
	}
}

func TestPostSummaryDryRunDoesNotWrite(t *testing.T) {
	v := &fakeVCS{}
	p := New(v, true, zerolog.Nop())

	err := p.PostSummary("proj", 1, "body", true)

	require.NoError(t, err)
	assert.Empty(t, v.posted)
	assert.Empty(t, v.edited)
}

func TestPostSummaryPropagatesPostError(t *testing.T) {
	v := &fakeVCS{postErr: errors.New("boom")}
	p := New(v, false, zerolog.Nop())

	err := p.PostSummary("proj", 1, "body", true)

	require.Error(t, err)
}

func sampleChanges() []diffparse.FileChange {
	return []diffparse.FileChange{
		{
			NewName: "main.go",
			Hunks: []diffparse.Hunk{
				{Lines: []diffparse.DiffLine{
					{Type: diffparse.LineContext, Content: "package main", OldLineNo: 1, NewLineNo: 1},
					{Type: diffparse.LineAdded, Content: "// added", NewLineNo: 2},
					{Type: diffparse.LineDeleted, Content: "// old", OldLineNo: 2},
				}},
			},
		},
	}
}

func TestPostInlinePostsCommentsThatMapToDiffPositions(t *testing.T) {
	v := &fakeVCS{}
	p := New(v, false, zerolog.Nop())

	results := p.PostInline("proj", 1, vcs.DiffRefs{}, []review.InlineComment{
		{File: "main.go", Line: 2, Body: "looks off"},
	}, sampleChanges())

	require.Len(t, results, 1)
	assert.True(t, results[0].Posted)
	require.Len(t, v.inline, 1)
	assert.Equal(t, "main.go", v.inline[0].FilePath)
	assert.Equal(t, int64(2), v.inline[0].NewLine)
}

func TestPostInlineDropsCommentOutsideDiff(t *testing.T) {
	v := &fakeVCS{}
	p := New(v, false, zerolog.Nop())

	results := p.PostInline("proj", 1, vcs.DiffRefs{}, []review.InlineComment{
		{File: "main.go", Line: 999, Body: "stray"},
	}, sampleChanges())

	require.Len(t, results, 1)
	assert.False(t, results[0].Posted)
	assert.Empty(t, v.inline)
}

func TestPostInlineDryRunDoesNotCallVCS(t *testing.T) {
	v := &fakeVCS{}
	p := New(v, true, zerolog.Nop())

	results := p.PostInline("proj", 1, vcs.DiffRefs{}, []review.InlineComment{
		{File: "main.go", Line: 2, Body: "looks off"},
	}, sampleChanges())

	require.Len(t, results, 1)
	assert.True(t, results[0].Posted)
	assert.Empty(t, v.inline)
}
