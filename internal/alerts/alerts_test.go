package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/docwatch/internal/linkmatch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

var docs = map[string]store.Document{
	"d1": {ID: "d1", Title: "Quickstart", URL: "https://docs.example.com/quickstart"},
	"d2": {ID: "d2", URL: "https://docs.example.com/api"},
}

func TestFormatExistingAndStale(t *testing.T) {
	t.Parallel()
	matches := []linkmatch.Match{
		{Link: store.CodeLink{ID: "l1", DocID: "d1"}, File: "src/a.go", Reason: linkmatch.ReasonFile},
		{Link: store.CodeLink{ID: "l2", DocID: "d2"}, File: "src/b.go", Reason: linkmatch.ReasonUnresolved},
		{Link: store.CodeLink{ID: "l3", DocID: "missing"}, File: "src/c.go", Reason: linkmatch.ReasonFile},
	}
	got := Format(matches, docs, nil)
	require.Len(t, got, 2)

	assert.Equal(t, TypeExisting, got[0].Type)
	assert.Equal(t, "l1", got[0].CodeLinkID)
	assert.Equal(t, "src/a.go", got[0].MatchedFile)
	assert.Contains(t, got[0].Message, "Quickstart")
	require.NotNil(t, got[0].Code)
	assert.Equal(t, "l1", got[0].Code.ID)

	assert.Equal(t, TypeStale, got[1].Type)
	assert.Contains(t, got[1].Message, "https://docs.example.com/api")
}

func TestFormatCandidates(t *testing.T) {
	t.Parallel()
	matches := []linkmatch.Match{{Link: store.CodeLink{ID: "l1", DocID: "d1"}, File: "src/a.go", Reason: linkmatch.ReasonFile}}
	candidates := []Candidate{
		{DocumentID: "d1", File: "src/a.go"},
		{DocumentID: "d2", File: "src/a.go"},
		{DocumentID: "d2", File: "src/a.go"},
		{DocumentID: "nope", File: "src/a.go"},
	}
	got := Format(matches, docs, candidates)
	require.Len(t, got, 2)
	assert.Equal(t, TypeNew, got[1].Type)
	assert.Equal(t, "d2", got[1].DocumentID)
	assert.Empty(t, got[1].CodeLinkID)
}

func TestFormatEmptyIsNotNil(t *testing.T) {
	t.Parallel()
	got := Format(nil, nil, nil)
	assert.NotNil(t, got)
	assert.Len(t, got, 0)
}

func TestDocumentIDs(t *testing.T) {
	t.Parallel()
	matches := []linkmatch.Match{{Link: store.CodeLink{DocID: "d1"}}, {Link: store.CodeLink{DocID: "d1"}}}
	assert.Equal(t, []string{"d1", "d2"}, DocumentIDs(matches, []Candidate{{DocumentID: "d2"}, {DocumentID: ""}}))
}
