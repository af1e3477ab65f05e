package linkmatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/docwatch/internal/patch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

func intp(v int) *int { return &v }

func linesLink(id string, start, end int) store.CodeLink {
	return store.CodeLink{ID: id, DocID: "doc-" + id, Type: store.LinkLines, File: "src/b.go", Line: intp(start), EndLine: intp(end), SHA: "abc"}
}

// edits line 12 (removed) and inserts one line after 14
const prPatch = "@@ -10,6 +10,6 @@\n ten\n eleven\n-twelve\n thirteen\n fourteen\n+inserted\n fifteen"

func TestFileLinkSuffixMatching(t *testing.T) {
	t.Parallel()
	link := store.CodeLink{ID: "l1", Type: store.LinkFile, File: "src/a.ts"}
	m := New(nil, nil)
	for _, path := range []string{"a.ts", "/repo/src/a.ts", "src/a.ts"} {
		got := m.Match(context.Background(), []ChangedFile{{Path: path}}, []store.CodeLink{link})
		require.Len(t, got, 1, "path %s should match", path)
		assert.Equal(t, ReasonFile, got[0].Reason)
	}
	got := m.Match(context.Background(), []ChangedFile{{Path: "src/ab.ts"}}, []store.CodeLink{link})
	assert.Empty(t, got)
}

func TestFolderLinkSubstring(t *testing.T) {
	t.Parallel()
	link := store.CodeLink{ID: "l1", Type: store.LinkFolder, File: "pkg/api"}
	m := New(nil, nil)
	got := m.Match(context.Background(), []ChangedFile{{Path: "services/pkg/api/handler.go"}}, []store.CodeLink{link})
	require.Len(t, got, 1)
	assert.Equal(t, ReasonFolder, got[0].Reason)
	assert.Empty(t, m.Match(context.Background(), []ChangedFile{{Path: "pkg/web/handler.go"}}, []store.CodeLink{link}))
}

func TestLinesLinkOverlap(t *testing.T) {
	t.Parallel()
	m := New(nil, nil)
	files := []ChangedFile{{Path: "src/b.go", Patch: patch.Parse(prPatch)}}

	assert.Empty(t, m.Match(context.Background(), files, []store.CodeLink{linesLink("far", 1, 5)}))
	assert.Empty(t, m.Match(context.Background(), files, []store.CodeLink{linesLink("adjacent", 13, 14)}))

	got := m.Match(context.Background(), files, []store.CodeLink{linesLink("hit", 11, 13)})
	require.Len(t, got, 1)
	assert.Equal(t, ReasonLines, got[0].Reason)

	got = m.Match(context.Background(), files, []store.CodeLink{linesLink("insert", 14, 15)})
	require.Len(t, got, 1)
}

func TestLinesLinkWithoutPatchFailsOpen(t *testing.T) {
	t.Parallel()
	m := New(nil, nil)
	got := m.Match(context.Background(), []ChangedFile{{Path: "src/b.go"}}, []store.CodeLink{linesLink("bin", 1, 2)})
	require.Len(t, got, 1)
	assert.Equal(t, ReasonUnresolved, got[0].Reason)
}

func TestOneMatchPerLink(t *testing.T) {
	t.Parallel()
	link := store.CodeLink{ID: "l1", Type: store.LinkFolder, File: "docs/"}
	files := []ChangedFile{{Path: "docs/a.md"}, {Path: "docs/b.md"}}
	got := New(nil, nil).Match(context.Background(), files, []store.CodeLink{link})
	require.Len(t, got, 1)
	assert.Equal(t, "docs/a.md", got[0].File)
}

func TestBaselineMapsRangeBeforeOverlap(t *testing.T) {
	t.Parallel()
	// Three lines were inserted at the top of the file after the link was
	// created, so the stored range 8-9 now sits at 11-12.
	baseline := func(context.Context, store.CodeLink, string) (patch.Patch, error) {
		return patch.Parse("@@ -0,0 +1,3 @@\n+a\n+b\n+c"), nil
	}
	m := New(baseline, nil)
	files := []ChangedFile{{Path: "src/b.go", Patch: patch.Parse(prPatch)}}
	got := m.Match(context.Background(), files, []store.CodeLink{linesLink("shifted", 8, 9)})
	require.Len(t, got, 1)
	assert.Equal(t, ReasonLines, got[0].Reason)

	assert.Empty(t, New(nil, nil).Match(context.Background(), files, []store.CodeLink{linesLink("unshifted", 8, 9)}))
}

func TestBaselineFailureFailsOpen(t *testing.T) {
	t.Parallel()
	baseline := func(context.Context, store.CodeLink, string) (patch.Patch, error) {
		return patch.Patch{}, errors.New("compare unavailable")
	}
	files := []ChangedFile{{Path: "src/b.go", Patch: patch.Parse(prPatch)}}
	got := New(baseline, nil).Match(context.Background(), files, []store.CodeLink{linesLink("x", 1, 2)})
	require.Len(t, got, 1)
	assert.Equal(t, ReasonUnresolved, got[0].Reason)
}

func TestBaselineDeletedRangeIsUnresolved(t *testing.T) {
	t.Parallel()
	baseline := func(context.Context, store.CodeLink, string) (patch.Patch, error) {
		return patch.Parse("@@ -1,3 +1,1 @@\n keep\n-gone\n-gone2"), nil
	}
	files := []ChangedFile{{Path: "src/b.go", Patch: patch.Parse(prPatch)}}
	got := New(baseline, nil).Match(context.Background(), files, []store.CodeLink{linesLink("deleted", 2, 3)})
	require.Len(t, got, 1)
	assert.Equal(t, ReasonUnresolved, got[0].Reason)
}
