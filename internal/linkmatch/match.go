// Package linkmatch decides which registered code links are affected by the
// files changed in a pull request or commit.
package linkmatch

import (
	"context"
	"io"
	"log"
	"strings"

	"github.com/mohammad-safakhou/docwatch/internal/patch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// ChangedFile is one file touched by a change set.
type ChangedFile struct {
	Path  string
	Patch patch.Patch
}

// Reason explains why a link matched.
type Reason string

const (
	ReasonFile   Reason = "file"
	ReasonFolder Reason = "folder"
	ReasonLines  Reason = "lines"
	// ReasonUnresolved marks a lines link whose range could not be followed
	// to the current revision. It is reported rather than dropped.
	ReasonUnresolved Reason = "unresolved"
)

// Match pairs an affected link with the file that affected it.
type Match struct {
	Link   store.CodeLink
	File   string
	Reason Reason
}

// BaselineFunc returns the patch of path between the link's snapshot sha and
// the revision the change set is based on. An empty patch means nothing
// changed in between.
type BaselineFunc func(ctx context.Context, link store.CodeLink, path string) (patch.Patch, error)

// Matcher evaluates links against changed files.
type Matcher struct {
	// Baseline is optional. Without it, stored ranges are assumed to be in the
	// numbering of the change set's old side.
	Baseline BaselineFunc
	Logger   *log.Logger
}

// New returns a Matcher with the given baseline source.
func New(baseline BaselineFunc, logger *log.Logger) *Matcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Matcher{Baseline: baseline, Logger: logger}
}

// Match returns at most one match per link, in link order.
func (m *Matcher) Match(ctx context.Context, files []ChangedFile, links []store.CodeLink) []Match {
	var out []Match
	for _, link := range links {
		for _, f := range files {
			reason, ok := m.matchOne(ctx, link, f)
			if !ok {
				continue
			}
			out = append(out, Match{Link: link, File: f.Path, Reason: reason})
			break
		}
	}
	return out
}

func (m *Matcher) matchOne(ctx context.Context, link store.CodeLink, f ChangedFile) (Reason, bool) {
	switch link.Type {
	case store.LinkFile:
		if pathMatches(f.Path, link.File) {
			return ReasonFile, true
		}
	case store.LinkFolder:
		if link.File != "" && strings.Contains(f.Path, link.File) {
			return ReasonFolder, true
		}
	case store.LinkLines:
		if !pathMatches(f.Path, link.File) {
			return "", false
		}
		return m.matchLines(ctx, link, f)
	}
	return "", false
}

// pathMatches accepts equal paths and paths where one is a suffix of the
// other, which absorbs repository-root prefix differences between clients.
func pathMatches(changed, stored string) bool {
	if changed == "" || stored == "" {
		return false
	}
	return strings.HasSuffix(changed, stored) || strings.HasSuffix(stored, changed)
}

func (m *Matcher) matchLines(ctx context.Context, link store.CodeLink, f ChangedFile) (Reason, bool) {
	if link.Line == nil || link.EndLine == nil {
		return ReasonUnresolved, true
	}
	// Binary or oversized files come without a patch; the path alone decides.
	if f.Patch.Empty() {
		return ReasonUnresolved, true
	}
	start, end := *link.Line, *link.EndLine
	if m.Baseline != nil && link.SHA != "" {
		base, err := m.Baseline(ctx, link, f.Path)
		if err != nil {
			m.Logger.Printf("baseline for link %s unavailable: %v", link.ID, err)
			return ReasonUnresolved, true
		}
		var okStart, okEnd bool
		start, okStart = base.MapOldLine(start)
		end, okEnd = base.MapOldLine(end)
		if !okStart || !okEnd {
			return ReasonUnresolved, true
		}
	}
	if f.Patch.Touches(start, end) {
		return ReasonLines, true
	}
	return "", false
}
