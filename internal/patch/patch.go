// Package patch parses the unified diff fragments that hosting APIs attach to
// changed files and answers position questions about them.
package patch

import (
	"bytes"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Kind classifies a single patch line.
type Kind string

const (
	KindContext Kind = "context"
	KindAdd     Kind = "add"
	KindRemove  Kind = "remove"
)

// Record is one line of a hunk body. OldLine is zero for additions and
// NewLine is zero for removals.
type Record struct {
	Kind    Kind   `json:"kind"`
	OldLine int    `json:"oldLineNumber,omitempty"`
	NewLine int    `json:"newLineNumber,omitempty"`
	Text    string `json:"text"`

	// anchor is the old-file line an addition is inserted before.
	anchor int
}

// Hunk mirrors a single "@@ -a,b +c,d @@" section.
type Hunk struct {
	OldStart int      `json:"oldStart"`
	OldLines int      `json:"oldLines"`
	NewStart int      `json:"newStart"`
	NewLines int      `json:"newLines"`
	Records  []Record `json:"records"`
}

// Patch is the parsed form of one file's patch. The zero value is an empty
// patch and is safe to query.
type Patch struct {
	Hunks []Hunk `json:"hunks"`
}

// Parse converts patch text into hunks. Missing, empty or malformed input
// yields an empty Patch.
func Parse(text string) Patch {
	normalized := normalize(text)
	if len(normalized) == 0 {
		return Patch{}
	}
	raw, err := diff.ParseHunks(normalized)
	if err != nil || len(raw) == 0 {
		return Patch{}
	}
	out := Patch{Hunks: make([]Hunk, 0, len(raw))}
	for _, h := range raw {
		out.Hunks = append(out.Hunks, convertHunk(h))
	}
	return out
}

// normalize drops anything before the first hunk header (git file headers,
// index lines) and gives unprefixed body lines a context prefix. Some clients
// strip the leading space from unchanged lines.
func normalize(text string) []byte {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	var buf bytes.Buffer
	seenHeader := false
	for _, line := range lines {
		if strings.HasPrefix(line, "@@") {
			seenHeader = true
			buf.WriteString(line)
			buf.WriteByte('\n')
			continue
		}
		if !seenHeader {
			continue
		}
		if line != "" {
			switch line[0] {
			case ' ', '+', '-', '\\':
			default:
				line = " " + line
			}
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if !seenHeader {
		return nil
	}
	return buf.Bytes()
}

func convertHunk(h *diff.Hunk) Hunk {
	out := Hunk{
		OldStart: int(h.OrigStartLine),
		OldLines: int(h.OrigLines),
		NewStart: int(h.NewStartLine),
		NewLines: int(h.NewLines),
	}
	// A zero count means the start names the line before the change.
	oldLine := out.OldStart
	if out.OldLines == 0 {
		oldLine++
	}
	newLine := out.NewStart
	if out.NewLines == 0 {
		newLine++
	}
	oldLeft, newLeft := out.OldLines, out.NewLines

	body := strings.TrimSuffix(string(h.Body), "\n")
	if body == "" && oldLeft == 0 && newLeft == 0 {
		return out
	}
	for _, line := range strings.Split(body, "\n") {
		if oldLeft <= 0 && newLeft <= 0 {
			break
		}
		prefix, text := byte(' '), ""
		if line != "" {
			prefix, text = line[0], line[1:]
		}
		switch prefix {
		case '+':
			out.Records = append(out.Records, Record{Kind: KindAdd, NewLine: newLine, Text: text, anchor: oldLine})
			newLine++
			newLeft--
		case '-':
			out.Records = append(out.Records, Record{Kind: KindRemove, OldLine: oldLine, Text: text, anchor: oldLine})
			oldLine++
			oldLeft--
		default:
			out.Records = append(out.Records, Record{Kind: KindContext, OldLine: oldLine, NewLine: newLine, Text: text, anchor: oldLine})
			oldLine++
			newLine++
			oldLeft--
			newLeft--
		}
	}
	return out
}

// Records returns every record of every hunk in patch order.
func (p Patch) Records() []Record {
	var out []Record
	for _, h := range p.Hunks {
		out = append(out, h.Records...)
	}
	return out
}

// Changed reports whether the patch adds or removes at least one line.
func (p Patch) Changed() bool {
	for _, h := range p.Hunks {
		for _, r := range h.Records {
			if r.Kind != KindContext {
				return true
			}
		}
	}
	return false
}

// Empty reports whether the patch carries no hunks at all.
func (p Patch) Empty() bool { return len(p.Hunks) == 0 }

// MapOldLine translates a line number of the old file into the new file.
// ok is false when the line was removed by the patch or is not a valid line
// number.
func (p Patch) MapOldLine(old int) (int, bool) {
	if old < 1 {
		return 0, false
	}
	delta := 0
	for _, h := range p.Hunks {
		start := h.OldStart
		if h.OldLines == 0 {
			start++
		}
		if old < start {
			return old + delta, true
		}
		if old < start+h.OldLines {
			for _, r := range h.Records {
				if r.OldLine != old {
					continue
				}
				if r.Kind == KindRemove {
					return 0, false
				}
				return r.NewLine, true
			}
			// hunk body shorter than its header claims
			return 0, false
		}
		delta += h.NewLines - h.OldLines
	}
	return old + delta, true
}

// Touches reports whether the patch edits the old-file range [start, end].
// A removal inside the range counts, and so does an insertion between two
// lines of the range.
func (p Patch) Touches(start, end int) bool {
	if end < start {
		start, end = end, start
	}
	for _, h := range p.Hunks {
		for _, r := range h.Records {
			switch r.Kind {
			case KindRemove:
				if r.OldLine >= start && r.OldLine <= end {
					return true
				}
			case KindAdd:
				if r.anchor > start && r.anchor <= end {
					return true
				}
			}
		}
	}
	return false
}
