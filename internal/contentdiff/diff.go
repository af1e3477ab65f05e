// Package contentdiff computes word level differences between two snapshots
// of a document.
package contentdiff

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// Segment is a run of text that is unchanged, added or removed.
type Segment struct {
	Text    string `json:"text"`
	Added   bool   `json:"added"`
	Removed bool   `json:"removed"`
}

// Changed reports whether the segment is an addition or a removal.
func (s Segment) Changed() bool { return s.Added || s.Removed }

type token struct {
	word string
	text string
}

// tokenize splits s into words. Each token carries the whitespace that
// follows it; leading whitespace is attached to the first token.
func tokenize(s string) []token {
	var out []token
	lead := 0
	for lead < len(s) {
		r, size := utf8.DecodeRuneInString(s[lead:])
		if !unicode.IsSpace(r) {
			break
		}
		lead += size
	}
	i := lead
	start := 0
	for i < len(s) {
		wordStart := i
		for i < len(s) {
			r, size := utf8.DecodeRuneInString(s[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		wordEnd := i
		for i < len(s) {
			r, size := utf8.DecodeRuneInString(s[i:])
			if !unicode.IsSpace(r) {
				break
			}
			i += size
		}
		out = append(out, token{word: s[wordStart:wordEnd], text: s[start:i]})
		start = i
	}
	return out
}

// Diff returns the ordered segments that turn prev into next. Unchanged text
// is taken from next. Whitespace differences alone never produce an added or
// removed segment.
func Diff(prev, next string) []Segment {
	a, b := tokenize(prev), tokenize(next)
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	m := difflib.NewMatcherWithJunk(words(a), words(b), false, nil)
	var out []Segment
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			out = appendSegment(out, Segment{Text: join(b[op.J1:op.J2])})
		case 'd':
			out = appendSegment(out, Segment{Text: join(a[op.I1:op.I2]), Removed: true})
		case 'i':
			out = appendSegment(out, Segment{Text: join(b[op.J1:op.J2]), Added: true})
		case 'r':
			out = appendSegment(out, Segment{Text: join(a[op.I1:op.I2]), Removed: true})
			out = appendSegment(out, Segment{Text: join(b[op.J1:op.J2]), Added: true})
		}
	}
	return out
}

func appendSegment(out []Segment, s Segment) []Segment {
	if s.Text == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Added == s.Added && out[n-1].Removed == s.Removed {
		out[n-1].Text += s.Text
		return out
	}
	return append(out, s)
}

func words(tokens []token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.word
	}
	return out
}

func join(tokens []token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.text)
	}
	return b.String()
}

// HasChanges reports whether any added or removed segment carries more than
// whitespace.
func HasChanges(segments []Segment) bool {
	for _, s := range segments {
		if s.Changed() && strings.TrimSpace(s.Text) != "" {
			return true
		}
	}
	return false
}

const maxSummaryRunes = 140

// Summary renders a one line description of the change, e.g.
// "+3 words, -1 word: brave new".
func Summary(segments []Segment) string {
	added, removed := 0, 0
	first := ""
	for _, s := range segments {
		n := len(strings.Fields(s.Text))
		switch {
		case s.Added:
			added += n
			if first == "" {
				first = strings.Join(strings.Fields(s.Text), " ")
			}
		case s.Removed:
			removed += n
		}
	}
	if added == 0 && removed == 0 {
		return "no content changes"
	}
	out := fmt.Sprintf("+%s, -%s", plural(added, "word"), plural(removed, "word"))
	if first != "" {
		out += ": " + first
	}
	if utf8.RuneCountInString(out) > maxSummaryRunes {
		runes := []rune(out)
		out = string(runes[:maxSummaryRunes-3]) + "..."
	}
	return out
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
