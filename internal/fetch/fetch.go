// Package fetch retrieves the current text of tracked documents from their
// sources: public web pages, GitHub files, Google Docs, Notion and
// Confluence.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/docwatch/internal/helpers"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// Content is the extracted state of a document.
type Content struct {
	Text    string `json:"text"`
	Title   string `json:"title"`
	Favicon string `json:"favicon,omitempty"`
}

// Fetcher retrieves one document. orgID selects per-organization
// credentials where a source needs them.
type Fetcher interface {
	Fetch(ctx context.Context, url, orgID string) (Content, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url, orgID string) (Content, error)

func (f FetcherFunc) Fetch(ctx context.Context, url, orgID string) (Content, error) {
	return f(ctx, url, orgID)
}

// Error reports a failed fetch of a single document.
type Error struct {
	URL    string
	Method store.Method
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Method, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry routes fetches by ingestion method.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[store.Method]Fetcher
	maxChars int
}

// NewRegistry returns an empty registry. Text longer than maxChars runes is
// truncated; zero disables the limit.
func NewRegistry(maxChars int) *Registry {
	return &Registry{fetchers: make(map[store.Method]Fetcher), maxChars: maxChars}
}

// Register installs f for method, replacing any previous fetcher.
func (r *Registry) Register(method store.Method, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[method] = f
}

// Fetch fetches url with the fetcher registered for method. Every failure is
// returned as *Error.
func (r *Registry) Fetch(ctx context.Context, method store.Method, url, orgID string) (Content, error) {
	r.mu.RLock()
	f, ok := r.fetchers[method]
	r.mu.RUnlock()
	if !ok {
		return Content{}, &Error{URL: url, Method: method, Err: fmt.Errorf("no fetcher for method %q", method)}
	}
	c, err := f.Fetch(ctx, url, orgID)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return Content{}, err
		}
		return Content{}, &Error{URL: url, Method: method, Err: err}
	}
	c.Title = helpers.SanitizeText(c.Title)
	c.Text = truncateRunes(normalizeText(c.Text), r.maxChars)
	return c, nil
}

// FetchDocument fetches doc using its stored method.
func (r *Registry) FetchDocument(ctx context.Context, doc store.Document) (Content, error) {
	return r.Fetch(ctx, doc.Method, doc.URL, doc.OrgID)
}

// normalizeText trims trailing spaces per line and collapses runs of blank
// lines so formatting noise from extractors does not show up as changes.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
