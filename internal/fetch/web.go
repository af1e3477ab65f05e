package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	defaultUserAgent = "docwatch/1.0 (+https://github.com/mohammad-safakhou/docwatch)"
	maxPageBytes     = 8 << 20
)

// WebFetcher downloads a public page and extracts its readable text.
type WebFetcher struct {
	Client    *http.Client
	UserAgent string
	// Fallback renders pages whose static HTML has no readable text, usually
	// client-rendered apps. Optional.
	Fallback Fetcher
}

// NewWebFetcher returns a fetcher using a client with the given timeout.
func NewWebFetcher(timeout time.Duration, userAgent string) *WebFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &WebFetcher{Client: &http.Client{Timeout: timeout}, UserAgent: userAgent}
}

func (w *WebFetcher) Fetch(ctx context.Context, rawURL, orgID string) (Content, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Content{}, fmt.Errorf("invalid url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Content{}, err
	}
	req.Header.Set("User-Agent", w.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := w.Client.Do(req)
	if err != nil {
		return Content{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Content{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Content{}, fmt.Errorf("read body: %w", err)
	}

	c, err := extract(string(body), resp.Request.URL)
	if (err != nil || strings.TrimSpace(c.Text) == "") && w.Fallback != nil {
		return w.Fallback.Fetch(ctx, rawURL, orgID)
	}
	return c, err
}

// extract runs readability over html and resolves the favicon against base.
func extract(html string, base *url.URL) (Content, error) {
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		return Content{}, fmt.Errorf("extract: %w", err)
	}
	return Content{
		Text:    article.TextContent,
		Title:   strings.TrimSpace(article.Title),
		Favicon: faviconURL(article.Favicon, base),
	}, nil
}

func faviconURL(icon string, base *url.URL) string {
	if base == nil || base.Host == "" {
		return icon
	}
	if icon == "" {
		return (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/favicon.ico"}).String()
	}
	ref, err := url.Parse(icon)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
