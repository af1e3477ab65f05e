package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// NotionFetcher reads a page's blocks with an integration token.
type NotionFetcher struct {
	client *notionapi.Client
}

// NewNotionFetcher builds a fetcher. A non-empty baseURL redirects API
// calls to another host, such as a proxy.
func NewNotionFetcher(token, baseURL string, client *http.Client) (*NotionFetcher, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil || base.Host == "" {
			return nil, fmt.Errorf("notion base url %q invalid", baseURL)
		}
		next := client.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		c := *client
		c.Transport = rebaseTransport{base: base, next: next}
		client = &c
	}
	return &NotionFetcher{
		client: notionapi.NewClient(notionapi.Token(token), notionapi.WithHTTPClient(client), notionapi.WithRetry(2)),
	}, nil
}

// rebaseTransport sends every request to base, keeping path and query.
type rebaseTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.base.Scheme
	r.URL.Host = t.base.Host
	r.URL.Path = strings.TrimRight(t.base.Path, "/") + r.URL.Path
	r.Host = t.base.Host
	return t.next.RoundTrip(r)
}

var notionIDPattern = regexp.MustCompile(`([0-9a-f]{32})$`)

// NotionPageID returns the dashed page id encoded at the end of a Notion URL.
func NotionPageID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	seg := strings.ToLower(strings.ReplaceAll(u.Path[strings.LastIndex(u.Path, "/")+1:], "-", ""))
	m := notionIDPattern.FindStringSubmatch(seg)
	if m == nil {
		return "", fmt.Errorf("no page id in %s", raw)
	}
	id := m[1]
	return id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:], nil
}

func plainText(rt []notionapi.RichText) string {
	var sb strings.Builder
	for _, t := range rt {
		sb.WriteString(t.PlainText)
	}
	return sb.String()
}

// blockText returns the rich text of the block types that carry prose.
func blockText(b notionapi.Block) string {
	switch v := b.(type) {
	case *notionapi.ParagraphBlock:
		return plainText(v.Paragraph.RichText)
	case *notionapi.Heading1Block:
		return plainText(v.Heading1.RichText)
	case *notionapi.Heading2Block:
		return plainText(v.Heading2.RichText)
	case *notionapi.Heading3Block:
		return plainText(v.Heading3.RichText)
	case *notionapi.BulletedListItemBlock:
		return plainText(v.BulletedListItem.RichText)
	case *notionapi.NumberedListItemBlock:
		return plainText(v.NumberedListItem.RichText)
	case *notionapi.ToDoBlock:
		return plainText(v.ToDo.RichText)
	case *notionapi.ToggleBlock:
		return plainText(v.Toggle.RichText)
	case *notionapi.QuoteBlock:
		return plainText(v.Quote.RichText)
	case *notionapi.CalloutBlock:
		return plainText(v.Callout.RichText)
	case *notionapi.CodeBlock:
		return plainText(v.Code.RichText)
	}
	return ""
}

func (n *NotionFetcher) Fetch(ctx context.Context, rawURL, _ string) (Content, error) {
	id, err := NotionPageID(rawURL)
	if err != nil {
		return Content{}, err
	}
	page, err := n.client.Page.Get(ctx, notionapi.PageID(id))
	if err != nil {
		return Content{}, fmt.Errorf("notion page: %w", err)
	}
	var c Content
	for _, p := range page.Properties {
		if tp, ok := p.(*notionapi.TitleProperty); ok {
			c.Title += plainText(tp.Title)
		}
	}
	if page.Icon != nil && page.Icon.External != nil {
		c.Favicon = page.Icon.External.URL
	}

	var lines []string
	var cursor notionapi.Cursor
	for {
		resp, err := n.client.Block.GetChildren(ctx, notionapi.BlockID(id), &notionapi.Pagination{StartCursor: cursor, PageSize: 100})
		if err != nil {
			return Content{}, fmt.Errorf("notion blocks: %w", err)
		}
		for _, b := range resp.Results {
			if t := blockText(b); t != "" {
				lines = append(lines, t)
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
	c.Text = strings.Join(lines, "\n")
	return c, nil
}
