package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mohammad-safakhou/docwatch/internal/helpers"
)

// ConfluenceFetcher reads the storage body of a Confluence Cloud page.
type ConfluenceFetcher struct {
	// BaseURL is the site root, e.g. https://acme.atlassian.net. When empty
	// the document URL's host is used.
	BaseURL string
	User    string
	Token   string
	http    *helpers.HTTPClient
}

func NewConfluenceFetcher(baseURL, user, token string, client *http.Client) *ConfluenceFetcher {
	hc := helpers.NewHTTPClient(15*time.Second, 2, 500*time.Millisecond)
	if client != nil {
		hc = hc.WithClient(client)
	}
	return &ConfluenceFetcher{BaseURL: strings.TrimRight(baseURL, "/"), User: user, Token: token, http: hc}
}

var confluencePageID = regexp.MustCompile(`/pages/(\d+)`)

// ConfluencePageID extracts the numeric page id from a page URL.
func ConfluencePageID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if m := confluencePageID.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	if id := u.Query().Get("pageId"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no page id in %s", raw)
}

var blockTags = regexp.MustCompile(`(?i)</(p|h[1-6]|li|tr|div|pre|blockquote)>|<br\s*/?>`)

// storageText turns Confluence storage markup into plain text, keeping one
// line per block element.
func storageText(body string) string {
	body = blockTags.ReplaceAllString(body, "$0\n")
	return html.UnescapeString(helpers.SanitizeHTMLStrict(body))
}

func (c *ConfluenceFetcher) Fetch(ctx context.Context, rawURL, _ string) (Content, error) {
	id, err := ConfluencePageID(rawURL)
	if err != nil {
		return Content{}, err
	}
	base := c.BaseURL
	if base == "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return Content{}, err
		}
		base = u.Scheme + "://" + u.Host
	}
	headers := map[string]string{"Accept": "application/json"}
	if c.User != "" || c.Token != "" {
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(c.User+":"+c.Token))
	}
	var page struct {
		Title string `json:"title"`
		Body  struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
	}
	endpoint := base + "/wiki/rest/api/content/" + id + "?expand=body.storage"
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, headers, nil, &page); err != nil {
		return Content{}, fmt.Errorf("confluence page %s: %w", id, err)
	}
	return Content{
		Text:    storageText(page.Body.Storage.Value),
		Title:   page.Title,
		Favicon: base + "/wiki/favicon.ico",
	}, nil
}
