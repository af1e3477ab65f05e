package fetch

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserRenderer loads a page in headless Chrome before extracting it.
type BrowserRenderer struct {
	Timeout   time.Duration
	UserAgent string
}

func (b *BrowserRenderer) Fetch(ctx context.Context, rawURL, _ string) (Content, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Content{}, errors.New("invalid url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Content{}, err
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	html, err := b.render(ctx, rawURL)
	if err != nil {
		return Content{}, err
	}
	return extract(html, u)
}

func (b *BrowserRenderer) render(ctx context.Context, rawURL string) (string, error) {
	ua := b.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(ua),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
