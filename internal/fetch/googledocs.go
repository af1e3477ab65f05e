package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// GoogleDocsFetcher exports Google Docs as plain text through the Drive API.
type GoogleDocsFetcher struct {
	svc *drive.Service
}

// NewGoogleDocsFetcher builds the Drive client. credentialsFile names a
// service account key; extra options are appended after it.
func NewGoogleDocsFetcher(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*GoogleDocsFetcher, error) {
	var all []option.ClientOption
	if credentialsFile != "" {
		all = append(all, option.WithCredentialsFile(credentialsFile))
	}
	all = append(all, opts...)
	svc, err := drive.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &GoogleDocsFetcher{svc: svc}, nil
}

// GoogleDocID extracts the file id from a docs.google.com or
// drive.google.com URL.
func GoogleDocID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "d" && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	if id := u.Query().Get("id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no document id in %s", raw)
}

func (g *GoogleDocsFetcher) Fetch(ctx context.Context, rawURL, _ string) (Content, error) {
	id, err := GoogleDocID(rawURL)
	if err != nil {
		return Content{}, err
	}
	meta, err := g.svc.Files.Get(id).Fields("name").Context(ctx).Do()
	if err != nil {
		return Content{}, fmt.Errorf("drive get %s: %w", id, err)
	}
	resp, err := g.svc.Files.Export(id, "text/plain").Context(ctx).Download()
	if err != nil {
		return Content{}, fmt.Errorf("drive export %s: %w", id, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Content{}, fmt.Errorf("read export: %w", err)
	}
	return Content{
		// Exports start with a byte order mark.
		Text:    strings.TrimPrefix(string(body), "\ufeff"),
		Title:   meta.Name,
		Favicon: "https://ssl.gstatic.com/docs/documents/images/kix-favicon7.ico",
	}, nil
}
