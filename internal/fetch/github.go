package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/docwatch/internal/linkmatch"
	"github.com/mohammad-safakhou/docwatch/internal/patch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// GitHubClient wraps the REST API for the calls docwatch makes: file
// contents for github documents, pull request files, and commit comparisons
// used to follow line links across revisions.
type GitHubClient struct {
	client  *gh.Client
	limiter *rate.Limiter
	group   singleflight.Group
}

// NewGitHubClient authenticates with token when set. baseURL points the
// client at GitHub Enterprise or a test server; empty means api.github.com.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*GitHubClient, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}
	client := gh.NewClient(hc)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHubClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(1.3), 10),
	}, nil
}

// FileRef locates a file at a revision.
type FileRef struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
}

// ParseFileURL understands github.com blob URLs and raw.githubusercontent.com
// URLs. A ref containing slashes cannot be told apart from the path, so the
// first segment after blob is taken as the ref.
func ParseFileURL(raw string) (FileRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return FileRef{}, err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch strings.ToLower(u.Host) {
	case "github.com", "www.github.com":
		if len(parts) < 5 || parts[2] != "blob" {
			return FileRef{}, fmt.Errorf("not a github file url: %s", raw)
		}
		return FileRef{Owner: parts[0], Repo: parts[1], Ref: parts[3], Path: strings.Join(parts[4:], "/")}, nil
	case "raw.githubusercontent.com":
		if len(parts) < 4 {
			return FileRef{}, fmt.Errorf("not a github file url: %s", raw)
		}
		return FileRef{Owner: parts[0], Repo: parts[1], Ref: parts[2], Path: strings.Join(parts[3:], "/")}, nil
	}
	return FileRef{}, fmt.Errorf("unsupported github host %q", u.Host)
}

// Fetch implements Fetcher for github documents.
func (c *GitHubClient) Fetch(ctx context.Context, rawURL, _ string) (Content, error) {
	ref, err := ParseFileURL(rawURL)
	if err != nil {
		return Content{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Content{}, err
	}
	file, _, _, err := c.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, ref.Path, &gh.RepositoryContentGetOptions{Ref: ref.Ref})
	if err != nil {
		return Content{}, fmt.Errorf("get contents: %w", err)
	}
	if file == nil {
		return Content{}, fmt.Errorf("%s is a directory", ref.Path)
	}
	text, err := file.GetContent()
	if err != nil {
		return Content{}, fmt.Errorf("decode contents: %w", err)
	}
	return Content{
		Text:    text,
		Title:   path.Base(ref.Path),
		Favicon: "https://github.com/favicon.ico",
	}, nil
}

// PullRequestFiles lists every file changed by a pull request with its
// parsed patch.
func (c *GitHubClient) PullRequestFiles(ctx context.Context, owner, repo string, number int) ([]linkmatch.ChangedFile, error) {
	opts := &gh.ListOptions{PerPage: 100}
	var out []linkmatch.ChangedFile
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		files, resp, err := c.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list pull request files: %w", err)
		}
		for _, f := range files {
			out = append(out, linkmatch.ChangedFile{Path: f.GetFilename(), Patch: patch.Parse(f.GetPatch())})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

var (
	errNoPatch       = errors.New("comparison has no patch for file")
	errCompareCapped = errors.New("comparison file list truncated")
)

// compareFileCap is the most files the compare API lists for one comparison.
const compareFileCap = 300

// comparison indexes a compare response by file name. A capped comparison
// cannot prove that a missing file is unchanged.
type comparison struct {
	files  map[string]*gh.CommitFile
	capped bool
}

// Baseline returns a linkmatch.BaselineFunc that compares each link's
// snapshot sha with base. Comparisons are shared between links with the same
// sha, and concurrent callers for the same pair wait on one request.
func (c *GitHubClient) Baseline(owner, repo, base string) linkmatch.BaselineFunc {
	var (
		mu    sync.Mutex
		cache = map[string]comparison{}
	)
	return func(ctx context.Context, link store.CodeLink, filePath string) (patch.Patch, error) {
		if link.SHA == "" || link.SHA == base {
			return patch.Patch{}, nil
		}
		mu.Lock()
		cmp, ok := cache[link.SHA]
		mu.Unlock()
		if !ok {
			key := owner + "/" + repo + "@" + link.SHA + "..." + base
			v, err, _ := c.group.Do(key, func() (interface{}, error) {
				return c.compare(ctx, owner, repo, link.SHA, base)
			})
			if err != nil {
				return patch.Patch{}, err
			}
			cmp = v.(comparison)
			mu.Lock()
			cache[link.SHA] = cmp
			mu.Unlock()
		}
		f, ok := cmp.files[filePath]
		if !ok {
			if cmp.capped {
				return patch.Patch{}, errCompareCapped
			}
			return patch.Patch{}, nil
		}
		if f.GetPatch() == "" {
			return patch.Patch{}, errNoPatch
		}
		return patch.Parse(f.GetPatch()), nil
	}
}

// compare indexes the files of base...head by both their current and
// previous names.
func (c *GitHubClient) compare(ctx context.Context, owner, repo, baseSHA, head string) (comparison, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return comparison{}, err
	}
	cmp, _, err := c.client.Repositories.CompareCommits(ctx, owner, repo, baseSHA, head, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return comparison{}, fmt.Errorf("compare %s...%s: %w", baseSHA, head, err)
	}
	out := comparison{
		files:  make(map[string]*gh.CommitFile, len(cmp.Files)),
		capped: len(cmp.Files) >= compareFileCap,
	}
	for _, f := range cmp.Files {
		out.files[f.GetFilename()] = f
		if prev := f.GetPreviousFilename(); prev != "" {
			out.files[prev] = f
		}
	}
	return out, nil
}
