package helpers

import (
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var droppedParams = []string{"fbclid", "gclid", "msclkid", "igshid", "usp", "ts"}

var (
	notionHexID  = regexp.MustCompile(`([0-9a-f]{32})$`)
	googleDocRef = regexp.MustCompile(`^/(document|spreadsheets|presentation)/d/([A-Za-z0-9_-]+)`)
)

// DocumentURL returns the form a tracked document is stored under, so the
// same document pasted from an address bar, a share dialog or an edit link
// deduplicates to one row.
//
// Google Docs links collapse to /<kind>/d/<id>. Notion links collapse to
// https://www.notion.so/<id>, dropping workspace and title slug. GitHub file
// links collapse to github.com/<owner>/<repo>/blob/<ref>/<path> with owner
// and repo lowercased, and raw.githubusercontent.com links are rewritten to
// that form. Other URLs keep their path and get https by default, lowercase
// host, no default port, no fragment, no utm_* or click ids, sorted query.
func DocumentURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := parseLenient(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("unsupported scheme " + u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	p := path.Clean("/" + u.Path)

	switch {
	case host == "docs.google.com":
		if m := googleDocRef.FindStringSubmatch(p); m != nil {
			return "https://docs.google.com/" + m[1] + "/d/" + m[2], nil
		}
	case host == "notion.so" || strings.HasSuffix(host, ".notion.so") || strings.HasSuffix(host, ".notion.site"):
		seg := strings.ToLower(strings.ReplaceAll(path.Base(p), "-", ""))
		if m := notionHexID.FindStringSubmatch(seg); m != nil {
			return "https://www.notion.so/" + m[1], nil
		}
	case host == "github.com" || host == "www.github.com":
		parts := strings.Split(strings.Trim(p, "/"), "/")
		if len(parts) >= 5 && parts[2] == "blob" {
			return githubBlob(parts[0], parts[1], parts[3], parts[4:]), nil
		}
		u.Host = "github.com"
	case host == "raw.githubusercontent.com":
		parts := strings.Split(strings.Trim(p, "/"), "/")
		if len(parts) >= 4 {
			return githubBlob(parts[0], parts[1], parts[2], parts[3:]), nil
		}
	}

	u.Path = p
	u.RawPath = ""
	u.RawQuery = cleanQuery(u.Query())
	return u.String(), nil
}

func githubBlob(owner, repo, ref string, file []string) string {
	return "https://github.com/" + strings.ToLower(owner) + "/" + strings.ToLower(repo) +
		"/blob/" + ref + "/" + strings.Join(file, "/")
}

func cleanQuery(q url.Values) string {
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		for _, d := range droppedParams {
			if lower == d {
				q.Del(key)
				break
			}
		}
	}
	// Encode sorts by key.
	return q.Encode()
}

func parseLenient(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" && u.Host == "" {
		if strings.HasPrefix(raw, "//") {
			return url.Parse("https:" + raw)
		}
		return url.Parse("https://" + raw)
	}
	return u, nil
}
