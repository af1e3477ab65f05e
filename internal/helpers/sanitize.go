package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a shared bluemonday policy that strips every HTML
// element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeHTMLStrict removes every HTML tag from s and trims surrounding
// whitespace. Entities in the result stay escaped, so it is safe to embed in
// HTML.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// SanitizeText strips markup like SanitizeHTMLStrict and then unescapes
// entities, producing plain text for storage and diffing. Titles such as
// "Q&A" survive unchanged.
func SanitizeText(s string) string {
	return html.UnescapeString(SanitizeHTMLStrict(s))
}
