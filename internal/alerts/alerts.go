// Package alerts turns link matches into the payloads returned to pull
// request bots and the stale docs panel. It performs no I/O.
package alerts

import (
	"fmt"

	"github.com/mohammad-safakhou/docwatch/internal/linkmatch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// Type classifies an alert.
type Type string

const (
	TypeExisting Type = "existing"
	TypeNew      Type = "new"
	TypeStale    Type = "stale"
)

// Doc is the part of a document an alert exposes.
type Doc struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Favicon string `json:"favicon,omitempty"`
}

// Alert is an ephemeral notice that a document may need attention.
type Alert struct {
	Type        Type            `json:"type"`
	CodeLinkID  string          `json:"codeLinkId,omitempty"`
	DocumentID  string          `json:"documentId"`
	MatchedFile string          `json:"matchedFile,omitempty"`
	Doc         Doc             `json:"doc"`
	Code        *store.CodeLink `json:"code,omitempty"`
	Message     string          `json:"message"`
}

// Candidate is a caller-suggested document for a changed file that has no
// link yet.
type Candidate struct {
	DocumentID string `json:"documentId"`
	File       string `json:"file"`
}

// Format builds alerts from matches and candidates. Entries whose document
// is absent from docs are dropped. The result is never nil.
func Format(matches []linkmatch.Match, docs map[string]store.Document, candidates []Candidate) []Alert {
	out := make([]Alert, 0, len(matches)+len(candidates))
	linked := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		d, ok := docs[m.Link.DocID]
		if !ok {
			continue
		}
		link := m.Link
		a := Alert{
			Type:        TypeExisting,
			CodeLinkID:  link.ID,
			DocumentID:  d.ID,
			MatchedFile: m.File,
			Doc:         docView(d),
			Code:        &link,
		}
		if m.Reason == linkmatch.ReasonUnresolved {
			a.Type = TypeStale
			a.Message = fmt.Sprintf("The linked code in %s could not be located in this change. %q may be out of date.", m.File, title(d))
		} else {
			a.Message = fmt.Sprintf("%s changed and is linked to %q. Do you need to update the documentation?", m.File, title(d))
		}
		out = append(out, a)
		linked[d.ID+"\x00"+m.File] = struct{}{}
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		key := c.DocumentID + "\x00" + c.File
		if _, dup := linked[key]; dup {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		d, ok := docs[c.DocumentID]
		if !ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Alert{
			Type:        TypeNew,
			DocumentID:  d.ID,
			MatchedFile: c.File,
			Doc:         docView(d),
			Message:     fmt.Sprintf("%s changed. %q looks related but is not linked to it yet.", c.File, title(d)),
		})
	}
	return out
}

func docView(d store.Document) Doc {
	return Doc{ID: d.ID, Title: d.Title, URL: d.URL, Favicon: d.Favicon}
}

func title(d store.Document) string {
	if d.Title != "" {
		return d.Title
	}
	return d.URL
}

// DocumentIDs lists the document ids referenced by matches and candidates,
// for the caller to load before calling Format.
func DocumentIDs(matches []linkmatch.Match, candidates []Candidate) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, m := range matches {
		add(m.Link.DocID)
	}
	for _, c := range candidates {
		add(c.DocumentID)
	}
	return out
}
