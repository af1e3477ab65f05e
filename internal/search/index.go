// Package search keeps a full-text index of tracked documents.
package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/mapping"

	"github.com/mohammad-safakhou/docwatch/internal/store"
)

const (
	fieldOrg     = "org_id"
	fieldTitle   = "title"
	fieldURL     = "url"
	fieldContent = "content"
)

// Hit is one search result.
type Hit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
}

// Index wraps a bleve index. It is safe for concurrent use.
type Index struct {
	idx bleve.Index
}

func buildMapping() mapping.IndexMapping {
	org := bleve.NewTextFieldMapping()
	org.Analyzer = keyword.Name
	org.IncludeInAll = false

	url := bleve.NewTextFieldMapping()
	url.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldOrg, org)
	doc.AddFieldMappingsAt(fieldURL, url)
	doc.AddFieldMappingsAt(fieldTitle, bleve.NewTextFieldMapping())
	doc.AddFieldMappingsAt(fieldContent, bleve.NewTextFieldMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Open opens the index at path, creating it when missing. An empty path
// yields an in-memory index.
func Open(path string) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return NewMemOnly()
	}
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open search index %s: %w", path, err)
	}
	return &Index{idx: idx}, nil
}

// NewMemOnly returns an index that lives in memory only.
func NewMemOnly() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx}, nil
}

// Update indexes or reindexes doc under its id.
func (i *Index) Update(doc store.Document) error {
	if doc.ID == "" {
		return errors.New("search: document id required")
	}
	return i.idx.Index(doc.ID, map[string]interface{}{
		fieldOrg:     doc.OrgID,
		fieldTitle:   doc.Title,
		fieldURL:     doc.URL,
		fieldContent: doc.Content,
	})
}

// Remove drops id from the index. Removing an unknown id is not an error.
func (i *Index) Remove(id string) error {
	return i.idx.Delete(id)
}

// Search runs a match query restricted to orgID.
func (i *Index) Search(orgID, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	org := bleve.NewTermQuery(orgID)
	org.SetField(fieldOrg)
	text := bleve.NewMatchQuery(query)

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(org, text), limit, 0, false)
	req.Fields = []string{fieldTitle, fieldURL}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(fieldContent)

	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields[fieldTitle].(string); ok {
			hit.Title = v
		}
		if v, ok := h.Fields[fieldURL].(string); ok {
			hit.URL = v
		}
		if frags := h.Fragments[fieldContent]; len(frags) > 0 {
			hit.Snippet = frags[0]
		}
		out = append(out, hit)
	}
	return out, nil
}

// Close releases the underlying index.
func (i *Index) Close() error { return i.idx.Close() }
