package search

import (
	"testing"

	"github.com/mohammad-safakhou/docwatch/internal/store"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemOnly()
	if err != nil {
		t.Fatalf("NewMemOnly: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSearchIsScopedToOrg(t *testing.T) {
	idx := newTestIndex(t)
	docs := []store.Document{
		{ID: "d1", OrgID: "org-a", Title: "Webhooks guide", URL: "https://docs.a.dev/webhooks", Content: "Configure webhook retries and signing secrets."},
		{ID: "d2", OrgID: "org-b", Title: "Webhooks", URL: "https://docs.b.dev/webhooks", Content: "Webhook retries are exponential."},
		{ID: "d3", OrgID: "org-a", Title: "Billing", URL: "https://docs.a.dev/billing", Content: "Invoices are issued monthly."},
	}
	for _, d := range docs {
		if err := idx.Update(d); err != nil {
			t.Fatalf("Update(%s): %v", d.ID, err)
		}
	}

	hits, err := idx.Search("org-a", "retries", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "d1" {
		t.Fatalf("expected only d1, got %+v", hits)
	}
	if hits[0].Title != "Webhooks guide" || hits[0].URL != "https://docs.a.dev/webhooks" {
		t.Fatalf("stored fields missing: %+v", hits[0])
	}
}

func TestUpdateReplacesAndRemoveDrops(t *testing.T) {
	idx := newTestIndex(t)
	doc := store.Document{ID: "d1", OrgID: "org", Title: "Guide", Content: "old wording"}
	if err := idx.Update(doc); err != nil {
		t.Fatalf("Update: %v", err)
	}
	doc.Content = "fresh wording"
	if err := idx.Update(doc); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if hits, _ := idx.Search("org", "old", 10); len(hits) != 0 {
		t.Fatalf("stale content still indexed: %+v", hits)
	}
	if hits, _ := idx.Search("org", "fresh", 10); len(hits) != 1 {
		t.Fatalf("expected updated content to match, got %+v", hits)
	}
	if err := idx.Remove("d1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if hits, _ := idx.Search("org", "fresh", 10); len(hits) != 0 {
		t.Fatalf("removed doc still found: %+v", hits)
	}
	if err := idx.Remove("missing"); err != nil {
		t.Fatalf("Remove unknown id: %v", err)
	}
}

func TestEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	hits, err := idx.Search("org", "  ", 5)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected no hits, got %v %v", hits, err)
	}
	if err := idx.Update(store.Document{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}
