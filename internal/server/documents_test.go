package server

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/docwatch/internal/fetch"
	"github.com/mohammad-safakhou/docwatch/internal/search"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

var documentRowColumns = []string{"id", "org_id", "url", "method", "title", "favicon", "content", "is_just_added", "created_by", "created_at", "last_updated_at"}

func TestCreateDocumentTracksAndAnnounces(t *testing.T) {
	h := newHarness(t)
	h.fetcher.content = fetch.Content{Text: "Install the CLI", Title: "Guide"}
	now := time.Now()

	h.mock.ExpectQuery(`INSERT INTO documents`).
		WithArgs("org-1", "https://docs.example.com/guide", "web", "Guide", "", "Install the CLI", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_just_added", "created_at", "last_updated_at", "created"}).
			AddRow(docID1, true, now, now, true))
	h.mock.ExpectBegin()
	h.mock.ExpectPrepare(`INSERT INTO events`).ExpectQuery().
		WithArgs("org-1", docID1, "add", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("ev-1", now))
	h.mock.ExpectCommit()

	rec := h.do(t, http.MethodPost, "/api/documents", `{"url":"https://Docs.Example.com/guide?utm_source=mail"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp DocumentResponse
	decode(t, rec, &resp)
	if !resp.Created || resp.Document.ID != docID1 || resp.Document.Method != store.MethodWeb {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Notified == nil || resp.Notified.Sent != 1 {
		t.Fatalf("expected add event to be dispatched: %+v", resp.Notified)
	}
	if len(h.fetcher.urls) != 1 || h.fetcher.urls[0] != "https://docs.example.com/guide" {
		t.Fatalf("fetched %v", h.fetcher.urls)
	}
	if len(h.index.updated) != 1 || h.index.updated[0] != docID1 {
		t.Fatalf("index not updated: %v", h.index.updated)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0].Type != store.EventAdd || h.notifier.events[0].ID != "ev-1" {
		t.Fatalf("unexpected events: %+v", h.notifier.events)
	}
	h.expectationsMet(t)
}

func TestCreateExistingDocumentDoesNotAnnounce(t *testing.T) {
	h := newHarness(t)
	h.fetcher.content = fetch.Content{Text: "v2", Title: "Guide"}
	now := time.Now()
	h.mock.ExpectQuery(`INSERT INTO documents`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_just_added", "created_at", "last_updated_at", "created"}).
			AddRow(docID1, false, now, now, false))

	rec := h.do(t, http.MethodPost, "/api/documents", `{"url":"https://docs.example.com/guide"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if len(h.notifier.events) != 0 {
		t.Fatalf("re-tracking must not emit events")
	}
	h.expectationsMet(t)
}

func TestCreateDocumentValidation(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{`{}`, `{"url":"https://a.dev","method":"ftp"}`, `not json`} {
		rec := h.do(t, http.MethodPost, "/api/documents", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", body, rec.Code)
		}
	}
	if len(h.fetcher.urls) != 0 {
		t.Fatalf("invalid requests must not fetch")
	}
}

func TestPreviewFetchFailureIsUnprocessable(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = errors.New("status 404")
	rec := h.do(t, http.MethodPost, "/api/documents/preview", `{"url":"https://a.dev/missing"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
	var body HTTPError
	decode(t, rec, &body)
	if !strings.Contains(body.Error, "status 404") {
		t.Fatalf("unexpected error %q", body.Error)
	}
}

func TestPreviewReturnsContentWithoutStoring(t *testing.T) {
	h := newHarness(t)
	h.fetcher.content = fetch.Content{Text: "hello", Title: "Hi"}
	rec := h.do(t, http.MethodPost, "/api/documents/preview", `{"url":"a.dev/page"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var resp PreviewResponse
	decode(t, rec, &resp)
	if resp.URL != "https://a.dev/page" || resp.Content != "hello" || resp.Title != "Hi" {
		t.Fatalf("unexpected preview %+v", resp)
	}
	h.expectationsMet(t)
}

func TestListDocumentsOmitsContent(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.mock.ExpectQuery(`FROM documents WHERE org_id = \$1 ORDER BY created_at`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow(docID1, "org-1", "https://a.dev", "web", "A", "", "long body", false, "user-1", now, now))

	rec := h.do(t, http.MethodGet, "/api/documents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var docs []store.Document
	decode(t, rec, &docs)
	if len(docs) != 1 || docs[0].Title != "A" || docs[0].Content != "" {
		t.Fatalf("unexpected docs %+v", docs)
	}
	h.expectationsMet(t)
}

func TestDeleteDocument(t *testing.T) {
	h := newHarness(t)
	h.mock.ExpectExec(`DELETE FROM documents`).WithArgs(docID1, "org-1").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`DELETE FROM documents`).WithArgs(docID2, "org-1").WillReturnResult(sqlmock.NewResult(0, 0))

	if rec := h.do(t, http.MethodDelete, "/api/documents/"+docID1, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if len(h.index.removed) != 1 || h.index.removed[0] != docID1 {
		t.Fatalf("index not cleaned: %v", h.index.removed)
	}
	if rec := h.do(t, http.MethodDelete, "/api/documents/"+docID2, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/api/documents/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed id got %d", rec.Code)
	}
	h.expectationsMet(t)
}

func TestSearch(t *testing.T) {
	h := newHarness(t)
	h.index.hits = []search.Hit{{ID: docID1, Title: "Guide", Score: 1.5}}
	if rec := h.do(t, http.MethodGet, "/api/search", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	rec := h.do(t, http.MethodGet, "/api/search?q=install", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var hits []search.Hit
	decode(t, rec, &hits)
	if len(hits) != 1 || hits[0].ID != docID1 {
		t.Fatalf("unexpected hits %+v", hits)
	}
}
