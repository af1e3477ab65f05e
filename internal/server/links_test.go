package server

import (
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/docwatch/internal/fetch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

var codeLinkRowColumns = []string{"id", "doc_id", "org_id", "provider", "file", "git_org", "repo", "branch", "type", "line", "end_line", "sha", "url", "created_at"}

func TestCreateLinkFillsFromGitHubURL(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	url := "https://github.com/acme/widgets/blob/main/docs/setup.md"

	h.mock.ExpectQuery(`FROM documents WHERE id = \$1 AND org_id = \$2`).
		WithArgs(docID1, "org-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow(docID1, "org-1", "https://a.dev", "web", "A", "", "", false, "user-1", now, now))
	h.mock.ExpectQuery(`INSERT INTO code_links`).
		WithArgs(docID1, "org-1", "github", "docs/setup.md", "acme", "widgets", "main", "file", sqlmock.AnyArg(), sqlmock.AnyArg(), "", url).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("link-1", now))

	rec := h.do(t, http.MethodPost, "/api/links", `{"docId":"`+docID1+`","url":"`+url+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var link store.CodeLink
	decode(t, rec, &link)
	if link.ID != "link-1" || link.Repo != "widgets" || link.GitOrg != "acme" || link.Type != store.LinkFile {
		t.Fatalf("unexpected link %+v", link)
	}
	h.expectationsMet(t)
}

func TestCreateLinkWithNewDocument(t *testing.T) {
	h := newHarness(t)
	h.fetcher.content = fetch.Content{Text: "body", Title: "Runbook"}
	now := time.Now()

	h.mock.ExpectQuery(`INSERT INTO documents`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_just_added", "created_at", "last_updated_at", "created"}).
			AddRow(docID2, true, now, now, true))
	h.mock.ExpectBegin()
	h.mock.ExpectPrepare(`INSERT INTO events`).ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("ev-1", now))
	h.mock.ExpectCommit()
	h.mock.ExpectQuery(`INSERT INTO code_links`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("link-2", now))

	body := `{"docId":"create","docUrl":"https://wiki.acme.dev/runbook","url":"https://github.com/acme/widgets/blob/main/ops","type":"folder"}`
	rec := h.do(t, http.MethodPost, "/api/links", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var link store.CodeLink
	decode(t, rec, &link)
	if link.DocID != docID2 || link.Type != store.LinkFolder || link.File != "ops" {
		t.Fatalf("unexpected link %+v", link)
	}
	if len(h.notifier.events) != 1 {
		t.Fatalf("new document should be announced")
	}
	h.expectationsMet(t)
}

func TestCreateLinkValidation(t *testing.T) {
	h := newHarness(t)
	cases := map[string]string{
		"lines without sha":   `{"docId":"` + docID1 + `","url":"https://github.com/acme/w/blob/main/a.go","type":"lines","line":3,"endLine":5}`,
		"inverted range":      `{"docId":"` + docID1 + `","url":"https://github.com/acme/w/blob/main/a.go","type":"lines","line":5,"endLine":3,"sha":"abc"}`,
		"range on file link":  `{"docId":"` + docID1 + `","url":"https://github.com/acme/w/blob/main/a.go","line":1,"endLine":2}`,
		"create without url":  `{"docId":"create","url":"https://github.com/acme/w/blob/main/a.go"}`,
		"malformed doc id":    `{"docId":"abc","url":"https://github.com/acme/w/blob/main/a.go"}`,
		"missing repo fields": `{"docId":"` + docID1 + `","url":"https://gitlab.com/x"}`,
	}
	for name, body := range cases {
		if rec := h.do(t, http.MethodPost, "/api/links", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", name, rec.Code)
		}
	}
	h.expectationsMet(t)
}

func TestListAndDeleteLinks(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.mock.ExpectQuery(`FROM code_links WHERE org_id = \$1 AND doc_id = \$2`).
		WithArgs("org-1", docID1).
		WillReturnRows(sqlmock.NewRows(codeLinkRowColumns).
			AddRow("link-1", docID1, "org-1", "github", "a.go", "acme", "w", "main", "lines", 3, 5, "abc", "https://github.com/acme/w/blob/main/a.go", now))
	h.mock.ExpectExec(`DELETE FROM code_links`).WithArgs(docID2, "org-1").WillReturnResult(sqlmock.NewResult(0, 0))

	if rec := h.do(t, http.MethodGet, "/api/links", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without docId got %d", rec.Code)
	}
	rec := h.do(t, http.MethodGet, "/api/links?docId="+docID1, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var links []store.CodeLink
	decode(t, rec, &links)
	if len(links) != 1 || links[0].Line == nil || *links[0].Line != 3 || *links[0].EndLine != 5 {
		t.Fatalf("unexpected links %+v", links)
	}
	if rec := h.do(t, http.MethodDelete, "/api/links/"+docID2, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	h.expectationsMet(t)
}
