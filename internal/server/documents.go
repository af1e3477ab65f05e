package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/docwatch/internal/helpers"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// tracker adds documents: fetch, upsert, index and announce.
type tracker struct {
	store    *store.Store
	fetcher  ContentFetcher
	index    SearchIndex
	notifier Notifier
	logger   *log.Logger
}

func normalizeRequest(req DocumentRequest) (DocumentRequest, error) {
	if strings.TrimSpace(req.URL) == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	if req.Method == "" {
		req.Method = store.MethodWeb
	}
	if !req.Method.Valid() {
		return req, echo.NewHTTPError(http.StatusBadRequest, "unknown method "+string(req.Method))
	}
	canonical, err := helpers.DocumentURL(req.URL)
	if err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid url: "+err.Error())
	}
	req.URL = canonical
	return req, nil
}

func (t *tracker) track(ctx context.Context, org, user string, req DocumentRequest) (DocumentResponse, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return DocumentResponse{}, err
	}
	content, err := t.fetcher.Fetch(ctx, req.Method, req.URL, org)
	if err != nil {
		return DocumentResponse{}, err
	}
	doc, created, err := t.store.UpsertDocument(ctx, store.Document{
		OrgID:     org,
		URL:       req.URL,
		Method:    req.Method,
		Title:     content.Title,
		Favicon:   content.Favicon,
		Content:   content.Text,
		CreatedBy: user,
	})
	if err != nil {
		return DocumentResponse{}, err
	}
	if t.index != nil {
		if err := t.index.Update(doc); err != nil {
			t.logger.Printf("org=%s index %s: %v", org, doc.ID, err)
		}
	}
	resp := DocumentResponse{Document: doc, Created: created}
	if !created {
		return resp, nil
	}
	events, err := t.store.InsertEvents(ctx, []store.Event{{OrgID: org, DocID: doc.ID, Type: store.EventAdd}})
	if err != nil {
		t.logger.Printf("org=%s add event for %s: %v", org, doc.ID, err)
		return resp, nil
	}
	if t.notifier != nil {
		rep := t.notifier.DispatchEvents(ctx, org, events)
		resp.Notified = &rep
	}
	return resp, nil
}

// DocumentsHandler manages tracked documents and their search.
type DocumentsHandler struct {
	Store   *store.Store
	Index   SearchIndex
	tracker *tracker
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.GET("/documents", h.list)
	g.POST("/documents", h.create)
	g.POST("/documents/preview", h.preview)
	g.DELETE("/documents/:id", h.remove)
	g.GET("/documents/:id/events", h.events)
	g.GET("/search", h.search)
}

func (h *DocumentsHandler) list(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	docs, err := h.Store.ListDocuments(c.Request().Context(), org)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []store.Document{}
	}
	// snapshots can be large; the list only carries metadata
	for i := range docs {
		docs[i].Content = ""
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *DocumentsHandler) create(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	resp, err := h.tracker.track(c.Request().Context(), org, userID(c), req)
	if err != nil {
		return err
	}
	code := http.StatusOK
	if resp.Created {
		code = http.StatusCreated
	}
	return c.JSON(code, resp)
}

func (h *DocumentsHandler) preview(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req, err = normalizeRequest(req); err != nil {
		return err
	}
	content, err := h.tracker.fetcher.Fetch(c.Request().Context(), req.Method, req.URL, org)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PreviewResponse{URL: req.URL, Title: content.Title, Favicon: content.Favicon, Content: content.Text})
}

func (h *DocumentsHandler) remove(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteDocument(c.Request().Context(), org, id); err != nil {
		return err
	}
	if h.Index != nil {
		if err := h.Index.Remove(id); err != nil {
			h.tracker.logger.Printf("org=%s unindex %s: %v", org, id, err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DocumentsHandler) events(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	events, err := h.Store.ListEvents(c.Request().Context(), org, id, limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []store.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (h *DocumentsHandler) search(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	if h.Index == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search index is not available")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	hits, err := h.Index.Search(org, q, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hits)
}
