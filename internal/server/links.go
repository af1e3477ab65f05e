package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/docwatch/internal/fetch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// createDocID asks POST /api/links to track DocURL before linking.
const createDocID = "create"

// LinksHandler manages code links.
type LinksHandler struct {
	Store   *store.Store
	tracker *tracker
}

func (h *LinksHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.DELETE("/:id", h.remove)
}

func (h *LinksHandler) list(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	docID := c.QueryParam("docId")
	if _, err := uuid.Parse(docID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "docId is required")
	}
	links, err := h.Store.ListCodeLinksByDoc(c.Request().Context(), org, docID)
	if err != nil {
		return err
	}
	if links == nil {
		links = []store.CodeLink{}
	}
	return c.JSON(http.StatusOK, links)
}

func (h *LinksHandler) create(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	var req LinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()

	link := linkFromRequest(req)
	link.OrgID = org
	if err := store.ValidateCodeLink(withDoc(link)); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	switch req.DocID {
	case createDocID:
		if req.DocURL == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "docUrl is required when docId is create")
		}
		resp, err := h.tracker.track(ctx, org, userID(c), DocumentRequest{URL: req.DocURL, Method: store.MethodWeb})
		if err != nil {
			return err
		}
		link.DocID = resp.Document.ID
	default:
		if _, err := uuid.Parse(req.DocID); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid docId")
		}
		if _, err := h.Store.GetDocument(ctx, org, req.DocID); err != nil {
			return err
		}
		link.DocID = req.DocID
	}

	saved, err := h.Store.UpsertCodeLink(ctx, link)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saved)
}

// withDoc fills a placeholder document so a link can be validated before
// its document exists.
func withDoc(l store.CodeLink) store.CodeLink {
	if l.DocID == "" {
		l.DocID = createDocID
	}
	return l
}

// linkFromRequest copies the request and fills owner, repo, branch and path
// from a GitHub file url when the caller left them out.
func linkFromRequest(req LinkRequest) store.CodeLink {
	l := store.CodeLink{
		Provider: req.Provider,
		File:     req.File,
		GitOrg:   req.GitOrg,
		Repo:     req.Repo,
		Branch:   req.Branch,
		Type:     req.Type,
		Line:     req.Line,
		EndLine:  req.EndLine,
		SHA:      req.SHA,
		URL:      req.URL,
	}
	if l.Type == "" {
		l.Type = store.LinkFile
	}
	if ref, err := fetch.ParseFileURL(req.URL); err == nil {
		if l.GitOrg == "" {
			l.GitOrg = ref.Owner
		}
		if l.Repo == "" {
			l.Repo = ref.Repo
		}
		if l.Branch == "" {
			l.Branch = ref.Ref
		}
		if l.File == "" {
			l.File = ref.Path
		}
	}
	return l
}

func (h *LinksHandler) remove(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteCodeLink(c.Request().Context(), org, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
