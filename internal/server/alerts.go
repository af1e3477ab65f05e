package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/docwatch/internal/alerts"
	"github.com/mohammad-safakhou/docwatch/internal/linkmatch"
	"github.com/mohammad-safakhou/docwatch/internal/patch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// alertEngine turns a change set into alerts for the linked documents.
type alertEngine struct {
	store  *store.Store
	github PullRequests
	logger *log.Logger
}

type changeSet struct {
	Owner      string
	Repo       string
	BaseSHA    string
	Files      []linkmatch.ChangedFile
	Candidates []alerts.Candidate
}

func (e *alertEngine) evaluate(ctx context.Context, org string, cs changeSet) ([]alerts.Alert, error) {
	all, err := e.store.ListCodeLinksByRepo(ctx, org, cs.Repo)
	if err != nil {
		return nil, err
	}
	// repo names are not unique across owners
	links := all[:0]
	for _, l := range all {
		if l.GitOrg == "" || strings.EqualFold(l.GitOrg, cs.Owner) {
			links = append(links, l)
		}
	}

	var baseline linkmatch.BaselineFunc
	if e.github != nil && cs.BaseSHA != "" {
		baseline = e.github.Baseline(cs.Owner, cs.Repo, cs.BaseSHA)
	}
	matches := linkmatch.New(baseline, e.logger).Match(ctx, cs.Files, links)
	if len(matches) == 0 && len(cs.Candidates) == 0 {
		return []alerts.Alert{}, nil
	}
	docs, err := e.store.DocumentsByID(ctx, org, alerts.DocumentIDs(matches, cs.Candidates))
	if err != nil {
		return nil, err
	}
	return alerts.Format(matches, docs, cs.Candidates), nil
}

// AlertsHandler evaluates change sets submitted by clients.
type AlertsHandler struct {
	engine *alertEngine
}

func (h *AlertsHandler) Register(g *echo.Group) {
	g.POST("", h.evaluate)
}

func (h *AlertsHandler) evaluate(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	var req AlertsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Owner == "" || req.Repo == "" || len(req.Files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "owner, repo and files are required")
	}
	cs := changeSet{Owner: req.Owner, Repo: req.Repo, BaseSHA: req.BaseSHA, Candidates: req.Candidates}
	for _, f := range req.Files {
		cs.Files = append(cs.Files, linkmatch.ChangedFile{Path: f.Filename, Patch: patch.Parse(f.Patch)})
	}
	list, err := h.engine.evaluate(c.Request().Context(), org, cs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AlertsResponse{Alerts: list})
}
