package server

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/docwatch/internal/automation"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// AutomationsHandler manages notification rules.
type AutomationsHandler struct {
	Store *store.Store
}

func (h *AutomationsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.PATCH("/:id", h.toggle)
	g.DELETE("/:id", h.remove)
}

func (h *AutomationsHandler) list(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	recs, err := h.Store.ListAutomations(c.Request().Context(), org)
	if err != nil {
		return err
	}
	out := make([]automation.Automation, 0, len(recs))
	for _, r := range recs {
		out = append(out, automation.FromRecord(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AutomationsHandler) create(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	rule, err := automation.Decode(org, body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.CreatedBy = userID(c)
	ctx := c.Request().Context()
	if rule.Trigger.Kind == automation.TriggerDoc {
		if _, err := uuid.Parse(rule.Trigger.DocID); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown document "+rule.Trigger.DocID)
		}
		if _, err := h.Store.GetDocument(ctx, org, rule.Trigger.DocID); err != nil {
			return err
		}
	}
	rec, err := h.Store.CreateAutomation(ctx, rule.Record())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, automation.FromRecord(rec))
}

func (h *AutomationsHandler) toggle(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req ToggleRequest
	if err := c.Bind(&req); err != nil || req.IsActive == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "isActive is required")
	}
	rec, err := h.Store.SetAutomationActive(c.Request().Context(), org, id, *req.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, automation.FromRecord(rec))
}

func (h *AutomationsHandler) remove(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteAutomation(c.Request().Context(), org, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
