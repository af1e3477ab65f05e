package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// ScanHandler enqueues scan passes and reports job state.
type ScanHandler struct {
	Queue ScanQueue
}

func (h *ScanHandler) Register(g *echo.Group) {
	g.POST("", h.enqueue)
	g.GET("/:id", h.status)
}

func (h *ScanHandler) enqueue(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	id, err := h.Queue.EnqueueScan(c.Request().Context(), org)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, JobResponse{JobID: id})
}

func (h *ScanHandler) status(c echo.Context) error {
	org, err := orgID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	st, err := h.Queue.GetScanStatus(c.Request().Context(), id)
	if err != nil {
		return err
	}
	// jobs of other organizations do not exist for the caller
	if st.OrgID != org {
		return store.ErrNotFound
	}
	return c.JSON(http.StatusOK, st)
}

// pathID reads the :id parameter. Ids that are not uuids cannot name a row.
func pathID(c echo.Context) (string, error) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", store.ErrNotFound
	}
	return id, nil
}
